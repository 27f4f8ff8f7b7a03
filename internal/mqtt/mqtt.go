// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/logic"
)

// Publisher publishes completed pairs and lifecycle events to MQTT.
type Publisher interface {
	// Publish sends one completed pair to the broker.
	// Returns error if publishing fails (should not stop processing).
	Publish(pair logic.CompletedPair, runID string) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventOffline     = "OFFLINE"
	EventReconnected = "RECONNECTED"
	EventRunStarted  = "RUN_STARTED"
	EventRunFinished = "RUN_FINISHED"
	EventFileSkipped = "FILE_SKIPPED"
)

// SystemEvent represents a system lifecycle event (e.g., startup, run finished).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g., "SIGTERM", or why a file was skipped
	RunID      string
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a completed pair.
type Payload struct {
	Pair PairPayload `json:"pair"`
}

// PairPayload contains the pair details. Times use the result file layout.
type PairPayload struct {
	Name       string `json:"name"`
	XTime      string `json:"x_time"`
	YTime      string `json:"y_time"`
	DurationMs int64  `json:"duration_ms"`
	RunID      string `json:"run_id,omitempty"`
}

// FormatPayload creates the JSON payload for a completed pair.
func FormatPayload(pair logic.CompletedPair, runID string) ([]byte, error) {
	payload := Payload{
		Pair: PairPayload{
			Name:       pair.Name,
			XTime:      csvfmt.FormatTime(pair.XTime),
			YTime:      csvfmt.FormatTime(pair.YTime),
			DurationMs: pair.DurationMs,
			RunID:      runID,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			RunID:     event.RunID,
		},
	}
	return json.Marshal(payload)
}
