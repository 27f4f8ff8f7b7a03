package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	RunID         string      `json:"run_id,omitempty"`
	Running       bool        `json:"running"`
	Runs          int         `json:"runs"`
	Pending       int         `json:"pending"`
	Progress      int         `json:"progress"`
	LastFile      string      `json:"last_file,omitempty"`
	LastRunAt     string      `json:"last_run_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	OpenInputs    int         `json:"open_inputs"`
	CorruptState  bool        `json:"corrupt_state"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Totals        TotalsJSON  `json:"totals"`
	Config        ConfigJSON  `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// TotalsJSON is the JSON representation of the counters since start.
type TotalsJSON struct {
	FilesCommitted int `json:"files_committed"`
	FilesSkipped   int `json:"files_skipped"`
	Pairs          int `json:"pairs"`
	Inputs         int `json:"inputs"`
	Outputs        int `json:"outputs"`
	FilteredShort  int `json:"filtered_short"`
	FilteredLong   int `json:"filtered_long"`
	Orphans        int `json:"orphans"`
}

// ConfigJSON is the JSON representation of the displayed config.
type ConfigJSON struct {
	BaseDir       string `json:"base_dir"`
	OutputDir     string `json:"output_dir"`
	DebounceN     int    `json:"debounce_n"`
	MinDurationMs int64  `json:"duration_min_ms"`
	MaxDurationMs int64  `json:"duration_max_ms"`
	Broker        string `json:"broker,omitempty"`
	HTTPAddr      string `json:"http_addr,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		RunID:         snap.RunID,
		Running:       snap.Running,
		Runs:          snap.Runs,
		Pending:       snap.Pending,
		Progress:      snap.Progress,
		LastFile:      snap.LastFile,
		LastError:     snap.LastError,
		OpenInputs:    snap.OpenInputs,
		CorruptState:  snap.CorruptState,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Totals: TotalsJSON{
			FilesCommitted: snap.FilesCommitted,
			FilesSkipped:   snap.FilesSkipped,
			Pairs:          snap.Pairs,
			Inputs:         snap.Stats.Inputs,
			Outputs:        snap.Stats.Outputs,
			FilteredShort:  snap.Stats.FilteredShort,
			FilteredLong:   snap.Stats.FilteredLong,
			Orphans:        snap.Stats.Orphans,
		},
		Config: ConfigJSON{
			BaseDir:       snap.Config.BaseDir,
			OutputDir:     snap.Config.OutputDir,
			DebounceN:     snap.Config.DebounceN,
			MinDurationMs: snap.Config.MinDurationMs,
			MaxDurationMs: snap.Config.MaxDurationMs,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
		},
	}
	if !snap.LastRunAt.IsZero() {
		inner.LastRunAt = snap.LastRunAt.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
