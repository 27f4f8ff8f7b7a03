package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/signal-pairer/internal/logic"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 1000

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	Topic       string
	SystemTopic string
	BufferSize  int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	connect     paho.Token
	topic       string
	systemTopic string

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
}

// NewRealPublisher creates a publisher and starts connecting to the broker in
// the background. Messages published before the connection is up are buffered.
func NewRealPublisher(o Options) *RealPublisher {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		topic:       o.Topic,
		systemTopic: o.SystemTopic,
		buf:         newRingBuffer(o.BufferSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline})

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(o.SystemTopic, will, 1, false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	p.connect = p.client.Connect()
	return p
}

// WaitConnected blocks until the first connection is established or d
// elapses, and reports whether the publisher is connected.
func (p *RealPublisher) WaitConnected(d time.Duration) bool {
	if !p.connect.WaitTimeout(d) {
		return false
	}
	return p.connect.Error() == nil && p.client.IsConnectionOpen()
}

// onConnect runs on a paho goroutine after every (re)connection.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		slog.Info("mqtt: replaying buffered messages", "count", len(pending))
	}
	for _, m := range pending {
		if err := p.send(m); err != nil {
			slog.Warn("mqtt: replay failed", "topic", m.topic, "kind", m.kind, "run_id", m.runID, "err", err)
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		if err := p.send(bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, kind: EventReconnected}); err != nil {
			slog.Warn("mqtt: publish reconnect event failed", "err", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	slog.Warn("mqtt: connection lost, buffering until reconnect", "err", err)
}

// Publish sends a completed pair to the MQTT broker.
func (p *RealPublisher) Publish(pair logic.CompletedPair, runID string) error {
	payload, err := FormatPayload(pair, runID)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 (at-least-once)
	return p.publish(bufferedMsg{topic: p.topic, payload: payload, qos: 1, kind: pair.Name, runID: runID})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained, kind: event.Event, runID: event.RunID})
}

// publish sends m now or buffers it when the connection is down.
func (p *RealPublisher) publish(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.buffer(m)
		return nil
	}
	if err := p.send(m); err != nil {
		p.buffer(m)
		return err
	}
	return nil
}

// buffer holds m for replay. The first message lost to a full buffer is
// logged as a warning with the pair or event it carried; later ones until
// the next drain only at debug level.
func (p *RealPublisher) buffer(m bufferedMsg) {
	p.mu.Lock()
	first := !p.buf.overflow
	old, evicted := p.buf.push(m)
	capacity := p.buf.capacity
	p.mu.Unlock()

	if !evicted {
		return
	}
	attrs := []any{"kind", old.kind, "run_id", old.runID, "topic", old.topic}
	if first {
		slog.Warn("mqtt: buffer full, dropping oldest", append(attrs, "capacity", capacity)...)
		return
	}
	slog.Debug("mqtt: dropped buffered message", attrs...)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently holds a connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Dropped returns the number of messages lost to a full buffer.
func (p *RealPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.dropped
}

// Close disconnects from the broker. Messages still buffered are lost.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	ids, counts := p.buf.runs()
	dropped := p.buf.dropped
	p.mu.Unlock()
	for _, id := range ids {
		slog.Warn("mqtt: closing with undelivered messages", "run_id", id, "count", counts[id])
	}
	if dropped > 0 {
		slog.Warn("mqtt: messages were dropped while disconnected", "count", dropped)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
