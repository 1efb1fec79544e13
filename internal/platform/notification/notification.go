// Package notification publishes record-change events after a write has
// committed. Delivery is best effort: a failed publish is logged by the
// caller and never affects the HTTP response.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event names.
const (
	ComplaintCreated = "complaint.created"
	ComplaintUpdated = "complaint.updated"
	ComplaintDeleted = "complaint.deleted"
	FeedbackCreated  = "feedback.created"
	FeedbackUpdated  = "feedback.updated"
	FeedbackDeleted  = "feedback.deleted"
)

// Streams are the topic suffixes events are published under.
const (
	StreamComplaints = "complaints"
	StreamFeedback   = "feedback"
)

// Event is the payload sent for every committed change.
type Event struct {
	Event string    `json:"event"`
	ID    int64     `json:"id"`
	At    time.Time `json:"at"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(name string, id int64) Event {
	return Event{Event: name, ID: id, At: time.Now().UTC()}
}

// Publisher sends an event to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, e Event) error
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, Event) error { return nil }

// MQTTPublisher publishes events as JSON to "<prefix>/<stream>" with QoS 1.
type MQTTPublisher struct {
	client      mqtt.Client
	prefix      string
	waitTimeout time.Duration
}

func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, waitTimeout: 2 * time.Second}
}

// DialMQTT connects to broker and returns the client. The client reconnects
// on its own after the first successful connection.
func DialMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, err)
	}
	return client, nil
}

// Topic returns the full topic for stream.
func (p *MQTTPublisher) Topic(stream string) string {
	if p.prefix == "" {
		return stream
	}
	return p.prefix + "/" + stream
}

func (p *MQTTPublisher) Publish(ctx context.Context, stream string, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := p.Topic(stream)
	token := p.client.Publish(topic, 1, false, payload)

	wait := p.waitTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects the underlying client, allowing in-flight work 250ms.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Published records a single call to Publish.
type Published struct {
	Stream string
	Event  Event
}

// MockPublisher is a test double for Publisher.
type MockPublisher struct {
	mu         sync.Mutex
	calls      []Published
	ShouldFail bool
}

// Publish records the call and optionally returns an error.
func (m *MockPublisher) Publish(_ context.Context, stream string, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Published{Stream: stream, Event: e})
	if m.ShouldFail {
		return errors.New("broker unavailable")
	}
	return nil
}

// Calls returns a copy of recorded publishes.
func (m *MockPublisher) Calls() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.calls))
	copy(out, m.calls)
	return out
}

// Names returns the event names published so far, in order.
func (m *MockPublisher) Names() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Event.Event
	}
	return out
}
