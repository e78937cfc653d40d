package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskgate/telemetry"
)

// Event is the JSON envelope published for every state change.
type Event struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Time  time.Time         `json:"time"`
	Trace map[string]string `json:"trace,omitempty"`
	Data  json.RawMessage   `json:"data,omitempty"`
}

// DecodeData unmarshals the event payload into v.
func (e *Event) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// Context returns ctx carrying the trace context the event was published
// under.
func (e *Event) Context(ctx context.Context) context.Context {
	if len(e.Trace) == 0 {
		return ctx
	}
	return telemetry.ExtractContext(ctx, telemetry.MapCarrier(e.Trace))
}

// DecodeEvent parses a bus message into an Event.
func DecodeEvent(msg *Message) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil, fmt.Errorf("decode event on %s: %w", msg.Subject, err)
	}
	return &ev, nil
}

// Publisher publishes typed events under a subject prefix. A nil Publisher
// or one without a bus discards events.
type Publisher struct {
	bus    MessageBus
	prefix string
}

// NewPublisher creates a publisher for subjects "<prefix>.<topic>".
func NewPublisher(b MessageBus, prefix string) *Publisher {
	if prefix == "" {
		prefix = "taskgate"
	}
	return &Publisher{bus: b, prefix: prefix}
}

// Subject returns the full subject for a topic.
func (p *Publisher) Subject(topic string) string {
	return p.prefix + "." + topic
}

// Publish wraps data in an Event and publishes it on "<prefix>.<topic>".
func (p *Publisher) Publish(ctx context.Context, topic, eventType string, data interface{}) error {
	if p == nil || p.bus == nil {
		return nil
	}

	ev := Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", eventType, err)
		}
		ev.Data = raw
	}
	carrier := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	if len(carrier) > 0 {
		ev.Trace = carrier
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.bus.Publish(p.Subject(topic), payload)
}
