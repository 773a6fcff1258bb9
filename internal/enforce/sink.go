package enforce

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ocx/uaal/internal/events"
)

// EventSource is the CloudEvents source of every decision event.
const EventSource = "/uaal/firewall"

// Sink receives decision records. Send is called from a background
// goroutine with a bounded context; errors are logged, never returned to
// the pipeline.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec DecisionRecord) error
}

// Deliverer posts a serialized payload somewhere.
// webhooks.Sender and webhooks.CloudTasksSender satisfy it.
type Deliverer interface {
	Deliver(ctx context.Context, eventType, eventID string, payload []byte) error
}

// DeliverySink sends the JSON decision record through a Deliverer.
type DeliverySink struct {
	name string
	d    Deliverer
}

// NewDeliverySink names a deliverer for logs and circuit breaking.
func NewDeliverySink(name string, d Deliverer) *DeliverySink {
	return &DeliverySink{name: name, d: d}
}

func (s *DeliverySink) Name() string { return s.name }

func (s *DeliverySink) Send(ctx context.Context, rec DecisionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", rec.ID, err)
	}
	return s.d.Deliver(ctx, rec.EventType(), rec.ID, payload)
}

// EventSink wraps the record in a CloudEvent and hands it to a publisher,
// the in-memory bus or Pub/Sub.
type EventSink struct {
	name string
	pub  events.Publisher
}

// NewEventSink creates an event sink.
func NewEventSink(name string, pub events.Publisher) *EventSink {
	return &EventSink{name: name, pub: pub}
}

func (s *EventSink) Name() string { return s.name }

func (s *EventSink) Send(ctx context.Context, rec DecisionRecord) error {
	ev, err := events.NewCloudEvent(rec.EventType(), EventSource, rec.UserID, rec)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", rec.ID, err)
	}
	ev.ID = rec.ID
	return s.pub.Publish(ctx, ev)
}

// ChannelPublisher publishes raw bytes on a named channel.
// infra.GoRedisAdapter satisfies it.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// ChannelSink publishes the CloudEvent JSON on a Redis channel.
type ChannelSink struct {
	channel string
	pub     ChannelPublisher
}

// NewChannelSink creates a sink for channel.
func NewChannelSink(channel string, pub ChannelPublisher) *ChannelSink {
	return &ChannelSink{channel: channel, pub: pub}
}

func (s *ChannelSink) Name() string { return "redis:" + s.channel }

func (s *ChannelSink) Send(ctx context.Context, rec DecisionRecord) error {
	ev, err := events.NewCloudEvent(rec.EventType(), EventSource, rec.UserID, rec)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", rec.ID, err)
	}
	ev.ID = rec.ID
	raw, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", rec.ID, err)
	}
	return s.pub.Publish(ctx, s.channel, raw)
}
