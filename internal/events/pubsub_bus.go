package events

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// DefaultTopic receives every decision record.
const DefaultTopic = "uaal-decisions"

// PubSubEventBus wraps the in-memory EventBus and also publishes every event
// to a Google Cloud Pub/Sub topic for durable, cross-service delivery.
//
//	bus, err := events.NewPubSubEventBus(ctx, "my-project", events.DefaultTopic)
//	err = bus.Publish(ctx, event)
//	defer bus.Close()
type PubSubEventBus struct {
	*EventBus // live subscribers still work

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubEventBus creates a Pub/Sub-backed event bus.
// It creates the topic if it does not exist.
func NewPubSubEventBus(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubEventBus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	bus, err := NewPubSubEventBusWithClient(ctx, client, topicID)
	if err != nil {
		client.Close()
		return nil, err
	}
	bus.logger.Printf("✅ Connected to Pub/Sub topic: projects/%s/topics/%s", projectID, topicID)
	return bus, nil
}

// NewPubSubEventBusWithClient uses an existing client. The bus owns the
// client afterwards and closes it in Close.
func NewPubSubEventBusWithClient(ctx context.Context, client *pubsub.Client, topicID string) (*PubSubEventBus, error) {
	if topicID == "" {
		topicID = DefaultTopic
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("Created Pub/Sub topic", "topic_id", topicID)
	}

	// Per-subject ordering keeps one user's decisions in sequence.
	topic.EnableMessageOrdering = true

	return &PubSubEventBus{
		EventBus: NewEventBus(),
		client:   client,
		topic:    topic,
		logger:   log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}, nil
}

// Publish sends the event to Pub/Sub and waits for the server id, then
// fans out to in-memory subscribers. Only the Pub/Sub leg can fail.
func (pb *PubSubEventBus) Publish(ctx context.Context, event *CloudEvent) error {
	payload, err := event.JSON()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": event.SpecVersion,
			"ce-type":        event.Type,
			"ce-source":      event.Source,
			"ce-id":          event.ID,
			"ce-time":        event.Time.Format(time.RFC3339Nano),
			"ce-subject":     event.Subject,
		},
		OrderingKey: event.Subject,
	}

	serverID, err := pb.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if event.Subject != "" {
			pb.topic.ResumePublish(event.Subject)
		}
		return fmt.Errorf("pubsub publish %s: %w", event.ID, err)
	}
	pb.logger.Printf("📤 Published event %s → msgID=%s (type=%s)", event.ID, serverID, event.Type)

	return pb.EventBus.Publish(ctx, event)
}

// Close flushes pending messages and shuts down the Pub/Sub client.
func (pb *PubSubEventBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	pb.logger.Printf("🔌 Pub/Sub client closed")
	return nil
}

// TopicPath returns the fully-qualified Pub/Sub topic path.
func (pb *PubSubEventBus) TopicPath() string {
	return pb.topic.String()
}

// HealthCheck verifies the Pub/Sub topic is reachable.
func (pb *PubSubEventBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

var (
	_ Publisher = (*EventBus)(nil)
	_ Publisher = (*PubSubEventBus)(nil)
)
