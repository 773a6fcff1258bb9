// Package events carries decision events to live subscribers and, when
// configured, to a durable Pub/Sub topic.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision event types.
const (
	TypeDecisionAllow   = "uaal.decision.allow"
	TypeDecisionDeny    = "uaal.decision.deny"
	TypeDecisionBlocked = "uaal.decision.blocked"
)

// Publisher delivers one event. Both EventBus and PubSubEventBus satisfy it.
type Publisher interface {
	Publish(ctx context.Context, event *CloudEvent) error
}

// CloudEvent is the CloudEvents 1.0 envelope for all decision events.
type CloudEvent struct {
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	ID          string          `json:"id"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// NewCloudEvent marshals data into a CloudEvents 1.0 envelope.
func NewCloudEvent(eventType, source, subject string, data any) (*CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		Data:        raw,
	}, nil
}

// JSON serializes the event
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// EventBus is an in-process pub/sub event bus.
// Slow subscribers miss events rather than stall publishers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent // eventType -> channels
	allSubs     []chan *CloudEvent
	logger      *log.Logger
	bufferSize  int
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan *CloudEvent),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events of specific types.
// Pass empty eventTypes to receive ALL events.
func (eb *EventBus) Subscribe(eventTypes ...string) chan *CloudEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *CloudEvent, eb.bufferSize)
	if len(eventTypes) == 0 {
		eb.allSubs = append(eb.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			eb.subscribers[et] = append(eb.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan *CloudEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for et, subs := range eb.subscribers {
		eb.subscribers[et] = without(subs, ch)
	}
	eb.allSubs = without(eb.allSubs, ch)
	close(ch)
}

func without(subs []chan *CloudEvent, ch chan *CloudEvent) []chan *CloudEvent {
	filtered := make([]chan *CloudEvent, 0, len(subs))
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish sends an event to all matching subscribers. It never blocks and
// never fails.
func (eb *EventBus) Publish(_ context.Context, event *CloudEvent) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	dropped := 0
	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	for _, ch := range eb.allSubs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		eb.logger.Printf("⚠️  %d subscriber(s) full, dropped event %s", dropped, event.ID)
	}
	return nil
}

// SubscriberCount returns the total number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	count := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		count += len(subs)
	}
	return count
}
