package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SortedSetClient is the minimal Redis surface a shared window needs. The
// call must add member, trim everything scored below minScore and return the
// remaining members in one transaction.
type SortedSetClient interface {
	WindowAppend(ctx context.Context, key, member string, score, minScore float64, ttl time.Duration) ([]string, error)
}

// RedisWindow shares the coordinated window between several processes
// through a Redis sorted set scored by observation time in milliseconds.
type RedisWindow struct {
	client SortedSetClient
	key    string
}

type redisWindowMember struct {
	WindowEvent
	Nonce string `json:"nonce"`
}

// NewRedisWindow creates a window stored under key.
func NewRedisWindow(client SortedSetClient, key string) *RedisWindow {
	if key == "" {
		key = "uaal:coordinated:events"
	}
	return &RedisWindow{client: client, key: key}
}

func (w *RedisWindow) Record(ctx context.Context, ev WindowEvent, span time.Duration) ([]WindowEvent, error) {
	// The nonce keeps identical events from collapsing into one member.
	member, err := json.Marshal(redisWindowMember{WindowEvent: ev, Nonce: uuid.NewString()})
	if err != nil {
		return nil, fmt.Errorf("encode window event: %w", err)
	}

	score := float64(ev.ObservedAt.UnixMilli())
	minScore := float64(ev.ObservedAt.Add(-span).UnixMilli())

	members, err := w.client.WindowAppend(ctx, w.key, string(member), score, minScore, 2*span)
	if err != nil {
		return nil, fmt.Errorf("redis window append: %w", err)
	}

	events := make([]WindowEvent, 0, len(members))
	for _, m := range members {
		var decoded redisWindowMember
		if err := json.Unmarshal([]byte(m), &decoded); err != nil {
			slog.Warn("Skipping undecodable window member", "key", w.key, "error", err)
			continue
		}
		events = append(events, decoded.WindowEvent)
	}
	return events, nil
}
