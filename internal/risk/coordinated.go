package risk

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultCoordinatedWindow    = 5 * time.Minute
	DefaultCoordinatedThreshold = 3
)

// WindowEvent is one drifted action kept in the coordinated window.
type WindowEvent struct {
	ObservedAt time.Time `json:"observedAt"`
	EntityID   string    `json:"entityId"`
	Action     string    `json:"action"`
	Delta      float64   `json:"delta"`
}

// CoordinatedSignal reports how many distinct entities drifted the same
// action upward inside the window.
type CoordinatedSignal struct {
	Type        string `json:"type"`
	Detected    bool   `json:"detected"`
	EntityCount int    `json:"entityCount"`
}

// Window stores recent events. Record appends ev, drops events older than
// span relative to ev.ObservedAt, and returns the events that remain. The
// three steps must happen as one unit with respect to other callers.
type Window interface {
	Record(ctx context.Context, ev WindowEvent, span time.Duration) ([]WindowEvent, error)
}

// MemoryWindow is an in-process Window guarded by a mutex.
type MemoryWindow struct {
	mu     sync.Mutex
	events []WindowEvent
}

// NewMemoryWindow creates an empty in-process window.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{}
}

func (w *MemoryWindow) Record(_ context.Context, ev WindowEvent, span time.Duration) ([]WindowEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.events = append(w.events, ev)

	kept := w.events[:0]
	for _, e := range w.events {
		if ev.ObservedAt.Sub(e.ObservedAt) <= span {
			kept = append(kept, e)
		}
	}
	w.events = kept

	out := make([]WindowEvent, len(kept))
	copy(out, kept)
	return out, nil
}

// Len returns the number of retained events.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// CoordinatedDetector flags many distinct actors drifting the same action
// upward within a short window.
type CoordinatedDetector struct {
	window    Window
	span      time.Duration
	threshold int
	now       func() time.Time
}

// CoordinatedOption configures a CoordinatedDetector.
type CoordinatedOption func(*CoordinatedDetector)

// WithSpan sets the window duration.
func WithSpan(d time.Duration) CoordinatedOption {
	return func(c *CoordinatedDetector) {
		if d > 0 {
			c.span = d
		}
	}
}

// WithEntityThreshold sets how many distinct entities trigger detection.
func WithEntityThreshold(n int) CoordinatedOption {
	return func(c *CoordinatedDetector) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoordinatedOption {
	return func(c *CoordinatedDetector) { c.now = now }
}

// NewCoordinatedDetector creates a detector over the given window store.
// A nil window uses an in-process MemoryWindow.
func NewCoordinatedDetector(window Window, opts ...CoordinatedOption) *CoordinatedDetector {
	if window == nil {
		window = NewMemoryWindow()
	}
	d := &CoordinatedDetector{
		window:    window,
		span:      DefaultCoordinatedWindow,
		threshold: DefaultCoordinatedThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Record adds one observation and evaluates the window for its action.
func (d *CoordinatedDetector) Record(ctx context.Context, entityID, action string, delta float64) (CoordinatedSignal, error) {
	ev := WindowEvent{ObservedAt: d.now(), EntityID: entityID, Action: action, Delta: delta}

	events, err := d.window.Record(ctx, ev, d.span)
	if err != nil {
		return CoordinatedSignal{}, err
	}

	entities := make(map[string]struct{})
	for _, e := range events {
		if e.Action == action && e.Delta > 0 {
			entities[e.EntityID] = struct{}{}
		}
	}

	return CoordinatedSignal{
		Type:        string(SourceCoordinatedDrift),
		Detected:    len(entities) >= d.threshold,
		EntityCount: len(entities),
	}, nil
}
