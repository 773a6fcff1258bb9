// Package store keeps the ordered, append-only log of analysis records.
package store

import (
	"context"
	"sync"

	"github.com/ocx/uaal/internal/analysis"
)

// Store is an append-only analysis log. List returns records in insertion
// order.
type Store interface {
	Append(ctx context.Context, rec analysis.Record) error
	List(ctx context.Context) ([]analysis.Record, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// DefaultCapacity bounds the in-memory ring.
const DefaultCapacity = 10000

// RingStore keeps the most recent records in memory. Once full, each
// append evicts the oldest record.
type RingStore struct {
	mu      sync.RWMutex
	buf     []analysis.Record
	next    int
	full    bool
	evicted uint64
}

// NewRingStore creates a ring holding at most capacity records.
func NewRingStore(capacity int) *RingStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingStore{buf: make([]analysis.Record, capacity)}
}

func (s *RingStore) Append(_ context.Context, rec analysis.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.full {
		s.evicted++
	}
	s.buf[s.next] = rec.Clone()
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *RingStore) List(_ context.Context) ([]analysis.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []analysis.Record
	if s.full {
		out = make([]analysis.Record, 0, len(s.buf))
		out = appendClones(out, s.buf[s.next:])
	} else {
		out = make([]analysis.Record, 0, s.next)
	}
	return appendClones(out, s.buf[:s.next]), nil
}

func appendClones(dst, src []analysis.Record) []analysis.Record {
	for _, rec := range src {
		dst = append(dst, rec.Clone())
	}
	return dst
}

func (s *RingStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.buf), nil
	}
	return s.next, nil
}

// Evicted returns how many records were pushed out of the ring.
func (s *RingStore) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

func (s *RingStore) Close() error { return nil }
