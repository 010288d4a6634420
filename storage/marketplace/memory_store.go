package marketplace

import (
	"context"
	"sync"

	"builderbuddy-backend/core/marketplace"
)

// DefaultMemoryEvents bounds the in-memory journal.
const DefaultMemoryEvents = 10000

// MemoryStore keeps the journal and the latest snapshot in process.
// The single RWMutex covers both.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []marketplace.Event
	maxEvents int
	snapSeq   uint64
	snapshot  []byte
}

// NewMemoryStore keeps at most maxEvents events, dropping the oldest.
func NewMemoryStore(maxEvents int) *MemoryStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMemoryEvents
	}
	return &MemoryStore{maxEvents: maxEvents}
}

func (s *MemoryStore) AppendEvent(ctx context.Context, evt marketplace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	if len(s.events) > s.maxEvents {
		s.events = append([]marketplace.Event(nil), s.events[len(s.events)-s.maxEvents:]...)
	}
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]marketplace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Event
	for _, evt := range s.events {
		if filter.Matches(evt) {
			out = append(out, evt)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, seq uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.snapSeq {
		return nil
	}
	s.snapSeq = seq
	s.snapshot = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context) (uint64, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return 0, nil, ErrNoSnapshot
	}
	return s.snapSeq, append([]byte(nil), s.snapshot...), nil
}

func (s *MemoryStore) Close() {}
