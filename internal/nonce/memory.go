package nonce

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps nonces in process memory. Records are evicted once they
// have been expired for longer than the retention window, so a late consume
// still reports ErrExpired rather than ErrNotFound for a while.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]Record
	values    map[string]string // value -> id
	evictions evictionQueue
	retention time.Duration
}

// NewMemoryStore returns an empty MemoryStore. A non-positive retention
// defaults to DefaultTTL.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultTTL
	}
	return &MemoryStore{
		entries:   make(map[string]Record),
		values:    make(map[string]string),
		retention: retention,
	}
}

func (s *MemoryStore) Put(_ context.Context, rec Record, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gcLocked(now)

	if _, ok := s.entries[rec.ID]; ok {
		return ErrDuplicateID
	}
	if _, ok := s.values[rec.Value]; ok {
		return ErrDuplicateValue
	}
	s.entries[rec.ID] = rec
	s.values[rec.Value] = rec.ID
	heap.Push(&s.evictions, eviction{id: rec.ID, at: rec.ExpiresAt.Add(s.retention)})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Consume(_ context.Context, id string, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if err := checkConsumable(rec, now); err != nil {
		return rec, err
	}
	rec.Used = true
	s.entries[id] = rec
	return rec, nil
}

// Len returns the number of retained records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

// gcLocked drops records whose retention has run out. Only due entries are
// touched, so a Put costs O(log n) plus the evictions it performs.
func (s *MemoryStore) gcLocked(now time.Time) {
	for len(s.evictions) > 0 && now.After(s.evictions[0].at) {
		e := heap.Pop(&s.evictions).(eviction)
		if rec, ok := s.entries[e.id]; ok {
			delete(s.entries, e.id)
			delete(s.values, rec.Value)
		}
	}
}

type eviction struct {
	id string
	at time.Time
}

// evictionQueue is a min-heap on eviction time.
type evictionQueue []eviction

func (q evictionQueue) Len() int           { return len(q) }
func (q evictionQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q evictionQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *evictionQueue) Push(x any)        { *q = append(*q, x.(eviction)) }

func (q *evictionQueue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	return e
}
