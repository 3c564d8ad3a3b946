package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is a concurrency-safe in-memory record store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: kind, value: records in insertion order
	data map[Kind][]Record

	// retention configuration
	maxHistory int           // max number of records per kind
	maxAge     time.Duration // optional max age for records

	clock clockwork.Clock
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[Kind][]Record),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		clock:      clockwork.NewRealClock(),
	}
}

// WithClock sets the clock age retention is measured against.
func (s *MemoryStore) WithClock(clock clockwork.Clock) *MemoryStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Save appends a record and enforces retention.
func (s *MemoryStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.data[r.Kind], r)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.clock.Now().Add(-s.maxAge)
		history = slices.DeleteFunc(history, func(rec Record) bool {
			return rec.CreatedAt.Before(cutoff)
		})
	}

	s.data[r.Kind] = history
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, history := range s.data {
		for _, r := range history {
			if r.ID == id {
				return r, nil
			}
		}
	}
	return Record{}, ErrNotFound
}

// ListRecent returns records ordered by creation time, newest first.
func (s *MemoryStore) ListRecent(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for kind, history := range s.data {
		if f.Kind != "" && kind != f.Kind {
			continue
		}
		out = append(out, history...)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}
