package store

import (
	"context"
	"sync"
	"time"

	"suiverify/internal/otp/models"
	psync "suiverify/pkg/platform/sync"
)

// InMemoryStore keeps records in a map. Updates to the same key are
// serialized through a sharded lock so a slow UpdateFunc never blocks
// unrelated keys.
type InMemoryStore struct {
	keys    *psync.ShardedMutex
	mu      sync.RWMutex
	records map[string]*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		keys:    psync.NewShardedMutex(),
		records: make(map[string]*models.Record),
	}
}

// Get returns a copy of the record stored under key.
func (s *InMemoryStore) Get(_ context.Context, key string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *InMemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.keys.Do(key, func() error {
		s.mu.RLock()
		current := clone(s.records[key])
		s.mu.RUnlock()

		change, err := fn(current)

		s.mu.Lock()
		switch {
		case change.Delete:
			delete(s.records, key)
		case change.Save != nil:
			s.records[key] = clone(change.Save)
		}
		s.mu.Unlock()
		return err
	})
}

// DeleteExpired removes every record whose expiry is before now.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
