package records

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps records in process, optionally expiring them.
type MemoryStore struct {
	cache *cache.Cache
	now   func() time.Time
}

// NewMemoryStore returns a store whose records expire after ttl; zero keeps them forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
	}
	return &MemoryStore{cache: cache.New(expiration, cleanup), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, record Record) (Record, error) {
	r, err := prepare(record, s.now())
	if err != nil {
		return Record{}, err
	}
	s.cache.Set(r.ID, r, cache.DefaultExpiration)
	return r, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	return v.(Record), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Record, error) {
	limit = clampLimit(limit)
	out := make([]Record, 0)
	for _, item := range s.cache.Items() {
		r, ok := item.Object.(Record)
		if !ok || r.UserID != userID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
