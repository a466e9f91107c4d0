package memory

import (
	"context"
	"sync"
	"time"

	"github.com/docs-agent/backend/internal/kv"
)

type Store struct {
	mu     sync.RWMutex
	values map[string]map[string][]byte
	locks  map[string]time.Time
	now    func() time.Time
}

var (
	_ kv.Store  = (*Store)(nil)
	_ kv.Locker = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		values: make(map[string]map[string][]byte),
		locks:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *Store) Get(ctx context.Context, store, key string) (kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		return kv.Entry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[store][key]
	if !ok {
		return kv.Entry{}, nil
	}
	return kv.Entry{Exists: true, Value: append([]byte(nil), v...)}, nil
}

func (s *Store) Set(ctx context.Context, store, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.values[store]
	if !ok {
		bucket = make(map[string][]byte)
		s.values[store] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

// Lock holds name until unlocked or until ttl elapses.
func (s *Store) Lock(ctx context.Context, name string, ttl time.Duration) (kv.UnlockFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, held := s.locks[name]; held && now.Before(expires) {
		return nil, kv.ErrLockHeld
	}
	expires := now.Add(ttl)
	s.locks[name] = expires

	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.locks[name].Equal(expires) {
			delete(s.locks, name)
		}
		return nil
	}, nil
}
