// Package kv defines the key-value storage used for indexing state and
// query history. Values are opaque bytes grouped under a named store.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrLockHeld = errors.New("lock is held by another owner")

// Entry is the result of a lookup. Exists is false for keys never set.
type Entry struct {
	Exists bool
	Value  []byte
}

// Text returns the value as a string, or "" when the key does not exist.
func (e Entry) Text() string {
	if !e.Exists {
		return ""
	}
	return string(e.Value)
}

type Store interface {
	Get(ctx context.Context, store, key string) (Entry, error)
	Set(ctx context.Context, store, key string, value []byte) error
}

// ListAppender is implemented by backends that can append to a list
// atomically across processes.
type ListAppender interface {
	AppendList(ctx context.Context, store, key string, value []byte) (int, error)
	ReadList(ctx context.Context, store, key string) ([][]byte, error)
}

// UnlockFunc releases a lock acquired through Locker.
type UnlockFunc func(ctx context.Context) error

type Locker interface {
	// Lock acquires name for at most ttl. It returns ErrLockHeld when
	// another owner holds it.
	Lock(ctx context.Context, name string, ttl time.Duration) (UnlockFunc, error)
}
