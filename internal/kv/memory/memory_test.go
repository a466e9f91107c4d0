package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docs-agent/backend/internal/kv"
)

func TestGetMissingKey(t *testing.T) {
	s := NewStore()

	entry, err := s.Get(context.Background(), "state", "docs-indexed")
	require.NoError(t, err)
	assert.False(t, entry.Exists)
	assert.Equal(t, "", entry.Text())
}

func TestSetOverwritesAndIsolatesStores(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Set(ctx, "a", "k", []byte("one")))
	require.NoError(t, s.Set(ctx, "a", "k", []byte("two")))
	require.NoError(t, s.Set(ctx, "b", "k", []byte("other")))

	entry, err := s.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, "two", entry.Text())

	entry, err = s.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, "other", entry.Text())
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	buf := []byte("true")
	require.NoError(t, s.Set(ctx, "a", "k", buf))
	buf[0] = 'X'

	entry, err := s.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, "true", entry.Text())
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewStore()
	s.now = func() time.Time { return now }

	unlock, err := s.Lock(ctx, "index", time.Minute)
	require.NoError(t, err)

	_, err = s.Lock(ctx, "index", time.Minute)
	assert.ErrorIs(t, err, kv.ErrLockHeld)

	require.NoError(t, unlock(ctx))
	unlock, err = s.Lock(ctx, "index", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Lock(ctx, "index", time.Minute)
	require.NoError(t, err, "expired lock should be reclaimable")

	// A stale unlock must not release the newer owner's lock.
	require.NoError(t, unlock(ctx))
	_, err = s.Lock(ctx, "index", time.Minute)
	assert.ErrorIs(t, err, kv.ErrLockHeld)
}
