package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docs-agent/backend/internal/kv"
	kvmemory "github.com/docs-agent/backend/internal/kv/memory"
)

// listStore is a kv.Store that also appends atomically.
type listStore struct {
	*kvmemory.Store
	mu    sync.Mutex
	lists map[string][][]byte
}

func newListStore() *listStore {
	return &listStore{Store: kvmemory.NewStore(), lists: make(map[string][][]byte)}
}

func (s *listStore) AppendList(_ context.Context, store, key string, value []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := store + ":" + key
	s.lists[k] = append(s.lists[k], value)
	return len(s.lists[k]), nil
}

func (s *listStore) ReadList(_ context.Context, store, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.lists[store+":"+key]...), nil
}

var _ kv.ListAppender = (*listStore)(nil)

func TestAppendGrowsByOne(t *testing.T) {
	stores := map[string]kv.Store{
		"read-modify-write": kvmemory.NewStore(),
		"list":              newListStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := NewLog(store, "demo-query-history", "query-history")

			n, err := log.Append(ctx, Entry{Query: "what is agentuity?", ResultCount: 2, TopResultTitle: "Introduction"})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = log.Append(ctx, Entry{Query: "pricing", ResultCount: 0})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			entries, err := log.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)

			assert.Equal(t, "what is agentuity?", entries[0].Query)
			assert.Equal(t, 2, entries[0].ResultCount)
			assert.Equal(t, "Introduction", entries[0].TopResultTitle)
			assert.NotEmpty(t, entries[0].ID)
			assert.False(t, entries[0].Timestamp.IsZero())

			assert.Equal(t, 0, entries[1].ResultCount)
			assert.Equal(t, NoTopResult, entries[1].TopResultTitle)
		})
	}
}

func TestListEmpty(t *testing.T) {
	entries, err := NewLog(kvmemory.NewStore(), "s", "k").List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kvmemory.NewStore(), "s", "k")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := log.Append(ctx, Entry{Query: fmt.Sprintf("q%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := log.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestStoredFormat(t *testing.T) {
	ctx := context.Background()
	store := kvmemory.NewStore()
	log := NewLog(store, "s", "k")

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err := log.Append(ctx, Entry{ID: "id-1", Query: "q", Timestamp: ts, ResultCount: 1, TopResultTitle: "About"})
	require.NoError(t, err)

	raw, err := store.Get(ctx, "s", "k")
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"id":"id-1","query":"q","timestamp":"2025-01-02T03:04:05Z","resultCount":1,"topResultTitle":"About"}]`,
		raw.Text())
}

func TestCorruptHistoryIsAnError(t *testing.T) {
	ctx := context.Background()
	store := kvmemory.NewStore()
	require.NoError(t, store.Set(ctx, "s", "k", []byte("not json")))

	_, err := NewLog(store, "s", "k").Append(ctx, Entry{Query: "q"})
	assert.Error(t, err)
}
