// Package history keeps the append-only log of answered queries.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/kv"
	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/pkg/logger"
)

// NoTopResult is recorded when a query matched nothing.
const NoTopResult = "none"

type Entry struct {
	ID             string    `json:"id,omitempty"`
	Query          string    `json:"query"`
	Timestamp      time.Time `json:"timestamp"`
	ResultCount    int       `json:"resultCount"`
	TopResultTitle string    `json:"topResultTitle"`
}

// Log appends entries under one key. Backends implementing kv.ListAppender
// append atomically; others go through a read-modify-write of a JSON array
// that is serialised within this process only.
type Log struct {
	store kv.Store
	lists kv.ListAppender
	name  string
	key   string
	mu    sync.Mutex
}

func NewLog(store kv.Store, storeName, key string) *Log {
	l := &Log{store: store, name: storeName, key: key}
	if lists, ok := store.(kv.ListAppender); ok {
		l.lists = lists
	}
	return l
}

// Append stores e and returns the log length afterwards.
func (l *Log) Append(ctx context.Context, e Entry) (int, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.TopResultTitle == "" {
		e.TopResultTitle = NoTopResult
	}

	var (
		n   int
		err error
	)
	if l.lists != nil {
		n, err = l.appendList(ctx, e)
	} else {
		n, err = l.appendArray(ctx, e)
	}
	if err != nil {
		return 0, err
	}

	metrics.HistoryEntries.Inc()
	logger.Debug("Query history appended",
		zap.String("entry_id", e.ID),
		zap.Int("result_count", e.ResultCount),
		zap.Int("length", n),
	)
	return n, nil
}

func (l *Log) appendList(ctx context.Context, e Entry) (int, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal history entry: %w", err)
	}
	n, err := l.lists.AppendList(ctx, l.name, l.key, data)
	if err != nil {
		return 0, fmt.Errorf("failed to append history entry: %w", err)
	}
	return n, nil
}

func (l *Log) appendArray(ctx context.Context, e Entry) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readArray(ctx)
	if err != nil {
		return 0, err
	}
	entries = append(entries, e)

	data, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := l.store.Set(ctx, l.name, l.key, data); err != nil {
		return 0, fmt.Errorf("failed to write history: %w", err)
	}
	return len(entries), nil
}

func (l *Log) readArray(ctx context.Context) ([]Entry, error) {
	entry, err := l.store.Get(ctx, l.name, l.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if !entry.Exists || len(entry.Value) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(entry.Value, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return entries, nil
}

// List returns every entry, oldest first.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	if l.lists == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.readArray(ctx)
	}

	items, err := l.lists.ReadList(ctx, l.name, l.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal(item, &e); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
