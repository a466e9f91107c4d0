// Package memory is an in-process vector index using brute-force cosine similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/docs-agent/backend/internal/vector"
)

type entry struct {
	record    vector.Record
	embedding []float32
	seq       int
}

type collection struct {
	entries map[string]*entry
	nextSeq int
}

// Index keeps one collection per index name.
type Index struct {
	embedder vector.Embedder

	mu          sync.RWMutex
	collections map[string]*collection
}

var _ vector.Index = (*Index)(nil)

func NewIndex(embedder vector.Embedder) *Index {
	return &Index{
		embedder:    embedder,
		collections: make(map[string]*collection),
	}
}

func (m *Index) Upsert(ctx context.Context, index string, records ...vector.Record) ([]string, error) {
	embedded := make([]*entry, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		emb, err := m.embedder.Embed(ctx, r.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %s: %w", r.Key, err)
		}
		embedded = append(embedded, &entry{record: r, embedding: emb})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[index]
	if !ok {
		col = &collection{entries: make(map[string]*entry)}
		m.collections[index] = col
	}

	ids := make([]string, 0, len(embedded))
	for _, e := range embedded {
		if prev, exists := col.entries[e.record.Key]; exists {
			e.seq = prev.seq
		} else {
			e.seq = col.nextSeq
			col.nextSeq++
		}
		col.entries[e.record.Key] = e
		ids = append(ids, e.record.Key)
	}

	return ids, nil
}

func (m *Index) Search(ctx context.Context, index string, params vector.SearchParams) ([]vector.SearchResult, error) {
	if params.Limit <= 0 {
		return nil, nil
	}

	queryEmb, err := m.embedder.Embed(ctx, params.Query)
	if errors.Is(err, vector.ErrNoTerms) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[index]
	if !ok {
		return nil, nil
	}

	type scored struct {
		e     *entry
		score float64
	}
	candidates := make([]scored, 0, len(col.entries))
	for _, e := range col.entries {
		score := vector.CosineSimilarity(queryEmb, e.embedding)
		if vector.MeetsThreshold(score, params.Similarity) {
			candidates = append(candidates, scored{e: e, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].e.seq < candidates[j].e.seq
	})

	if len(candidates) > params.Limit {
		candidates = candidates[:params.Limit]
	}

	results := make([]vector.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = vector.SearchResult{
			Key:        c.e.record.Key,
			Metadata:   c.e.record.Metadata,
			Similarity: c.score,
		}
	}
	return results, nil
}

// Len returns the number of records stored under index.
func (m *Index) Len(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if col, ok := m.collections[index]; ok {
		return len(col.entries)
	}
	return 0
}
