// Package query answers questions about the indexed documentation by
// retrieving the closest sections and streaming a generated answer.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/history"
	"github.com/docs-agent/backend/internal/llm"
	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/internal/vector"
	"github.com/docs-agent/backend/pkg/logger"
)

// NoContextPlaceholder replaces the documentation context when nothing matched.
const NoContextPlaceholder = "No relevant documentation found."

var ErrEmptyQuery = errors.New("query is empty")

type Indexer interface {
	EnsureIndexed(ctx context.Context) error
}

type Generator interface {
	GenerateTextStream(ctx context.Context, req llm.CompletionRequest) (llm.TextStream, error)
}

type Config struct {
	VectorIndex    string
	Limit          int
	Similarity     float64
	ContextResults int
	Model          string
}

type Engine struct {
	cfg       Config
	indexer   Indexer
	index     vector.Index
	history   *history.Log
	generator Generator
}

// Answer carries the retrieval outcome and the open generation stream. The
// caller owns Stream and must Close it.
type Answer struct {
	ID      string
	Query   string
	Results []vector.SearchResult
	Context string
	Prompt  string
	Stream  llm.TextStream
}

func NewEngine(cfg Config, indexer Indexer, index vector.Index, log *history.Log, generator Generator) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	if cfg.ContextResults <= 0 {
		cfg.ContextResults = 2
	}
	return &Engine{
		cfg:       cfg,
		indexer:   indexer,
		index:     index,
		history:   log,
		generator: generator,
	}
}

func (e *Engine) Answer(ctx context.Context, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	queryID := uuid.NewString()

	answer, err := e.answer(ctx, queryID, query)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		logger.Error("Query failed", zap.String("query_id", queryID), zap.Error(err))
		return nil, err
	}

	metrics.QueryTotal.WithLabelValues("success").Inc()
	logger.Info("Streaming answer",
		zap.String("query_id", queryID),
		zap.Int("results", len(answer.Results)),
		zap.Duration("latency", time.Since(start)),
	)
	return answer, nil
}

func (e *Engine) answer(ctx context.Context, queryID, query string) (*Answer, error) {
	if err := e.indexer.EnsureIndexed(ctx); err != nil {
		return nil, fmt.Errorf("failed to index documentation: %w", err)
	}

	logger.Info("Searching documentation", zap.String("query_id", queryID), zap.String("query", query))

	results, err := e.index.Search(ctx, e.cfg.VectorIndex, vector.SearchParams{
		Query:      query,
		Limit:      e.cfg.Limit,
		Similarity: e.cfg.Similarity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search documentation: %w", err)
	}
	metrics.SearchResultsCount.Observe(float64(len(results)))

	topTitle := history.NoTopResult
	if len(results) > 0 && results[0].Metadata.SectionTitle != "" {
		topTitle = results[0].Metadata.SectionTitle
	}
	total, err := e.history.Append(ctx, history.Entry{
		ID:             queryID,
		Query:          query,
		ResultCount:    len(results),
		TopResultTitle: topTitle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record query: %w", err)
	}
	logger.Info("Query tracked", zap.String("query_id", queryID), zap.Int("total_queries", total))

	docContext := BuildContext(results, e.cfg.ContextResults)
	prompt := BuildPrompt(docContext, query)

	stream, err := e.generator.GenerateTextStream(ctx, llm.CompletionRequest{
		Model:      e.cfg.Model,
		UserPrompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start answer generation: %w", err)
	}

	return &Answer{
		ID:      queryID,
		Query:   query,
		Results: results,
		Context: docContext,
		Prompt:  prompt,
		Stream:  stream,
	}, nil
}

// BuildContext joins the content of the first n results, skipping empty ones.
func BuildContext(results []vector.SearchResult, n int) string {
	if n > len(results) {
		n = len(results)
	}
	parts := make([]string, 0, n)
	for _, r := range results[:n] {
		if r.Metadata.Content != "" {
			parts = append(parts, r.Metadata.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func BuildPrompt(docContext, query string) string {
	if docContext == "" {
		docContext = NoContextPlaceholder
	}
	return fmt.Sprintf(`Answer this question about Agentuity based on the documentation provided.

Documentation context:
%s

Question: %s

Provide a helpful, concise answer in 2-3 sentences. If no context is available, politely indicate that.`, docContext, query)
}
