package query

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docs-agent/backend/internal/chunker"
	"github.com/docs-agent/backend/internal/embedding/hashing"
	"github.com/docs-agent/backend/internal/history"
	"github.com/docs-agent/backend/internal/ingestion"
	kvmemory "github.com/docs-agent/backend/internal/kv/memory"
	"github.com/docs-agent/backend/internal/llm"
	objmemory "github.com/docs-agent/backend/internal/objectstore/memory"
	"github.com/docs-agent/backend/internal/source"
	"github.com/docs-agent/backend/internal/vector"
	vecmemory "github.com/docs-agent/backend/internal/vector/memory"
)

const docs = `# Agentuity
Agentuity is the cloud platform built for AI agents.

## Product Features
Deploy with one command and observe every run.

## Core Benefits
Core benefits: lower cost, faster agent deployment.

## About
Founded by developer tooling engineers.

## Blog Posts
Announcing agent-to-agent communication.`

type staticFetcher struct{ content string }

func (f staticFetcher) Fetch(_ context.Context, url string) (*source.Document, error) {
	return &source.Document{URL: url, Content: f.content, ContentType: "text/plain", FetchedAt: time.Now()}, nil
}

type sliceStream struct {
	tokens []string
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	err      error
}

func (g *fakeGenerator) GenerateTextStream(_ context.Context, req llm.CompletionRequest) (llm.TextStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &sliceStream{tokens: []string{"Agentuity ", "helps."}}, nil
}

type noopIndexer struct{ err error }

func (n noopIndexer) EnsureIndexed(context.Context) error { return n.err }

type fixture struct {
	engine    *Engine
	generator *fakeGenerator
	history   *history.Log
	vectors   *vecmemory.Index
}

func testConfig() Config {
	return Config{VectorIndex: "demo-docs-chunks", Limit: 3, Similarity: 0.5, ContextResults: 2, Model: "gpt-5-nano"}
}

func newFixture(t *testing.T, indexer Indexer) *fixture {
	t.Helper()
	state := kvmemory.NewStore()
	vectors := vecmemory.NewIndex(hashing.New(1024))
	if indexer == nil {
		indexer = ingestion.NewIndexer(ingestion.Config{
			SourceURL:   "https://agentuity.com/llms.txt",
			VectorIndex: "demo-docs-chunks",
			Bucket:      "demo-docs",
			StateStore:  "demo-query-history",
			StateKey:    "docs-indexed",
		}, staticFetcher{content: docs}, objmemory.NewStore(), vectors, state, chunker.New(false))
	}

	f := &fixture{
		generator: &fakeGenerator{},
		history:   history.NewLog(state, "demo-query-history", "query-history"),
		vectors:   vectors,
	}
	f.engine = NewEngine(testConfig(), indexer, vectors, f.history, f.generator)
	return f
}

func drain(t *testing.T, s llm.TextStream) string {
	t.Helper()
	defer s.Close()
	var sb strings.Builder
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String()
		}
		require.NoError(t, err)
		sb.WriteString(tok)
	}
}

func TestAnswerRetrievesCoreBenefits(t *testing.T) {
	f := newFixture(t, nil)

	answer, err := f.engine.Answer(context.Background(), "core benefits")
	require.NoError(t, err)

	require.NotEmpty(t, answer.Results)
	assert.Equal(t, "Core Benefits", answer.Results[0].Metadata.SectionTitle)
	for _, r := range answer.Results {
		assert.NotEqual(t, "Blog Posts", r.Metadata.SectionTitle)
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
	assert.Contains(t, answer.Context, "lower cost, faster agent deployment")
	assert.Contains(t, answer.Prompt, "Question: core benefits")
	assert.NotContains(t, answer.Prompt, NoContextPlaceholder)
	assert.Equal(t, "Agentuity helps.", drain(t, answer.Stream))

	require.Len(t, f.generator.requests, 1)
	assert.Equal(t, "gpt-5-nano", f.generator.requests[0].Model)
	assert.Equal(t, answer.Prompt, f.generator.requests[0].UserPrompt)
}

func TestAnswerPunctuationOnlyUsesPlaceholder(t *testing.T) {
	f := newFixture(t, nil)

	answer, err := f.engine.Answer(context.Background(), "???")
	require.NoError(t, err)

	assert.Empty(t, answer.Results)
	assert.Contains(t, answer.Prompt, NoContextPlaceholder)
	assert.Equal(t, "Agentuity helps.", drain(t, answer.Stream))
}

func TestAnswerWithoutMatchesUsesPlaceholder(t *testing.T) {
	f := newFixture(t, nil)

	answer, err := f.engine.Answer(context.Background(), "zebra xylophone quantum")
	require.NoError(t, err)

	assert.Empty(t, answer.Results)
	assert.Empty(t, answer.Context)
	assert.Contains(t, answer.Prompt, NoContextPlaceholder)

	entries, err := f.history.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].ResultCount)
	assert.Equal(t, history.NoTopResult, entries[0].TopResultTitle)
}

func TestHistoryGrowsByOnePerQuery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i, q := range []string{"core benefits", "product features deploy", "nothing relevant zzz"} {
		answer, err := f.engine.Answer(ctx, q)
		require.NoError(t, err)
		_ = drain(t, answer.Stream)

		entries, err := f.history.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, i+1)

		last := entries[i]
		assert.Equal(t, q, last.Query)
		assert.Equal(t, len(answer.Results), last.ResultCount)
		assert.Equal(t, answer.ID, last.ID)
	}
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, noopIndexer{})
	_, err := f.engine.Answer(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestAnswerFailsWhenIndexingFails(t *testing.T) {
	f := newFixture(t, noopIndexer{err: errors.New("source unavailable")})

	_, err := f.engine.Answer(context.Background(), "core benefits")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unavailable")
	assert.Empty(t, f.generator.requests)

	entries, err := f.history.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnswerSurfacesGenerationError(t *testing.T) {
	f := newFixture(t, nil)
	f.generator.err = errors.New("rate limited")

	_, err := f.engine.Answer(context.Background(), "core benefits")
	assert.ErrorContains(t, err, "rate limited")
}

func TestBuildContext(t *testing.T) {
	results := []vector.SearchResult{
		{Metadata: vector.Metadata{Content: "first"}},
		{Metadata: vector.Metadata{Content: ""}},
		{Metadata: vector.Metadata{Content: "third"}},
	}

	tests := []struct {
		name string
		in   []vector.SearchResult
		n    int
		want string
	}{
		{name: "top two with empty dropped", in: results, n: 2, want: "first"},
		{name: "all three", in: results, n: 3, want: "first\n\nthird"},
		{name: "n larger than results", in: results[:1], n: 2, want: "first"},
		{name: "no results", in: nil, n: 2, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildContext(tt.in, tt.n))
		})
	}
}

func TestBuildPromptPlaceholder(t *testing.T) {
	p := BuildPrompt("", "what is it?")
	assert.Contains(t, p, "Documentation context:\n"+NoContextPlaceholder+"\n")
	assert.True(t, strings.HasPrefix(p, "Answer this question about Agentuity"))
	assert.Contains(t, p, "Question: what is it?")
}
