package milvus

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docs-agent/backend/internal/embedding/hashing"
	"github.com/docs-agent/backend/internal/vector"
)

func TestCollectionName(t *testing.T) {
	tests := map[string]string{
		"demo-docs-chunks": "demo_docs_chunks",
		"already_valid_1":  "already_valid_1",
		"a.b/c d":          "a_b_c_d",
	}
	for in, want := range tests {
		assert.Equal(t, want, CollectionName(in), in)
	}
}

func TestNewClientRejectsDimensionMismatch(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Endpoint: "localhost:19530", VectorDim: 1536}, hashing.New(256))
	assert.ErrorContains(t, err, "256 dimensions")
}

// Requires a running Milvus; set DOCS_AGENT_TEST_MILVUS_ADDR to enable.
func TestUpsertAndSearch(t *testing.T) {
	addr := os.Getenv("DOCS_AGENT_TEST_MILVUS_ADDR")
	if addr == "" {
		t.Skip("DOCS_AGENT_TEST_MILVUS_ADDR not set")
	}

	ctx := context.Background()
	c, err := NewClient(ctx, Config{Endpoint: addr, VectorDim: 256}, hashing.New(256))
	require.NoError(t, err)
	defer c.Close()

	index := "docs-agent-test-" + strconv.Itoa(os.Getpid())
	_, err = c.Upsert(ctx, index,
		vector.Record{Key: "k1", Document: "Core benefits: lower cost", Metadata: vector.Metadata{SectionTitle: "Core Benefits", Content: "lower cost"}},
		vector.Record{Key: "k2", Document: "Founded by engineers", Metadata: vector.Metadata{SectionTitle: "About", Content: "engineers"}},
	)
	require.NoError(t, err)

	results, err := c.Search(ctx, index, vector.SearchParams{Query: "core benefits", Limit: 3, Similarity: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Core Benefits", results[0].Metadata.SectionTitle)
}
