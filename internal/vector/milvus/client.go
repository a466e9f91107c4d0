package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/vector"
	"github.com/docs-agent/backend/pkg/logger"
)

const (
	fieldKey       = "record_key"
	fieldEmbedding = "embedding"
	fieldDocument  = "document"
	fieldMetadata  = "metadata"

	maxKeyLength      = 512
	maxDocumentLength = 65535
)

var invalidCollectionChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

type Config struct {
	Endpoint  string
	APIKey    string
	VectorDim int
	NList     int
	NProbe    int
}

// Client maps every index name onto a Milvus collection keyed by record key.
type Client struct {
	client   client.Client
	embedder vector.Embedder
	cfg      Config

	mu    sync.Mutex
	ready map[string]bool
}

var _ vector.Index = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config, embedder vector.Embedder) (*Client, error) {
	if embedder.Dimensions() != cfg.VectorDim {
		return nil, fmt.Errorf("embedder produces %d dimensions, collection expects %d", embedder.Dimensions(), cfg.VectorDim)
	}
	if cfg.NList <= 0 {
		cfg.NList = 128
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = 16
	}

	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("vector_dim", cfg.VectorDim),
	)

	return &Client{
		client:   c,
		embedder: embedder,
		cfg:      cfg,
		ready:    make(map[string]bool),
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// CollectionName converts an index name into a valid Milvus collection name.
func CollectionName(index string) string {
	return invalidCollectionChars.ReplaceAllString(index, "_")
}

// EnsureCollection creates, indexes and loads the collection backing index.
func (m *Client) EnsureCollection(ctx context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := CollectionName(index)
	if m.ready[name] {
		return nil
	}

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := m.createCollection(ctx, name, index); err != nil {
			return err
		}
	}

	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	m.ready[name] = true
	logger.Info("Collection ready", zap.String("collection", name), zap.Bool("created", !has))
	return nil
}

func (m *Client) createCollection(ctx context.Context, name, index string) error {
	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("sections of %s", index),
		Fields: []*entity.Field{
			{
				Name:       fieldKey,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": fmt.Sprintf("%d", maxKeyLength),
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.cfg.VectorDim),
				},
			},
			{
				Name:     fieldDocument,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": fmt.Sprintf("%d", maxDocumentLength),
				},
			},
			{
				Name:     fieldMetadata,
				DataType: entity.FieldTypeJSON,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, m.cfg.NList)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, name, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (m *Client) Upsert(ctx context.Context, index string, records ...vector.Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := m.EnsureCollection(ctx, index); err != nil {
		return nil, err
	}

	keys := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	documents := make([]string, len(records))
	metadata := make([][]byte, len(records))

	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if len(r.Document) > maxDocumentLength {
			return nil, fmt.Errorf("%w: %s: document exceeds %d bytes", vector.ErrInvalidRecord, r.Key, maxDocumentLength)
		}

		emb, err := m.embedder.Embed(ctx, r.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %s: %w", r.Key, err)
		}

		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata for %s: %w", r.Key, err)
		}

		keys[i] = r.Key
		embeddings[i] = emb
		documents[i] = r.Document
		metadata[i] = meta
	}

	name := CollectionName(index)
	ids, err := m.client.Upsert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar(fieldKey, keys),
		entity.NewColumnFloatVector(fieldEmbedding, m.cfg.VectorDim, embeddings),
		entity.NewColumnVarChar(fieldDocument, documents),
		entity.NewColumnJSONBytes(fieldMetadata, metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert records: %w", err)
	}

	if err := m.client.Flush(ctx, name, false); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	assigned := keys
	if col, ok := ids.(*entity.ColumnVarChar); ok {
		assigned = col.Data()
	}

	logger.Info("Records upserted into vector DB",
		zap.String("collection", name),
		zap.Int("count", len(assigned)),
	)

	return assigned, nil
}

func (m *Client) Search(ctx context.Context, index string, params vector.SearchParams) ([]vector.SearchResult, error) {
	if params.Limit <= 0 {
		return nil, nil
	}
	if err := m.EnsureCollection(ctx, index); err != nil {
		return nil, err
	}

	queryEmb, err := m.embedder.Embed(ctx, params.Query)
	if errors.Is(err, vector.ErrNoTerms) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(m.cfg.NProbe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	name := CollectionName(index)
	searchResult, err := m.client.Search(
		ctx,
		name,
		[]string{},
		"",
		[]string{fieldKey, fieldMetadata},
		[]entity.Vector{entity.FloatVector(queryEmb)},
		fieldEmbedding,
		entity.COSINE,
		params.Limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.SearchResult, 0, params.Limit)
	for _, sr := range searchResult {
		keyCol := sr.Fields.GetColumn(fieldKey)
		metaCol := sr.Fields.GetColumn(fieldMetadata)
		if keyCol == nil || metaCol == nil {
			return nil, fmt.Errorf("search result is missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			score := float64(sr.Scores[i])
			if !vector.MeetsThreshold(score, params.Similarity) {
				continue
			}

			key, err := keyCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read key: %w", err)
			}
			raw, err := metaCol.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read metadata: %w", err)
			}
			metaBytes, ok := raw.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected metadata type %T", raw)
			}

			var meta vector.Metadata
			if err := json.Unmarshal(metaBytes, &meta); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", key, err)
			}

			results = append(results, vector.SearchResult{
				Key:        key,
				Metadata:   meta,
				Similarity: score,
			})
		}
	}

	if len(results) > params.Limit {
		results = results[:params.Limit]
	}

	logger.Info("Vector search completed",
		zap.String("collection", name),
		zap.Int("limit", params.Limit),
		zap.Float64("similarity", params.Similarity),
		zap.Int("results", len(results)),
	)

	return results, nil
}
