// Package app assembles the pipeline from configuration. The API server and
// the CLI share it so both run against the same stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/chunker"
	"github.com/docs-agent/backend/internal/competition"
	"github.com/docs-agent/backend/internal/embedding/hashing"
	"github.com/docs-agent/backend/internal/history"
	"github.com/docs-agent/backend/internal/ingestion"
	"github.com/docs-agent/backend/internal/kv"
	kvmemory "github.com/docs-agent/backend/internal/kv/memory"
	kvredis "github.com/docs-agent/backend/internal/kv/redis"
	kvsqlite "github.com/docs-agent/backend/internal/kv/sqlite"
	"github.com/docs-agent/backend/internal/llm"
	"github.com/docs-agent/backend/internal/objectstore"
	objmemory "github.com/docs-agent/backend/internal/objectstore/memory"
	objs3 "github.com/docs-agent/backend/internal/objectstore/s3"
	"github.com/docs-agent/backend/internal/query"
	"github.com/docs-agent/backend/internal/source"
	"github.com/docs-agent/backend/internal/vector"
	vecmemory "github.com/docs-agent/backend/internal/vector/memory"
	"github.com/docs-agent/backend/internal/vector/milvus"
	"github.com/docs-agent/backend/pkg/config"
	"github.com/docs-agent/backend/pkg/logger"
)

type App struct {
	Config       *config.Config
	LLM          *llm.Client
	Index        vector.Index
	KV           kv.Store
	Objects      objectstore.Store
	Indexer      *ingestion.Indexer
	History      *history.Log
	Engine       *query.Engine
	Writer       *competition.Writer
	Judge        *competition.Judge
	Orchestrator *competition.Orchestrator

	closers []func() error
}

// New builds every component named by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.LLM = llm.NewClient(llm.Config{
		Name:                "openai",
		APIKey:              cfg.LLM.APIKey,
		BaseURL:             cfg.LLM.BaseURL,
		Model:               cfg.LLM.Model,
		EmbeddingModel:      cfg.Embedding.Model,
		EmbeddingDimensions: cfg.Embedding.Dimensions,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		Timeout:             time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	embedder, err := newEmbedder(cfg, a.LLM)
	if err != nil {
		return nil, err
	}

	if a.Index, err = a.newVectorIndex(ctx, cfg, embedder); err != nil {
		return nil, err
	}
	if a.KV, err = a.newKV(ctx, cfg); err != nil {
		return nil, err
	}
	if a.Objects, err = newObjectStore(ctx, cfg); err != nil {
		return nil, err
	}

	fetcher := source.NewHTTPFetcher(time.Duration(cfg.Source.TimeoutSec)*time.Second, cfg.Source.MaxBytes)

	a.Indexer = ingestion.NewIndexer(ingestion.Config{
		SourceURL:    cfg.Source.URL,
		VectorIndex:  cfg.Index.VectorIndex,
		Bucket:       cfg.Index.Bucket,
		StateStore:   cfg.Index.StateStore,
		StateKey:     cfg.Index.StateKey,
		KeyPrefix:    cfg.Index.KeyPrefix,
		PublicURLTTL: cfg.Index.PublicURLTTL,
		LockTTL:      cfg.Index.LockTTL,
	}, fetcher, a.Objects, a.Index, a.KV, chunker.New(cfg.Index.StrictChunking))

	a.History = history.NewLog(a.KV, cfg.Index.StateStore, cfg.Index.HistoryKey)

	a.Engine = query.NewEngine(query.Config{
		VectorIndex:    cfg.Index.VectorIndex,
		Limit:          cfg.Query.Limit,
		Similarity:     cfg.Query.Similarity,
		ContextResults: cfg.Query.ContextResults,
		Model:          cfg.Query.Model,
	}, a.Indexer, a.Index, a.History, a.LLM)

	first := cfg.Competition.First
	if first.APIKey == "" {
		first.APIKey = cfg.LLM.APIKey
	}
	a.Writer = competition.NewWriter(
		newBackend(first, cfg.LLM.TimeoutSec),
		newBackend(cfg.Competition.Second, cfg.LLM.TimeoutSec),
	)
	if a.Judge, err = competition.NewJudge(a.LLM, cfg.Competition.JudgeModel); err != nil {
		return nil, err
	}
	a.Orchestrator = competition.NewOrchestrator(a.Writer, a.Judge)

	logger.Info("Pipeline assembled",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("kv_backend", cfg.KV.Backend),
		zap.String("objectstore_backend", cfg.ObjectStore.Backend),
	)

	return a, nil
}

func newBackend(b config.BackendConfig, timeoutSec int) competition.Backend {
	return competition.Backend{
		Label: b.Label,
		Model: b.Model,
		Generator: llm.NewClient(llm.Config{
			Name:    b.Label,
			APIKey:  b.APIKey,
			BaseURL: b.BaseURL,
			Model:   b.Model,
			Timeout: time.Duration(timeoutSec) * time.Second,
		}),
	}
}

func newEmbedder(cfg *config.Config, client *llm.Client) (vector.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "hashing":
		return hashing.New(cfg.Embedding.Dimensions), nil
	case "openai":
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func (a *App) newVectorIndex(ctx context.Context, cfg *config.Config, embedder vector.Embedder) (vector.Index, error) {
	switch cfg.Vector.Backend {
	case "memory":
		return vecmemory.NewIndex(embedder), nil
	case "milvus":
		m := cfg.Vector.Milvus
		client, err := milvus.NewClient(ctx, milvus.Config{
			Endpoint:  m.Endpoint,
			APIKey:    m.APIKey,
			VectorDim: m.VectorDim,
			NList:     m.NList,
			NProbe:    m.NProbe,
		}, embedder)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

func (a *App) newKV(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.KV.Backend {
	case "memory":
		return kvmemory.NewStore(), nil
	case "redis":
		r := cfg.KV.Redis
		client, err := kvredis.NewClient(ctx, r.Host, r.Port, r.Password, r.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return client, nil
	case "sqlite":
		client, err := kvsqlite.NewClient(cfg.KV.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx); err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KV.Backend)
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Backend {
	case "memory":
		return objmemory.NewStore(), nil
	case "s3":
		s := cfg.ObjectStore.S3
		return objs3.NewClient(ctx, objs3.Config{
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			UsePathStyle:    s.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown objectstore backend %q", cfg.ObjectStore.Backend)
	}
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
