// Package ingestion fetches the source document, stores it, splits it into
// sections and loads them into the vector index exactly once.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docs-agent/backend/internal/chunker"
	"github.com/docs-agent/backend/internal/kv"
	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/internal/objectstore"
	"github.com/docs-agent/backend/internal/source"
	"github.com/docs-agent/backend/internal/vector"
	"github.com/docs-agent/backend/pkg/logger"
)

// State is the one-way indexing flag.
type State int

const (
	NotIndexed State = iota
	Indexed
)

func (s State) String() string {
	if s == Indexed {
		return "indexed"
	}
	return "not_indexed"
}

const indexedValue = "true"

type Config struct {
	SourceURL    string
	VectorIndex  string
	Bucket       string
	StateStore   string
	StateKey     string
	KeyPrefix    string
	PublicURLTTL time.Duration
	LockTTL      time.Duration
	// LockPoll is how often a process waiting on another indexer re-checks.
	LockPoll time.Duration
}

// Report summarises one EnsureIndexed call.
type Report struct {
	AlreadyIndexed bool
	DocumentKey    string
	PublicURL      string
	Sections       int
	Indexed        int
	Skipped        int
	Duration       time.Duration
}

type Indexer struct {
	cfg     Config
	fetcher source.Fetcher
	objects objectstore.Store
	index   vector.Index
	state   kv.Store
	locker  kv.Locker
	chunker *chunker.Chunker
	group   singleflight.Group
	now     func() time.Time
}

// NewIndexer wires the pipeline. When state also implements kv.Locker the
// indexer holds a distributed lock while it runs.
func NewIndexer(cfg Config, fetcher source.Fetcher, objects objectstore.Store, index vector.Index, state kv.Store, ch *chunker.Chunker) *Indexer {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "llms"
	}
	if cfg.PublicURLTTL <= 0 {
		cfg.PublicURLTTL = time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = 500 * time.Millisecond
	}
	if ch == nil {
		ch = chunker.New(false)
	}

	ix := &Indexer{
		cfg:     cfg,
		fetcher: fetcher,
		objects: objects,
		index:   index,
		state:   state,
		chunker: ch,
		now:     time.Now,
	}
	if l, ok := state.(kv.Locker); ok {
		ix.locker = l
	}
	return ix
}

func (ix *Indexer) State(ctx context.Context) (State, error) {
	entry, err := ix.state.Get(ctx, ix.cfg.StateStore, ix.cfg.StateKey)
	if err != nil {
		return NotIndexed, fmt.Errorf("failed to read indexing state: %w", err)
	}
	// Any stored value counts; the flag's presence is the contract.
	if entry.Exists {
		return Indexed, nil
	}
	return NotIndexed, nil
}

func (ix *Indexer) EnsureIndexed(ctx context.Context) error {
	_, err := ix.Run(ctx)
	return err
}

// Run indexes the source document unless the state flag says it already is.
// Concurrent callers share one run; each caller stops waiting when its own
// context ends while the shared run continues.
func (ix *Indexer) Run(ctx context.Context) (*Report, error) {
	state, err := ix.State(ctx)
	if err != nil {
		return nil, err
	}
	if state == Indexed {
		return &Report{AlreadyIndexed: true}, nil
	}

	ch := ix.group.DoChan(ix.cfg.StateKey, func() (any, error) {
		return ix.run(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		report := *res.Val.(*Report)
		if res.Shared {
			logger.Debug("Joined in-flight indexing run", zap.String("state_key", ix.cfg.StateKey))
		}
		return &report, nil
	}
}

func (ix *Indexer) run(ctx context.Context) (*Report, error) {
	if ix.locker != nil {
		unlock, report, err := ix.acquire(ctx)
		if err != nil || report != nil {
			return report, err
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				logger.Warn("Failed to release indexing lock", zap.Error(err))
			}
		}()
	}

	// Another process may have finished between the first check and now.
	state, err := ix.State(ctx)
	if err != nil {
		return nil, err
	}
	if state == Indexed {
		return &Report{AlreadyIndexed: true}, nil
	}

	start := time.Now()
	report, err := ix.indexDocument(ctx)
	metrics.IndexDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IndexRuns.WithLabelValues("error").Inc()
		logger.Error("Indexing failed", zap.Error(err))
		return nil, err
	}
	report.Duration = time.Since(start)
	metrics.IndexRuns.WithLabelValues("success").Inc()

	logger.Info("Indexing completed",
		zap.String("document_key", report.DocumentKey),
		zap.Int("sections", report.Sections),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// acquire takes the distributed lock. If a peer holds it, acquire waits until
// the peer marks the flag (returning an AlreadyIndexed report) or releases
// the lock without doing so.
func (ix *Indexer) acquire(ctx context.Context) (kv.UnlockFunc, *Report, error) {
	name := ix.cfg.StateStore + ":" + ix.cfg.StateKey
	ticker := time.NewTicker(ix.cfg.LockPoll)
	defer ticker.Stop()

	for {
		unlock, err := ix.locker.Lock(ctx, name, ix.cfg.LockTTL)
		if err == nil {
			return unlock, nil, nil
		}
		if !errors.Is(err, kv.ErrLockHeld) {
			return nil, nil, fmt.Errorf("failed to acquire indexing lock: %w", err)
		}

		logger.Debug("Indexing lock held by another process, waiting", zap.String("lock", name))

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}

		state, err := ix.State(ctx)
		if err != nil {
			return nil, nil, err
		}
		if state == Indexed {
			return nil, &Report{AlreadyIndexed: true}, nil
		}
	}
}

func (ix *Indexer) indexDocument(ctx context.Context) (*Report, error) {
	doc, err := ix.fetcher.Fetch(ctx, ix.cfg.SourceURL)
	if err != nil {
		return nil, err
	}

	report := &Report{DocumentKey: ix.documentKey()}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	if err := ix.objects.Put(ctx, ix.cfg.Bucket, report.DocumentKey, []byte(doc.Content), contentType); err != nil {
		return nil, fmt.Errorf("failed to store raw document: %w", err)
	}

	url, err := ix.objects.PublicURL(ctx, ix.cfg.Bucket, report.DocumentKey, ix.cfg.PublicURLTTL)
	if err != nil {
		logger.Warn("Failed to issue public URL", zap.String("document_key", report.DocumentKey), zap.Error(err))
	} else {
		report.PublicURL = url
		logger.Info("Raw document stored",
			zap.String("bucket", ix.cfg.Bucket),
			zap.String("document_key", report.DocumentKey),
			zap.String("public_url", url),
			zap.String("digest", doc.Digest),
		)
	}

	sections, err := ix.chunker.Chunk(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}
	report.Sections = len(sections)

	for _, s := range sections {
		if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Content) == "" {
			report.Skipped++
			metrics.SectionsIndexed.WithLabelValues("skipped").Inc()
			logger.Warn("Skipping section without title or content",
				zap.Int("section_index", s.Index),
				zap.String("section_title", s.Title),
			)
			continue
		}

		record := vector.Record{
			Key:      vector.SectionKey(report.DocumentKey, s.Index),
			Document: s.Content,
			Metadata: vector.Metadata{
				Source:       report.DocumentKey,
				SectionIndex: s.Index,
				SectionTitle: s.Title,
				Content:      s.Content,
			},
		}
		if _, err := ix.index.Upsert(ctx, ix.cfg.VectorIndex, record); err != nil {
			return nil, fmt.Errorf("failed to upsert section %q: %w", s.Title, err)
		}

		report.Indexed++
		metrics.SectionsIndexed.WithLabelValues("indexed").Inc()
		logger.Debug("Section indexed", zap.String("key", record.Key), zap.String("section_title", s.Title))
	}

	if err := ix.state.Set(ctx, ix.cfg.StateStore, ix.cfg.StateKey, []byte(indexedValue)); err != nil {
		return nil, fmt.Errorf("failed to mark documents indexed: %w", err)
	}

	return report, nil
}

func (ix *Indexer) documentKey() string {
	return fmt.Sprintf("%s-%d.txt", ix.cfg.KeyPrefix, ix.now().UnixMilli())
}
