package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/kv"
	"github.com/docs-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

var _ kv.Store = (*Client)(nil)

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (store, key)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv_entries(updated_at);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) Get(ctx context.Context, store, key string) (kv.Entry, error) {
	query := `SELECT value FROM kv_entries WHERE store = ? AND key = ?`

	var value []byte
	err := c.db.QueryRowContext(ctx, query, store, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Entry{}, nil
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("failed to get %s/%s: %w", store, key, err)
	}

	return kv.Entry{Exists: true, Value: value}, nil
}

func (c *Client) Set(ctx context.Context, store, key string, value []byte) error {
	query := `
		INSERT INTO kv_entries (store, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	if value == nil {
		value = []byte{}
	}

	if _, err := c.db.ExecContext(ctx, query, store, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", store, key, err)
	}

	logger.Debug("KV entry written", zap.String("store", store), zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}
