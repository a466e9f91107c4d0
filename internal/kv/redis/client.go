package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/kv"
	"github.com/docs-agent/backend/pkg/logger"
)

// unlockScript deletes the lock only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	client *redis.Client
}

var (
	_ kv.Store        = (*Client)(nil)
	_ kv.ListAppender = (*Client)(nil)
	_ kv.Locker       = (*Client)(nil)
)

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func storeKey(store, key string) string {
	return fmt.Sprintf("%s:%s", store, key)
}

func (c *Client) Get(ctx context.Context, store, key string) (kv.Entry, error) {
	data, err := c.client.Get(ctx, storeKey(store, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return kv.Entry{}, nil
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("failed to get %s/%s: %w", store, key, err)
	}

	logger.Debug("KV hit", zap.String("store", store), zap.String("key", key))
	return kv.Entry{Exists: true, Value: data}, nil
}

func (c *Client) Set(ctx context.Context, store, key string, value []byte) error {
	if err := c.client.Set(ctx, storeKey(store, key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", store, key, err)
	}
	return nil
}

// AppendList pushes value onto the list and returns the new length.
func (c *Client) AppendList(ctx context.Context, store, key string, value []byte) (int, error) {
	n, err := c.client.RPush(ctx, storeKey(store, key)+":list", value).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append to %s/%s: %w", store, key, err)
	}
	return int(n), nil
}

func (c *Client) ReadList(ctx context.Context, store, key string) ([][]byte, error) {
	items, err := c.client.LRange(ctx, storeKey(store, key)+":list", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", store, key, err)
	}

	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

func (c *Client) Lock(ctx context.Context, name string, ttl time.Duration) (kv.UnlockFunc, error) {
	key := storeKey("lock", name)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, kv.ErrLockHeld
	}

	logger.Debug("Lock acquired", zap.String("lock", name), zap.Duration("ttl", ttl))

	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		return nil
	}, nil
}
