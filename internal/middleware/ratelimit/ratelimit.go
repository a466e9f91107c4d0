package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit         rate.Limit
	burst         int
	idleTTL       time.Duration
	trustClientID bool
	logger        *zap.Logger
	stop          chan struct{}
	once          sync.Once
	now           func() time.Time
}

type Config struct {
	RequestsPerMinute int
	Burst             int
	// IdleTTL drops buckets for clients not seen for this long.
	IdleTTL time.Duration
	// TrustClientIDHeader keys buckets on X-Client-ID when present. Enable it
	// only behind a proxy that sets the header, since clients can rotate it.
	TrustClientIDHeader bool
	Logger              *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		clients:       make(map[string]*client),
		limit:         rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:         cfg.Burst,
		idleTTL:       cfg.IdleTTL,
		trustClientID: cfg.TrustClientIDHeader,
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
		now:           time.Now,
	}

	go rl.cleanup()

	return rl
}

// clientKey copies the key out of the request buffer, which fasthttp reuses
// once the handler returns.
func (rl *RateLimiter) clientKey(c *fiber.Ctx) string {
	if rl.trustClientID {
		if id := c.Get("X-Client-ID"); id != "" {
			return utils.CopyString(id)
		}
	}
	return utils.CopyString(c.IP())
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.clientKey(c)
		limiter := rl.limiterFor(key)

		now := rl.now()
		if !limiter.AllowN(now, 1) {
			r := limiter.ReserveN(now, 1)
			wait := r.DelayFrom(now)
			r.CancelAt(now)
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"message": "Rate limit exceeded",
				"error":   "too many requests, please try again later",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = rl.now()
	return cl.limiter
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	for key, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}
