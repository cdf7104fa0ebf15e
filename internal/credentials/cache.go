// Package credentials caches short-lived transcription tokens.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"vcni/internal/domain"
	"vcni/internal/metrics"
	"vcni/internal/ports"
)

// DefaultTTL is shorter than the ten minute validity the backend grants.
const DefaultTTL = 9 * time.Minute

const fetchKey = "token"

// Config controls the cache.
type Config struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// Cache hands out a cached token while it is fresh and collapses concurrent
// misses into a single fetch.
type Cache struct {
	fetcher ports.TokenFetcher
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	epoch     uint64
}

func NewCache(fetcher ports.TokenFetcher, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     cfg.TTL,
		timeout: cfg.FetchTimeout,
		now:     cfg.Now,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// GetToken returns a fresh token, fetching one if needed. Failures are
// returned as *domain.ConnectionError.
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(fetchKey, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate clears the cached token. A fetch already in flight still
// completes for its existing waiters but is not cached, and later callers
// start a new fetch instead of joining it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.epoch++
	c.group.Forget(fetchKey)
}

func (c *Cache) fetch(ctx context.Context) (string, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := c.now()
	token, err := c.fetcher.FetchToken(ctx)
	if err == nil && strings.TrimSpace(token) == "" {
		err = errors.New("credential endpoint returned an empty token")
	}
	c.metrics.RecordTokenFetch(err)
	if err != nil {
		c.log.Warn().Err(err).Msg("token fetch failed")
		var connErr *domain.ConnectionError
		if errors.As(err, &connErr) {
			return "", err
		}
		return "", &domain.ConnectionError{Err: fmt.Errorf("fetch token: %w", err)}
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.token = token
		c.expiresAt = started.Add(c.ttl)
	}
	c.mu.Unlock()

	c.log.Debug().Time("expiresAt", started.Add(c.ttl)).Msg("token fetched")
	return token, nil
}
