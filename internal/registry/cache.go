package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CacheConfig configures the read-through metadata cache
type CacheConfig struct {
	TTL time.Duration // cache entry lifetime (default 5m)
}

// CacheStats counts cache outcomes for telemetry
type CacheStats interface {
	CacheHit()
	CacheMiss()
}

// Cached decorates a Registry with a Redis read-through cache for the
// metadata reads downstream inference tooling hammers (Latest, List).
// Blob reads and writes pass through. Redis calls run behind a circuit
// breaker; any cache failure falls back to the underlying store, so the
// cache can only ever make reads faster, never wrong or unavailable.
type Cached struct {
	inner   Registry
	client  redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	stats   CacheStats
}

// NewCached wraps inner with a Redis metadata cache
func NewCached(inner Registry, client redis.Cmdable, cfg CacheConfig) *Cached {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	settings := gobreaker.Settings{Name: "registry-cache"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 30 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &Cached{
		inner:   inner,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		ttl:     cfg.TTL,
	}
}

// SetStats attaches hit/miss counters
func (c *Cached) SetStats(stats CacheStats) {
	c.stats = stats
}

func latestKey(family string) string { return "wf:registry:" + family + ":latest" }
func listKey(family string) string   { return "wf:registry:" + family + ":list" }

func (c *Cached) Put(ctx context.Context, family string, blob []byte, meta Metadata) (int, error) {
	version, err := c.inner.Put(ctx, family, blob, meta)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, family)
	return version, nil
}

func (c *Cached) PutVersion(ctx context.Context, family string, version int, blob []byte, meta Metadata) error {
	if err := c.inner.PutVersion(ctx, family, version, blob, meta); err != nil {
		return err
	}
	c.invalidate(ctx, family)
	return nil
}

// Get is a pass-through: explicit versions are immutable and blob reads
// do not belong in the metadata cache
func (c *Cached) Get(ctx context.Context, family string, version int) (*Artifact, error) {
	return c.inner.Get(ctx, family, version)
}

func (c *Cached) Latest(ctx context.Context, family string) (*Artifact, error) {
	var meta Metadata
	if c.lookup(ctx, latestKey(family), &meta) {
		c.hit()
		return c.inner.Get(ctx, family, meta.Version)
	}
	c.miss()

	artifact, err := c.inner.Latest(ctx, family)
	if err != nil {
		return nil, err
	}
	c.store(ctx, latestKey(family), artifact.Meta)
	return artifact, nil
}

func (c *Cached) List(ctx context.Context, family string) ([]Metadata, error) {
	var metas []Metadata
	if c.lookup(ctx, listKey(family), &metas) {
		c.hit()
		return metas, nil
	}
	c.miss()

	metas, err := c.inner.List(ctx, family)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listKey(family), metas)
	return metas, nil
}

// lookup fetches and decodes a cache entry; any failure reads as a miss.
// A key miss is not a breaker failure, only transport errors are.
func (c *Cached) lookup(ctx context.Context, key string, out interface{}) bool {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		b, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		if err != gobreaker.ErrOpenState {
			log.Debug().Err(err).Str("key", key).Msg("registry cache read failed")
		}
		return false
	}
	b, ok := raw.([]byte)
	if !ok || len(b) == 0 {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

func (c *Cached) store(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, raw, c.ttl).Err()
	})
	if err != nil && err != gobreaker.ErrOpenState {
		log.Debug().Err(err).Str("key", key).Msg("registry cache write failed")
	}
}

func (c *Cached) invalidate(ctx context.Context, family string) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, latestKey(family), listKey(family)).Err()
	})
	if err != nil && err != gobreaker.ErrOpenState {
		log.Debug().Err(err).Str("family", family).Msg("registry cache invalidation failed")
	}
}

func (c *Cached) hit() {
	if c.stats != nil {
		c.stats.CacheHit()
	}
}

func (c *Cached) miss() {
	if c.stats != nil {
		c.stats.CacheMiss()
	}
}
