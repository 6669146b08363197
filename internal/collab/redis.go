package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_semantic_cache_hits_total",
		Help: "Total number of semantic cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_semantic_cache_misses_total",
		Help: "Total number of semantic cache misses",
	})

	cacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_semantic_cache_errors_total",
		Help: "Total number of semantic cache errors",
	})
)

// RedisCache implements SemanticCache on Redis. Entries are keyed by intent
// fingerprint, so a lookup hit means an identical normalized intent was
// answered and verified before; exact matches report full similarity.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds semantic cache configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type cacheEntry struct {
	OutputRef string    `json:"output_hash"`
	StoredAt  time.Time `json:"stored_at"`
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "coordinator:cache:"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

// Lookup returns the cached verified output for a fingerprint, or (nil, nil)
// on a miss.
func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) (*CacheHit, error) {
	val, err := c.client.Get(ctx, c.prefix+fingerprint).Bytes()
	if err == redis.Nil {
		cacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		cacheErrors.Inc()
		return nil, fmt.Errorf("cache lookup error: %w", err)
	}

	var entry cacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		cacheErrors.Inc()
		return nil, fmt.Errorf("cache unmarshal error: %w", err)
	}

	cacheHits.Inc()
	return &CacheHit{
		OutputRef:     entry.OutputRef,
		SimilarityBps: 10000,
	}, nil
}

// Store records a verified output under its intent fingerprint.
func (c *RedisCache) Store(ctx context.Context, fingerprint, outputRef string) error {
	data, err := json.Marshal(cacheEntry{
		OutputRef: outputRef,
		StoredAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+fingerprint, data, c.ttl).Err(); err != nil {
		cacheErrors.Inc()
		return fmt.Errorf("cache store error: %w", err)
	}
	return nil
}

// Ping checks cache connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping error: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
