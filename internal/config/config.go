// Package config loads the apicaller process configuration from the
// environment and builds the configured cache store.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/async-api-caller/pkg/cache"
	"github.com/Sternrassler/async-api-caller/pkg/client"
	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/redis/go-redis/v9"
)

// Cache backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

// Config is the process configuration.
type Config struct {
	CacheBackend string
	CachePath    string
	PostgresDSN  string
	RedisURL     string
	CacheCodec   string
	MemoryTier   bool

	TTL            time.Duration
	Timeout        time.Duration
	MaxConcurrency int
	UserAgent      string
	Headers        map[string]string

	LogLevel    logging.LogLevel
	LogPretty   bool
	MetricsAddr string
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{
		CacheBackend: strings.ToLower(getEnv("APICALLER_CACHE_BACKEND", BackendSQLite)),
		CachePath:    getEnv("APICALLER_CACHE_PATH", cache.DefaultPath),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),
		RedisURL:     getEnv("REDIS_URL", "localhost:6379"),
		CacheCodec:   strings.ToLower(getEnv("APICALLER_CACHE_CODEC", "json")),
		UserAgent:    getEnv("APICALLER_USER_AGENT", "async-api-caller/0.1.0"),
		LogLevel:     logging.LogLevel(getEnv("LOG_LEVEL", string(logging.LevelInfo))),
		MetricsAddr:  getEnv("APICALLER_METRICS_ADDR", ""),
	}

	var err error
	if cfg.MemoryTier, err = getBool("APICALLER_MEMORY_TIER", false); err != nil {
		return cfg, err
	}
	if cfg.LogPretty, err = getBool("LOG_PRETTY", false); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = getDuration("APICALLER_TIMEOUT", client.DefaultTimeout); err != nil {
		return cfg, err
	}
	if cfg.MaxConcurrency, err = getInt("APICALLER_MAX_CONCURRENCY", 0); err != nil {
		return cfg, err
	}

	// "never" caches without expiry
	if raw := getEnv("APICALLER_TTL", ""); strings.EqualFold(raw, "never") {
		cfg.TTL = client.NoExpiry
	} else if cfg.TTL, err = getDuration("APICALLER_TTL", client.DefaultTTL); err != nil {
		return cfg, err
	}

	if raw := getEnv("APICALLER_HEADERS", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Headers); err != nil {
			return cfg, fmt.Errorf("APICALLER_HEADERS must be a JSON object of strings: %w", err)
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges and backend requirements.
func (c Config) Validate() error {
	switch c.CacheBackend {
	case BackendSQLite, BackendRedis, BackendNone:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q (want sqlite, postgres, redis or none)", c.CacheBackend)
	}
	if _, err := cache.CodecByName(c.CacheCodec); err != nil {
		return err
	}
	if c.TTL < 0 && c.TTL != client.NoExpiry {
		return fmt.Errorf("APICALLER_TTL must be >= 0 (got %s)", c.TTL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("APICALLER_TIMEOUT must be >= 0 (got %s)", c.Timeout)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("APICALLER_MAX_CONCURRENCY must be >= 0 (got %d)", c.MaxConcurrency)
	}
	return nil
}

// ClientConfig returns the fetch client configuration backed by store.
func (c Config) ClientConfig(store cache.Store) client.Config {
	return client.Config{
		Store:     store,
		TTL:       c.TTL,
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
	}
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Pretty = c.LogPretty
	return cfg
}

// OpenStore builds the configured cache store. It returns a nil store for
// the "none" backend. The store owns any connection it opens.
func OpenStore(ctx context.Context, c Config) (cache.Store, error) {
	var (
		store cache.Store
		err   error
	)

	switch c.CacheBackend {
	case BackendNone:
		return nil, nil
	case BackendSQLite:
		store, err = cache.OpenSQLite(c.CachePath, cache.SQLConfig{})
	case BackendPostgres:
		store, err = cache.OpenPostgres(ctx, c.PostgresDSN, cache.SQLConfig{})
	case BackendRedis:
		store, err = openRedis(ctx, c)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if err != nil {
		return nil, err
	}

	if !c.MemoryTier {
		return store, nil
	}
	tiered, err := cache.NewTieredStore(cache.TieredConfig{Back: store})
	if err != nil {
		store.Close()
		return nil, err
	}
	return tiered, nil
}

func openRedis(ctx context.Context, c Config) (cache.Store, error) {
	opts, err := redisOptions(c.RedisURL)
	if err != nil {
		return nil, err
	}
	codec, err := cache.CodecByName(c.CacheCodec)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	store, err := cache.NewRedisStore(cache.RedisConfig{
		Client:      rdb,
		Codec:       codec,
		CloseClient: true,
	})
	if err != nil {
		rdb.Close()
		return nil, err
	}
	return store, nil
}

// redisOptions accepts a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
