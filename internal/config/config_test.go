package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/async-api-caller/pkg/cache"
	"github.com/Sternrassler/async-api-caller/pkg/client"
	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.CacheBackend)
	assert.Equal(t, cache.DefaultPath, cfg.CachePath)
	assert.Equal(t, "json", cfg.CacheCodec)
	assert.Equal(t, client.DefaultTTL, cfg.TTL)
	assert.Equal(t, client.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxConcurrency)
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.MemoryTier)
	assert.Nil(t, cfg.Headers)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APICALLER_CACHE_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6380/2")
	t.Setenv("APICALLER_CACHE_CODEC", "msgpack")
	t.Setenv("APICALLER_MEMORY_TIER", "true")
	t.Setenv("APICALLER_TTL", "2h")
	t.Setenv("APICALLER_TIMEOUT", "5s")
	t.Setenv("APICALLER_MAX_CONCURRENCY", "8")
	t.Setenv("APICALLER_USER_AGENT", "test/1.0")
	t.Setenv("APICALLER_HEADERS", `{"Authorization": "Bearer x"}`)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.CacheBackend)
	assert.Equal(t, "msgpack", cfg.CacheCodec)
	assert.True(t, cfg.MemoryTier)
	assert.Equal(t, 2*time.Hour, cfg.TTL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, map[string]string{"Authorization": "Bearer x"}, cfg.Headers)

	cc := cfg.ClientConfig(nil)
	assert.Equal(t, "test/1.0", cc.UserAgent)
	assert.Equal(t, 2*time.Hour, cc.TTL)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.Pretty)
}

func TestLoad_NeverExpires(t *testing.T) {
	t.Setenv("APICALLER_TTL", "never")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, client.NoExpiry, cfg.TTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		errorMsg string
	}{
		{"backend", "APICALLER_CACHE_BACKEND", "mongo", "unknown cache backend"},
		{"codec", "APICALLER_CACHE_CODEC", "xml", "unknown codec"},
		{"ttl", "APICALLER_TTL", "soon", "APICALLER_TTL"},
		{"negative ttl", "APICALLER_TTL", "-1h", "APICALLER_TTL must be >= 0"},
		{"timeout", "APICALLER_TIMEOUT", "-1s", "APICALLER_TIMEOUT must be >= 0"},
		{"concurrency", "APICALLER_MAX_CONCURRENCY", "many", "APICALLER_MAX_CONCURRENCY"},
		{"negative concurrency", "APICALLER_MAX_CONCURRENCY", "-2", "APICALLER_MAX_CONCURRENCY must be >= 0"},
		{"memory tier", "APICALLER_MEMORY_TIER", "maybe", "APICALLER_MEMORY_TIER"},
		{"headers", "APICALLER_HEADERS", `["a"]`, "APICALLER_HEADERS"},
		{"postgres without dsn", "APICALLER_CACHE_BACKEND", "postgres", "POSTGRES_DSN is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cfg := Config{CacheBackend: BackendSQLite, CachePath: path}

	store, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*cache.SQLStore)
	assert.True(t, ok, "expected *cache.SQLStore, got %T", store)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v", time.Hour))
	entry, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", entry.Value)
}

func TestOpenStore_MemoryTier(t *testing.T) {
	cfg := Config{
		CacheBackend: BackendSQLite,
		CachePath:    filepath.Join(t.TempDir(), "cache.db"),
		MemoryTier:   true,
	}

	store, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*cache.TieredStore)
	assert.True(t, ok, "expected *cache.TieredStore, got %T", store)
}

func TestOpenStore_None(t *testing.T) {
	store, err := OpenStore(context.Background(), Config{CacheBackend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestOpenStore_RedisUnavailable(t *testing.T) {
	cfg := Config{CacheBackend: BackendRedis, RedisURL: "localhost:1", CacheCodec: "json"}

	_, err := OpenStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = redisOptions("redis://:secret@cache:6380/3")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	_, err = redisOptions("redis://host/notanumber")
	assert.Error(t, err)
}
