package client

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/async-api-caller/internal/testutil"
	"github.com/Sternrassler/async-api-caller/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore opens a throwaway SQLite cache.
func setupStore(t *testing.T) *cache.SQLStore {
	t.Helper()

	store, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), cache.SQLConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func setupClient(t *testing.T, store cache.Store) *Client {
	t.Helper()

	c, err := New(DefaultConfig(store))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// failingStore returns err from every operation.
type failingStore struct {
	err  error
	mu   sync.Mutex
	sets int
}

func (s *failingStore) Get(context.Context, string) (*cache.Entry, error) { return nil, s.err }
func (s *failingStore) Set(context.Context, string, any, time.Duration) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.err
}
func (s *failingStore) Clear(context.Context) (int64, error) { return 0, s.err }
func (s *failingStore) Close() error                         { return nil }

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(nil),
		},
		{
			name:   "zero values use defaults",
			config: Config{},
		},
		{
			name:   "no expiry",
			config: Config{TTL: NoExpiry},
		},
		{
			name:        "negative timeout",
			config:      Config{Timeout: -time.Second},
			expectError: true,
			errorMsg:    "timeout must be >= 0",
		},
		{
			name:        "negative ttl",
			config:      Config{TTL: -time.Minute},
			expectError: true,
			errorMsg:    "ttl must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultTTL, c.config.TTL)
	assert.Equal(t, DefaultTimeout, c.config.Timeout)
	assert.Equal(t, 100*time.Hour, DefaultTTL)
	assert.Nil(t, c.Store())
}

func TestFetch_Success(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetQueryResponse("/items", "id=1", testutil.NewJSONResponse(`{"id": 1, "name": "first"}`))

	store := setupStore(t)
	c := setupClient(t, store)

	out, err := c.Fetch(context.Background(), Request{
		Endpoint: mock.URL() + "/items",
		Params:   Params{"id": 1},
	})
	require.NoError(t, err)

	assert.True(t, out.OK)
	assert.False(t, out.CacheHit)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "first"}, out.Value)
	assert.Equal(t, Params{"id": 1}, out.Params)

	wantKey, err := cache.Key(mock.URL()+"/items", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, wantKey, out.Key)

	// The response was written to the cache
	entry, err := store.Get(context.Background(), out.Key)
	require.NoError(t, err)
	assert.Equal(t, out.Value, entry.Value)
	assert.True(t, entry.HasExpiry())
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c := setupClient(t, setupStore(t))
	req := Request{Endpoint: mock.URL() + "/echo", Params: Params{"q": "go"}}

	first, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.OK)

	second, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.OK)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestFetch_NullBodyIsCachedSuccess(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/null", testutil.NewJSONResponse(`null`))

	c := setupClient(t, setupStore(t))
	req := Request{Endpoint: mock.URL() + "/null", Params: Params{}}

	out, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Nil(t, out.Value)

	out, err = c.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.CacheHit)
	assert.Nil(t, out.Value)
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestFetch_TransportFailuresAreAbsent(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockAPIResponse
	}{
		{"server error", testutil.NewServerErrorResponse()},
		{"not found", testutil.NewNotFoundResponse()},
		{"malformed body", testutil.NewMalformedResponse()},
		{"redirect status", testutil.MockAPIResponse{StatusCode: http.StatusNotModified}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockAPI()
			defer mock.Close()
			mock.SetResponse("/fail", tt.resp)

			store := setupStore(t)
			c := setupClient(t, store)

			out, err := c.Fetch(context.Background(), Request{
				Endpoint: mock.URL() + "/fail",
				Params:   Params{"id": 7},
			})
			require.NoError(t, err)
			assert.False(t, out.OK)
			assert.Nil(t, out.Value)
			assert.NotEmpty(t, out.Key)

			// Failures are never cached
			_, err = store.Get(context.Background(), out.Key)
			assert.ErrorIs(t, err, cache.ErrCacheMiss)
		})
	}
}

func TestFetch_NetworkErrorIsAbsent(t *testing.T) {
	mock := testutil.NewMockAPI()
	endpoint := mock.URL() + "/gone"
	mock.Close()

	c := setupClient(t, nil)
	out, err := c.Fetch(context.Background(), Request{Endpoint: endpoint, Params: Params{"id": 1}})
	require.NoError(t, err)
	assert.False(t, out.OK)
}

func TestFetch_TimeoutIsAbsent(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.NewDelayedResponse(`{}`, 500*time.Millisecond))

	c, err := New(Config{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	out, err := c.Fetch(context.Background(), Request{Endpoint: mock.URL() + "/slow"})
	require.NoError(t, err)
	assert.False(t, out.OK)
}

func TestFetch_SerializationError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c := setupClient(t, nil)
	_, err := c.Fetch(context.Background(), Request{
		Endpoint: mock.URL() + "/items",
		Params:   Params{"bad": struct{ X int }{1}},
	})
	require.Error(t, err)

	var serr *cache.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "bad", serr.Param)
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestFetch_StoreFaultDegradesToMiss(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	store := &failingStore{err: errors.New("disk on fire")}
	c := setupClient(t, store)

	out, err := c.Fetch(context.Background(), Request{
		Endpoint: mock.URL() + "/echo",
		Params:   Params{"id": 3},
	})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, map[string]any{"id": "3"}, out.Value)
	assert.Equal(t, 1, store.sets)
}

func TestFetch_ExpiredEntryRefetches(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), cache.SQLConfig{Clock: clock})
	require.NoError(t, err)
	defer store.Close()

	c, err := New(Config{Store: store, TTL: time.Minute})
	require.NoError(t, err)

	req := Request{Endpoint: mock.URL() + "/echo", Params: Params{"id": 1}}
	_, err = c.Fetch(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	out, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 2, mock.GetRequestCount())
}

func TestFetch_NoExpiry(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	store := setupStore(t)
	c, err := New(Config{Store: store, TTL: NoExpiry})
	require.NoError(t, err)

	out, err := c.Fetch(context.Background(), Request{Endpoint: mock.URL() + "/echo", Params: Params{"id": 1}})
	require.NoError(t, err)

	entry, err := store.Get(context.Background(), out.Key)
	require.NoError(t, err)
	assert.False(t, entry.HasExpiry())
}

func TestFetch_HeadersAndQuery(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c, err := New(Config{UserAgent: "apicaller-test/1.0"})
	require.NoError(t, err)

	out, err := c.Fetch(context.Background(), Request{
		Endpoint: mock.URL() + "/echo?fixed=yes",
		Params:   Params{"ids": []int{1, 2}, "ratio": 0.5, "flag": true},
		Headers:  map[string]string{"Authorization": "Bearer token"},
	})
	require.NoError(t, err)
	require.True(t, out.OK)

	assert.Equal(t, map[string]any{
		"fixed": "yes",
		"ids":   []any{"1", "2"},
		"ratio": "0.5",
		"flag":  "true",
	}, out.Value)

	header := mock.GetLastRequestHeader()
	assert.Equal(t, "Bearer token", header.Get("Authorization"))
	assert.Equal(t, "application/json", header.Get("Accept"))
	assert.Equal(t, "apicaller-test/1.0", header.Get("User-Agent"))
}

func TestFetch_CallerUserAgentWins(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c, err := New(Config{UserAgent: "default/1.0"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), Request{
		Endpoint: mock.URL() + "/echo",
		Headers:  map[string]string{"User-Agent": "custom/2.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "custom/2.0", mock.GetLastRequestHeader().Get("User-Agent"))
}

func TestEncodeQuery(t *testing.T) {
	q, err := EncodeQuery(Params{
		"a":    1,
		"b":    "x y",
		"c":    []string{"p", "q"},
		"d":    2.5,
		"e":    false,
		"big":  uint64(1 << 63),
		"frac": float32(0.25),
	})
	require.NoError(t, err)

	assert.Equal(t, "1", q.Get("a"))
	assert.Equal(t, "x y", q.Get("b"))
	assert.Equal(t, []string{"p", "q"}, q["c"])
	assert.Equal(t, "2.5", q.Get("d"))
	assert.Equal(t, "false", q.Get("e"))
	assert.Equal(t, "9223372036854775808", q.Get("big"))
	assert.Equal(t, "0.25", q.Get("frac"))

	_, err = EncodeQuery(Params{"nested": [][]int{{1}}})
	var serr *cache.SerializationError
	assert.ErrorAs(t, err, &serr)
}
