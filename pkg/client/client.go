// Package client performs single cached GET requests: the fetch unit of a
// batch. A fetch consults the response cache, falls back to the network, and
// records transport failures as absent outcomes instead of errors.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/async-api-caller/pkg/cache"
	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicaller_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apicaller_request_duration_seconds",
		Help:    "Upstream request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicaller_errors_total",
		Help: "Total transport errors by class",
	}, []string{"class"})
)

const (
	// DefaultTTL is how long successful responses stay cached.
	DefaultTTL = 100 * time.Hour

	// NoExpiry as Config.TTL caches responses without expiry.
	NoExpiry time.Duration = -1

	// DefaultTimeout bounds a single request including reading the body.
	DefaultTimeout = 30 * time.Second

	// maxDrain is how much of an error body is read to keep the connection reusable.
	maxDrain = 64 << 10
)

// Params is one parameter set: query parameter name to scalar or sequence value.
type Params map[string]any

// Request describes one logical GET.
type Request struct {
	Endpoint string
	Params   Params
	Headers  map[string]string
}

// Outcome is the result of one fetch. OK is false for the absent marker,
// which is distinct from a successful JSON null (OK true, Value nil).
type Outcome struct {
	// Params is the request's parameter set, echoed back
	Params Params

	// Key is the cache key of (endpoint, params); equal parameter sets share it
	Key string

	// Value is the decoded JSON body or cached value
	Value any

	OK       bool
	CacheHit bool
}

// Client performs fetches over one shared http.Client.
type Client struct {
	httpClient *http.Client
	store      cache.Store
	config     Config
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// Config holds the client configuration.
type Config struct {
	// Store caches successful responses; nil disables caching
	Store cache.Store

	// TTL for cached responses (0 = DefaultTTL, NoExpiry = never expires)
	TTL time.Duration

	// Timeout per request (0 = DefaultTimeout)
	Timeout time.Duration

	// UserAgent is sent unless the request headers set one
	UserAgent string
}

// DefaultConfig returns a configuration caching into store.
func DefaultConfig(store cache.Store) Config {
	return Config{
		Store:   store,
		TTL:     DefaultTTL,
		Timeout: DefaultTimeout,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}
	if cfg.TTL < 0 && cfg.TTL != NoExpiry {
		return nil, fmt.Errorf("ttl must be >= 0 or NoExpiry (got %s)", cfg.TTL)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Many units hit the same host at once; keep their connections pooled
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 100

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		store:  cfg.Store,
		config: cfg,
		logger: logging.NewLogger(logging.ComponentClient),
		tracer: otel.Tracer("github.com/Sternrassler/async-api-caller/pkg/client"),
	}, nil
}

// Fetch performs one logical request: cache lookup, then network, then
// cache write. Transport and store failures are logged and never returned;
// the only error is a *cache.SerializationError for unusable parameters.
func (c *Client) Fetch(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{Params: req.Params}

	key, err := cache.Key(req.Endpoint, req.Params)
	if err != nil {
		return out, fmt.Errorf("cache key: %w", err)
	}
	out.Key = key

	ctx, span := c.tracer.Start(ctx, "apicaller.fetch", trace.WithAttributes(
		attribute.String("apicaller.endpoint", req.Endpoint),
		attribute.String("apicaller.key", key),
	))
	defer span.End()

	// Step 1: Check Cache
	if c.store != nil {
		entry, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().
				Str("endpoint", req.Endpoint).
				Str("key", key).
				Bool("cache_hit", true).
				Msg("Serving cached response")
			span.SetAttributes(attribute.Bool("apicaller.cache_hit", true))
			out.Value, out.OK, out.CacheHit = entry.Value, true, true
			return out, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache get error, treating as miss")
		}
	}

	// Step 2: Execute HTTP Request
	value, err := c.do(ctx, req)
	if err != nil {
		class := ErrorClassNetwork
		var terr *TransportError
		if errors.As(err, &terr) {
			class = terr.Class
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Err(err).
			Str("endpoint", req.Endpoint).
			Str("error_class", string(class)).
			Msg("Request failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(class))
		return out, nil
	}
	out.Value, out.OK = value, true

	// Step 3: Update Cache on success
	if c.store != nil {
		if err := c.store.Set(ctx, key, value, c.storeTTL()); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("key", key).
				Dur("ttl", c.config.TTL).
				Msg("Cached response")
		}
	}

	return out, nil
}

// do issues the GET and decodes the JSON body.
func (c *Client) do(ctx context.Context, req Request) (any, error) {
	u, err := url.Parse(req.Endpoint)
	if err != nil {
		return nil, &TransportError{Endpoint: req.Endpoint, Class: ErrorClassRequest, Message: "parse endpoint", Err: err}
	}

	query, err := EncodeQuery(req.Params)
	if err != nil {
		return nil, &TransportError{Endpoint: req.Endpoint, Class: ErrorClassRequest, Message: "encode query", Err: err}
	}
	merged := u.Query()
	for name, values := range query {
		merged[name] = values
	}
	u.RawQuery = merged.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Endpoint: req.Endpoint, Class: ErrorClassRequest, Message: "create request", Err: err}
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if c.config.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", req.Endpoint).
		Str("query", u.RawQuery).
		Msg("Executing request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	requestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &TransportError{Endpoint: req.Endpoint, Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if !isSuccess(resp.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		return nil, &TransportError{
			Endpoint:   req.Endpoint,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: req.Endpoint, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, &TransportError{Endpoint: req.Endpoint, StatusCode: resp.StatusCode, Class: ErrorClassDecode, Message: "decode JSON body", Err: err}
	}
	return value, nil
}

func (c *Client) storeTTL() time.Duration {
	if c.config.TTL == NoExpiry {
		return 0
	}
	return c.config.TTL
}

// EncodeQuery renders params as query values. Sequence values become
// repeated keys.
func EncodeQuery(params Params) (url.Values, error) {
	normalized, err := cache.Canonicalize(params)
	if err != nil {
		return nil, err
	}

	q := make(url.Values, len(normalized))
	for name, v := range normalized {
		if seq, ok := v.([]any); ok {
			for _, item := range seq {
				q.Add(name, formatScalar(item))
			}
			continue
		}
		q.Set(name, formatScalar(v))
	}
	return q, nil
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Close releases idle connections. The store is owned by the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Store returns the configured cache store, or nil.
func (c *Client) Store() cache.Store {
	return c.store
}
