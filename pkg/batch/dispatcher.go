package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/async-api-caller/pkg/cache"
	"github.com/Sternrassler/async-api-caller/pkg/client"
	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/Sternrassler/async-api-caller/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apicaller_batches_total",
		Help: "Total dispatched batches",
	})

	batchUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicaller_batch_units_total",
		Help: "Completed fetch units by outcome (fetched, cache_hit, absent)",
	}, []string{"outcome"})
)

// Fetcher performs a single fetch. *client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (client.Outcome, error)
}

// Config holds dispatcher configuration.
type Config struct {
	// MaxConcurrency bounds in-flight fetches (0 = one goroutine per parameter set)
	MaxConcurrency int
}

// DefaultConfig returns the unbounded configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 0}
}

// Summary describes a finished batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	CacheHits int
	Duration  time.Duration
}

// Dispatcher fans a batch out over a Fetcher and gathers the results.
type Dispatcher struct {
	fetcher  Fetcher
	reporter progress.Reporter
	config   Config
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher. A nil reporter is replaced by progress.Nop.
func NewDispatcher(fetcher Fetcher, reporter progress.Reporter, config Config) *Dispatcher {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	if config.MaxConcurrency < 0 {
		config.MaxConcurrency = 0
	}

	return &Dispatcher{
		fetcher:  fetcher,
		reporter: reporter,
		config:   config,
		logger:   logging.NewLogger(logging.ComponentBatch),
		tracer:   otel.Tracer("github.com/Sternrassler/async-api-caller/pkg/batch"),
	}
}

// Dispatch fetches endpoint once per parameter set and returns the
// successful results in the order of params. Failed fetches are omitted.
// The only error is a *cache.SerializationError for an unusable parameter
// set, or the context error if ctx ends first.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, headers map[string]string, params []client.Params) ([]any, error) {
	results, _, err := d.DispatchWithSummary(ctx, endpoint, headers, params)
	return results, err
}

// DispatchWithSummary is Dispatch plus counts for the batch.
func (d *Dispatcher) DispatchWithSummary(ctx context.Context, endpoint string, headers map[string]string, params []client.Params) ([]any, Summary, error) {
	start := time.Now()
	summary := Summary{Total: len(params)}

	ctx, span := d.tracer.Start(ctx, "apicaller.batch", trace.WithAttributes(
		attribute.String("apicaller.endpoint", endpoint),
		attribute.Int("apicaller.units", len(params)),
	))
	defer span.End()

	// Validate every parameter set before any request goes out
	slots, err := newSlotIndex(endpoint, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid parameters")
		return nil, summary, err
	}

	batchesTotal.Inc()
	d.logger.Info().
		Str("endpoint", endpoint).
		Int("total", len(params)).
		Int("max_concurrency", d.config.MaxConcurrency).
		Msg("Starting batch")

	d.reporter.Start(len(params))
	defer d.reporter.Finish()

	// Buffered so finished units never wait on the gatherer
	outcomes := make(chan client.Outcome, len(params))
	done := make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	if d.config.MaxConcurrency > 0 {
		g.SetLimit(d.config.MaxConcurrency)
	}

	// Launch from a separate goroutine: with a limit, g.Go blocks and the
	// gatherer below must keep observing arrivals meanwhile
	go func() {
		for _, p := range params {
			req := client.Request{Endpoint: endpoint, Params: p, Headers: headers}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := d.fetcher.Fetch(gctx, req)
				if err != nil {
					return err
				}
				outcomes <- out
				return nil
			})
		}
		done <- g.Wait()
		close(outcomes)
	}()

	// Gather in arrival order
	ordered := make([]client.Outcome, len(params))
	for out := range outcomes {
		d.reporter.Advance()

		idx, err := slots.claim(endpoint, out)
		if err != nil {
			d.logger.Error().Err(err).Str("key", out.Key).Msg("Unmatched outcome")
			continue
		}
		ordered[idx] = out

		switch {
		case !out.OK:
			summary.Failed++
			batchUnitsTotal.WithLabelValues("absent").Inc()
		case out.CacheHit:
			summary.Succeeded++
			summary.CacheHits++
			batchUnitsTotal.WithLabelValues("cache_hit").Inc()
		default:
			summary.Succeeded++
			batchUnitsTotal.WithLabelValues("fetched").Inc()
		}
	}

	summary.Duration = time.Since(start)

	if err := <-done; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch aborted")
		d.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("completed", summary.Succeeded+summary.Failed).
			Int("total", summary.Total).
			Msg("Batch aborted")
		return nil, summary, fmt.Errorf("dispatch %s: %w", endpoint, err)
	}

	// Walk slots in input order, dropping absent outcomes
	results := make([]any, 0, summary.Succeeded)
	for _, out := range ordered {
		if out.OK {
			results = append(results, out.Value)
		}
	}

	span.SetAttributes(
		attribute.Int("apicaller.succeeded", summary.Succeeded),
		attribute.Int("apicaller.failed", summary.Failed),
	)
	d.logger.Info().
		Str("endpoint", endpoint).
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("cache_hits", summary.CacheHits).
		Dur("duration", summary.Duration).
		Msg("Batch complete")

	return results, summary, nil
}

// errUnmatched reports an outcome whose parameter set has no free slot.
var errUnmatched = errors.New("outcome matches no unclaimed parameter set")

// slotIndex maps a parameter set's identity (its cache key) to the input
// positions holding an equal set that have not been claimed yet, lowest
// first. Each arriving outcome claims the first free position, so the i-th
// outcome for a duplicated set fills the i-th occurrence.
type slotIndex map[string][]int

func newSlotIndex(endpoint string, params []client.Params) (slotIndex, error) {
	slots := make(slotIndex, len(params))
	for i, p := range params {
		key, err := cache.Key(endpoint, p)
		if err != nil {
			return nil, fmt.Errorf("parameter set %d: %w", i, err)
		}
		slots[key] = append(slots[key], i)
	}
	return slots, nil
}

func (s slotIndex) claim(endpoint string, out client.Outcome) (int, error) {
	key := out.Key
	if key == "" {
		k, err := cache.Key(endpoint, out.Params)
		if err != nil {
			return 0, err
		}
		key = k
	}

	free := s[key]
	if len(free) == 0 {
		return 0, errUnmatched
	}
	s[key] = free[1:]
	return free[0], nil
}
