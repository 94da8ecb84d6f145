// Command apicaller fetches one endpoint for every parameter set in a JSON
// file and prints the successful results, in input order, as a JSON array.
//
// Usage:
//
//	apicaller <endpoint> <params.json|->
//	apicaller purge
//
// Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/async-api-caller/internal/config"
	"github.com/Sternrassler/async-api-caller/pkg/batch"
	"github.com/Sternrassler/async-api-caller/pkg/client"
	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/Sternrassler/async-api-caller/pkg/metrics"
	"github.com/Sternrassler/async-api-caller/pkg/progress"
	"github.com/rs/zerolog/log"
)

const usage = `usage:
  apicaller <endpoint> <params.json|->   fetch endpoint once per parameter set
  apicaller purge                        remove expired cache entries`

var errUsage = errors.New(usage)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// realMain returns the process exit code: 0 on success, 1 when the command
// fails and 2 for usage or configuration errors.
func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 2
	}
	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
	}

	if err := run(ctx, cfg, args, stdin, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, usage)
			return 2
		}
		log.Error().Err(err).Msg("apicaller failed")
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	switch {
	case len(args) == 1 && args[0] == "purge":
		return purge(ctx, cfg, stdout)
	case len(args) == 2:
		return fetch(ctx, cfg, args[0], args[1], stdin, stdout)
	default:
		return errUsage
	}
}

func fetch(ctx context.Context, cfg config.Config, endpoint, paramsPath string, stdin io.Reader, stdout io.Writer) error {
	params, err := readParams(paramsPath, stdin)
	if err != nil {
		return err
	}

	store, err := config.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	c, err := client.New(cfg.ClientConfig(store))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	reporter := progress.NewLog(logging.NewLogger(logging.ComponentBatch), progress.DefaultStep)
	d := batch.NewDispatcher(c, reporter, batch.Config{MaxConcurrency: cfg.MaxConcurrency})

	results, summary, err := d.DispatchWithSummary(ctx, endpoint, cfg.Headers, params)
	if err != nil {
		return err
	}

	log.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("cache_hits", summary.CacheHits).
		Dur("duration", summary.Duration).
		Msg("Done")

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func purge(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	store, err := config.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if store == nil {
		return fmt.Errorf("no cache configured (APICALLER_CACHE_BACKEND=%s)", cfg.CacheBackend)
	}
	defer store.Close()

	n, err := store.Clear(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	fmt.Fprintf(stdout, "purged %d expired entries\n", n)
	return nil
}

// readParams decodes a JSON array of parameter objects from path, or from
// stdin when path is "-". Numbers keep their literal form so large
// integers survive.
func readParams(path string, stdin io.Reader) ([]client.Params, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open params: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var params []client.Params
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode params (want a JSON array of objects): %w", err)
	}
	for i, p := range params {
		if p == nil {
			return nil, fmt.Errorf("params[%d] is not an object", i)
		}
	}
	return params, nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
