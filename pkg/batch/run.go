package batch

import (
	"context"
	"fmt"

	"github.com/Sternrassler/async-api-caller/pkg/cache"
	"github.com/Sternrassler/async-api-caller/pkg/client"
	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/Sternrassler/async-api-caller/pkg/progress"
)

// Run fetches endpoint for every parameter set through the SQLite cache at
// cache.DefaultPath, logging progress, and returns the successful results
// in input order. The cache file is created in the working directory.
func Run(ctx context.Context, endpoint string, headers map[string]string, params []client.Params) ([]any, error) {
	store, err := cache.OpenSQLite(cache.DefaultPath, cache.SQLConfig{})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	return RunWithStore(ctx, store, endpoint, headers, params)
}

// RunWithStore is Run against a caller-owned store. A nil store disables caching.
func RunWithStore(ctx context.Context, store cache.Store, endpoint string, headers map[string]string, params []client.Params) ([]any, error) {
	c, err := client.New(client.DefaultConfig(store))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	reporter := progress.NewLog(logging.NewLogger(logging.ComponentBatch), progress.DefaultStep)
	return NewDispatcher(c, reporter, DefaultConfig()).Dispatch(ctx, endpoint, headers, params)
}
