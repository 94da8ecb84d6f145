// Package batch fetches one endpoint across many parameter sets concurrently
// and returns the results in the caller's order.
//
// Example usage:
//
//	store, _ := cache.OpenSQLite(cache.DefaultPath, cache.SQLConfig{})
//	c, _ := client.New(client.DefaultConfig(store))
//	d := batch.NewDispatcher(c, progress.Nop{}, batch.DefaultConfig())
//	results, err := d.Dispatch(ctx, "https://api.example.com/items", nil, []client.Params{
//		{"id": 1},
//		{"id": 2},
//	})
//
// The dispatcher:
//   - Validates every parameter set up front (cache key computation)
//   - Launches one fetch per parameter set, optionally bounded
//   - Advances the progress reporter once per completed fetch
//   - Reorders outcomes to input order; duplicates fill their slots first come first served
//   - Drops failed fetches instead of failing the batch
//
// Run is the one-call form backed by the default SQLite cache.
package batch
