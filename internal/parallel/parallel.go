// Package parallel provides bounded fan-out helpers for CPU kernels.
package parallel

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var workers atomic.Int64

func init() {
	workers.Store(int64(runtime.NumCPU()))
}

// SetWorkers sets the process-wide worker limit used by DefaultConfig.
// Values below 1 reset it to runtime.NumCPU().
func SetWorkers(n int) {
	if n < 1 {
		n = runtime.NumCPU()
	}
	workers.Store(int64(n))
}

// Workers returns the current process-wide worker limit.
func Workers() int {
	return int(workers.Load())
}

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Maximum number of concurrent goroutines.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns a config bounded by the process-wide worker limit.
func DefaultConfig() Config {
	n := Workers()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1,
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	_ = ForErr(context.Background(), n, func(i int) error {
		f(i)
		return nil
	}, cfg)
}

// ForErr is For with error propagation and cancellation. The first error
// cancels the remaining chunks and is returned.
func ForErr(ctx context.Context, n int, f func(i int) error, cfg Config) error {
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2*max(cfg.MinChunkSize, 1) {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(i); err != nil {
				return err
			}
		}
		return nil
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := f(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ForBatch is For over a batch*channels grid, common in convolution kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	n := batch * channels
	For(n, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
