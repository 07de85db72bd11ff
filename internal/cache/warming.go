package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
)

// HeatmapFetcher is implemented by the service layer to render (and cache) a day.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type HeatmapFetcher interface {
	Heatmap(ctx context.Context, index int, format render.Format) ([]byte, error)
	DayCount(ctx context.Context) (int, error)
}

const defaultWarmConcurrency = 4

// CacheWarmer pre-renders heatmaps so first page views hit the cache.
type CacheWarmer struct {
	fetcher     HeatmapFetcher
	logger      *zap.Logger
	concurrency int
}

// NewCacheWarmer creates a CacheWarmer running at most concurrency renders at once.
func NewCacheWarmer(fetcher HeatmapFetcher, logger *zap.Logger, concurrency int) *CacheWarmer {
	if concurrency <= 0 {
		concurrency = defaultWarmConcurrency
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, concurrency: concurrency}
}

// Warm renders each index in format through the fetcher.
// Returns an aggregated error if any index failed.
func (w *CacheWarmer) Warm(ctx context.Context, indices []int, format render.Format) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("days", len(indices)), zap.String("format", string(format)))
	}

	sem := make(chan struct{}, w.concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
loop:
	for _, idx := range indices {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := w.fetcher.Heatmap(ctx, idx, format); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm day %d: %w", idx, err))
				mu.Unlock()
			}
		}(idx)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("days", len(indices)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmAll warms every day of the dataset.
func (w *CacheWarmer) WarmAll(ctx context.Context, format render.Format) error {
	n, err := w.fetcher.DayCount(ctx)
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", err)
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return w.Warm(ctx, indices, format)
}
