package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/cache"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/circuitbreaker"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
)

// DatasetSource returns the dataset for a pattern. Implemented by Registry.
type DatasetSource interface {
	Get(ctx context.Context, pattern string) (*dataset.Dataset, error)
}

// ViewerConfig configures a ViewerService.
type ViewerConfig struct {
	Pattern         string
	CacheTTL        time.Duration
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
}

// ViewerService serves dates, day slices and rendered heatmaps for one dataset pattern.
// Heatmaps use the cache-aside pattern: check cache, render on miss, populate cache.
type ViewerService struct {
	source    DatasetSource
	pattern   string
	renderer  *render.Renderer
	cache     cache.Cache
	ttl       time.Duration
	misses    *missTracker
	coalescer *requestCoalescer[[]byte] // nil if disabled
}

// NewViewerService creates a ViewerService. Coalescing is disabled when the timeout is 0.
func NewViewerService(source DatasetSource, renderer *render.Renderer, c cache.Cache, cfg ViewerConfig) *ViewerService {
	var coalescer *requestCoalescer[[]byte]
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer[[]byte](cfg.CoalesceTimeout)
	}
	return &ViewerService{
		source:    source,
		pattern:   cfg.Pattern,
		renderer:  renderer,
		cache:     c,
		ttl:       cfg.CacheTTL,
		misses:    newMissTracker(),
		coalescer: coalescer,
	}
}

// Dataset returns the memoized dataset, loading it on first use.
func (s *ViewerService) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	return s.source.Get(ctx, s.pattern)
}

// Dates returns the observation dates of the time axis.
func (s *ViewerService) Dates(ctx context.Context) ([]time.Time, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.Dates(), nil
}

// DayCount returns the length of the time axis.
func (s *ViewerService) DayCount(ctx context.Context) (int, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return 0, err
	}
	return ds.Len(), nil
}

// Day materializes slice index. Out-of-range indices return *dataset.IndexError.
func (s *ViewerService) Day(ctx context.Context, index int) (dataset.Day, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return dataset.Day{}, err
	}
	return s.readDay(ds, index)
}

func (s *ViewerService) readDay(ds *dataset.Dataset, index int) (dataset.Day, error) {
	if err := ds.CheckIndex(index); err != nil {
		return dataset.Day{}, err
	}
	start := time.Now()
	day, err := ds.Day(index)
	observability.SliceReadDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SliceReadsTotal.WithLabelValues("error").Inc()
		return dataset.Day{}, err
	}
	observability.SliceReadsTotal.WithLabelValues("success").Inc()
	return day, nil
}

// Heatmap returns slice index rendered in format, from cache when possible.
func (s *ViewerService) Heatmap(ctx context.Context, index int, format render.Format) ([]byte, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	if err := ds.CheckIndex(index); err != nil {
		return nil, err
	}
	key := HeatmapKey(ds.Fingerprint(), index, format)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, nil)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("heatmap").Inc()
		if logger != nil {
			logger.Debug("heatmap served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("heatmap").Inc()

	concurrentMisses, release := s.misses.begin(key)
	defer release()
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(string(format)).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(string(format)).Observe(float64(concurrentMisses))
	}

	renderFn := func() ([]byte, error) {
		return s.render(ds, index, format)
	}
	var data []byte
	if s.coalescer != nil {
		coalesceStart := time.Now()
		var shared bool
		data, shared, err = s.coalescer.GetOrDo(ctx, key, renderFn)
		if err == nil && shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(string(format)).Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(coalesceStart).Seconds())
		}
	} else {
		data, err = renderFn()
	}
	if err != nil {
		return nil, err
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	if logger != nil {
		logger.Debug("heatmap served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return data, nil
}

func (s *ViewerService) render(ds *dataset.Dataset, index int, format render.Format) ([]byte, error) {
	day, err := s.readDay(ds, index)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := s.renderer.RenderBytes(day.Grid, day.DisplayDate(), format)
	observability.HeatmapRenderDurationSeconds.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.HeatmapRendersTotal.WithLabelValues(string(format), "error").Inc()
		return nil, fmt.Errorf("render day %d: %w", index, err)
	}
	observability.HeatmapRendersTotal.WithLabelValues(string(format), "success").Inc()
	return data, nil
}

// HeatmapKey is the cache key for a rendered day: a fingerprint prefix, the index and the format.
func HeatmapKey(fingerprint string, index int, format render.Format) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return fmt.Sprintf("%s:%d:%s", fingerprint, index, format)
}

// categorizeCacheError returns a stable label for cache error metrics
// (circuit_open, timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
