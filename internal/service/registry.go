package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
)

// DiscoverFunc resolves a directory or glob to a sorted file list.
type DiscoverFunc func(pattern string) ([]string, error)

// LoadFunc builds a dataset from a resolved file list.
type LoadFunc func(ctx context.Context, files []string, opts dataset.Options) (*dataset.Dataset, error)

const defaultLoadTimeout = 2 * time.Minute

// Registry memoizes loaded datasets for the process lifetime.
// Concurrent first access for a pattern runs discovery once, and concurrent loads of
// one file set (by fingerprint) run once, even when reached through different patterns.
// Every waiter gets the same *Dataset or the same error. Failures are not memoized,
// so the next request retries.
type Registry struct {
	opts     dataset.Options
	timeout  time.Duration
	logger   *zap.Logger
	discover DiscoverFunc
	load     LoadFunc

	discoveries *requestCoalescer[*dataset.Dataset] // by pattern
	loads       *requestCoalescer[*dataset.Dataset] // by file-set fingerprint

	mu        sync.RWMutex
	byPattern map[string]string           // pattern -> fingerprint
	byPrint   map[string]*dataset.Dataset // fingerprint -> dataset
	lastErr   error
}

// NewRegistry returns a Registry loading with opts. loadTimeout bounds a single load
// (and how long a caller waits for it); zero uses a default.
func NewRegistry(opts dataset.Options, loadTimeout time.Duration, logger *zap.Logger) *Registry {
	return NewRegistryWith(opts, loadTimeout, logger, dataset.Discover, dataset.LoadFiles)
}

// NewRegistryWith is NewRegistry with injectable discovery and load steps.
func NewRegistryWith(opts dataset.Options, loadTimeout time.Duration, logger *zap.Logger, discover DiscoverFunc, load LoadFunc) *Registry {
	if loadTimeout <= 0 {
		loadTimeout = defaultLoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		opts:        opts,
		timeout:     loadTimeout,
		logger:      logger,
		discover:    discover,
		load:        load,
		discoveries: newRequestCoalescer[*dataset.Dataset](loadTimeout),
		loads:       newRequestCoalescer[*dataset.Dataset](loadTimeout),
		byPattern:   make(map[string]string),
		byPrint:     make(map[string]*dataset.Dataset),
	}
}

// Get returns the dataset for pattern, loading it on first use.
// The load runs detached from ctx: a caller that gives up does not abort it.
func (r *Registry) Get(ctx context.Context, pattern string) (*dataset.Dataset, error) {
	if ds, ok := r.cached(pattern); ok {
		return ds, nil
	}
	detached := context.WithoutCancel(ctx)
	ds, _, err := r.discoveries.GetOrDo(ctx, pattern, func() (*dataset.Dataset, error) {
		return r.resolve(detached, pattern)
	})
	return ds, err
}

func (r *Registry) cached(pattern string) (*dataset.Dataset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fp, ok := r.byPattern[pattern]
	if !ok {
		return nil, false
	}
	ds, ok := r.byPrint[fp]
	return ds, ok
}

// resolve discovers files for pattern and joins, or starts, the load of that file set.
func (r *Registry) resolve(ctx context.Context, pattern string) (*dataset.Dataset, error) {
	if ds, ok := r.cached(pattern); ok {
		return ds, nil
	}
	logger := observability.LoggerFromContext(ctx, r.logger).With(zap.String("pattern", pattern))

	files, err := r.discover(pattern)
	if err != nil {
		r.fail(logger, err)
		return nil, err
	}
	fp := dataset.Fingerprint(files)

	ds, _, err := r.loads.GetOrDo(ctx, fp, func() (*dataset.Dataset, error) {
		return r.loadSet(ctx, fp, files, logger)
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byPattern[pattern] = fp
	r.mu.Unlock()
	return ds, nil
}

// loadSet loads the file set with fingerprint fp unless it is already memoized.
func (r *Registry) loadSet(ctx context.Context, fp string, files []string, logger *zap.Logger) (*dataset.Dataset, error) {
	r.mu.RLock()
	ds, ok := r.byPrint[fp]
	r.mu.RUnlock()
	if ok {
		return ds, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	ds, err := r.load(loadCtx, files, r.opts)
	duration := time.Since(start)
	observability.DatasetLoadDurationSeconds.Observe(duration.Seconds())
	if err != nil {
		r.fail(logger, err)
		return nil, err
	}
	if ds == nil {
		err := fmt.Errorf("load %d files: no dataset returned", len(files))
		r.fail(logger, err)
		return nil, err
	}

	r.mu.Lock()
	r.byPrint[fp] = ds
	r.lastErr = nil
	r.mu.Unlock()

	observability.DatasetLoadsTotal.WithLabelValues("success").Inc()
	observability.DatasetDays.Set(float64(ds.Len()))
	rows, cols := ds.Shape()
	logger.Info("dataset loaded",
		zap.Int("files", len(files)),
		zap.Int("days", ds.Len()),
		zap.Int("rows", rows),
		zap.Int("cols", cols),
		zap.String("fingerprint", fp[:16]),
		zap.Int("waiters", r.loads.waiting(fp)),
		zap.Duration("duration", duration))
	return ds, nil
}

func (r *Registry) fail(logger *zap.Logger, err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	observability.DatasetLoadsTotal.WithLabelValues("error").Inc()
	logger.Error("dataset load failed", zap.Error(err))
}

// LastError returns the error of the most recent failed load, or nil once a load succeeds.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Loaded reports whether a dataset for pattern is memoized.
func (r *Registry) Loaded(pattern string) bool {
	_, ok := r.cached(pattern)
	return ok
}
