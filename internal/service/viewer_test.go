package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/cache"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/circuitbreaker"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
)

// recordingCache wraps a cache and counts operations; err, when set, fails every call.
type recordingCache struct {
	inner cache.Cache
	mu    sync.Mutex
	gets  int
	hits  int
	sets  int
	err   error
}

func (c *recordingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok, err := c.inner.Get(ctx, key)
	if ok {
		c.hits++
	}
	return v, ok, err
}

func (c *recordingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.err != nil {
		return c.err
	}
	return c.inner.Set(ctx, key, value, ttl)
}

func newTestViewer(t *testing.T, pattern string, c cache.Cache, coalesce bool) *ViewerService {
	t.Helper()
	reg := NewRegistry(dataset.DefaultOptions(), 0, nil)
	return NewViewerService(reg, render.NewRenderer(render.Options{CellSize: 2}), c, ViewerConfig{
		Pattern:         pattern,
		CacheTTL:        time.Minute,
		CoalesceEnabled: coalesce,
		CoalesceTimeout: 5 * time.Second,
	})
}

func TestViewerService_DatesAndDay(t *testing.T) {
	dir := writeDays(t, 3)
	svc := newTestViewer(t, dir, cache.NewInMemoryCache(), false)
	ctx := context.Background()

	dates, err := svc.Dates(ctx)
	require.NoError(t, err)
	require.Len(t, dates, 3)

	n, err := svc.DayCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i := range dates {
		day, err := svc.Day(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, i, day.Index)
		assert.True(t, day.Date.Equal(dates[i]))
		assert.Equal(t, 11, day.Grid.Rows())
		assert.Equal(t, 21, day.Grid.Cols())
	}
	assert.Equal(t, "02-11-2025", func() string { d, _ := svc.Day(ctx, 1); return d.DisplayDate() }())
}

func TestViewerService_Day_OutOfRange(t *testing.T) {
	dir := writeDays(t, 2)
	svc := newTestViewer(t, dir, cache.NewInMemoryCache(), false)

	for _, idx := range []int{-1, 2} {
		_, err := svc.Day(context.Background(), idx)
		var idxErr *dataset.IndexError
		require.ErrorAs(t, err, &idxErr, "index %d", idx)
		assert.Equal(t, idx, idxErr.Index)
		assert.Equal(t, 2, idxErr.Len)
	}
}

func TestViewerService_NoData(t *testing.T) {
	svc := newTestViewer(t, t.TempDir(), cache.NewInMemoryCache(), false)

	_, err := svc.Dates(context.Background())
	var noData *dataset.NoDataError
	assert.ErrorAs(t, err, &noData)

	_, err = svc.Heatmap(context.Background(), 0, render.FormatPNG)
	assert.ErrorAs(t, err, &noData)
}

func TestViewerService_Heatmap_CacheAside(t *testing.T) {
	dir := writeDays(t, 2)
	rc := &recordingCache{inner: cache.NewInMemoryCache()}
	svc := newTestViewer(t, dir, rc, false)
	ctx := context.Background()

	first, err := svc.Heatmap(ctx, 1, render.FormatPNG)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(first))
	require.NoError(t, err)

	second, err := svc.Heatmap(ctx, 1, render.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 2, rc.gets)
	assert.Equal(t, 1, rc.hits)
	assert.Equal(t, 1, rc.sets, "a hit must not re-populate the cache")
}

func TestViewerService_Heatmap_FormatsAreCachedSeparately(t *testing.T) {
	dir := writeDays(t, 1)
	rc := &recordingCache{inner: cache.NewInMemoryCache()}
	svc := newTestViewer(t, dir, rc, false)

	pngBytes, err := svc.Heatmap(context.Background(), 0, render.FormatPNG)
	require.NoError(t, err)
	tiffBytes, err := svc.Heatmap(context.Background(), 0, render.FormatTIFF)
	require.NoError(t, err)

	assert.NotEqual(t, pngBytes, tiffBytes)
	assert.Equal(t, 2, rc.sets)
}

func TestViewerService_Heatmap_CacheErrorsDoNotFailRequest(t *testing.T) {
	dir := writeDays(t, 1)
	rc := &recordingCache{inner: cache.NewInMemoryCache(), err: errors.New("connection refused")}
	svc := newTestViewer(t, dir, rc, false)

	data, err := svc.Heatmap(context.Background(), 0, render.FormatPNG)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestViewerService_Heatmap_OutOfRangeSkipsCache(t *testing.T) {
	dir := writeDays(t, 1)
	rc := &recordingCache{inner: cache.NewInMemoryCache()}
	svc := newTestViewer(t, dir, rc, false)

	_, err := svc.Heatmap(context.Background(), 5, render.FormatPNG)
	var idxErr *dataset.IndexError
	require.ErrorAs(t, err, &idxErr)
	assert.Equal(t, 0, rc.gets)
}

func TestViewerService_Heatmap_ConcurrentCoalesced(t *testing.T) {
	dir := writeDays(t, 1)
	svc := newTestViewer(t, dir, cache.NewInMemoryCache(), true)

	const n = 8
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Heatmap(context.Background(), 0, render.FormatPNG)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 0, svc.misses.keys())
}

func TestHeatmapKey(t *testing.T) {
	fp := "0123456789abcdef0123456789abcdef"
	assert.Equal(t, "0123456789abcdef:3:png", HeatmapKey(fp, 3, render.FormatPNG))
	assert.Equal(t, "abc:0:tiff", HeatmapKey("abc", 0, render.FormatTIFF))
}

func TestCategorizeCacheError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "unknown"},
		{circuitbreaker.ErrOpen, "circuit_open"},
		{fmt.Errorf("get: %w", circuitbreaker.ErrOpen), "circuit_open"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("read: i/o timeout"), "timeout"},
		{errors.New("connection refused"), "connection"},
		{errors.New("network unreachable"), "connection"},
		{errors.New("malformed"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeCacheError(tt.err), "%v", tt.err)
	}
}
