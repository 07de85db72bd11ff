package dataset_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster/rastertest"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// writeDays writes one fixture per date, each filled with its day-of-month so slices are distinguishable.
func writeDays(t *testing.T, dir string, dates ...time.Time) []string {
	t.Helper()
	paths := make([]string, 0, len(dates))
	for _, d := range dates {
		opts := rastertest.DefaultOptions()
		v := float32(d.Day())
		opts.Value = func(lat, lon float64) float32 { return v }
		paths = append(paths, rastertest.WriteDay(t, dir, d, opts))
	}
	return paths
}

func TestParseObservationDate(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    time.Time
		wantErr bool
	}{
		{"imerg daily", "datasets/3B-DAY-L.MS.MRG.3IMERG.20251102-S000000-E235959.V07B.nc4", day(2025, 11, 2), false},
		{"dots in directory ignored", "/data/v1.2/3B-DAY-L.MS.MRG.3IMERG.20240229-S000000-E235959.V07B.nc4", day(2024, 2, 29), false},
		{"invalid month", "3B-DAY-L.MS.MRG.3IMERG.20251301-S000000.nc4", time.Time{}, true},
		{"non numeric", "3B-DAY-L.MS.MRG.3IMERG.2025130x-S000000.nc4", time.Time{}, true},
		{"invalid day", "3B-DAY-L.MS.MRG.3IMERG.20250230-S000000.nc4", time.Time{}, true},
		{"short token", "3B-DAY-L.MS.MRG.3IMERG.202511.nc4", time.Time{}, true},
		{"too few segments", "precip_20251102.nc4", time.Time{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := dataset.ParseObservationDate(tc.path, dataset.DefaultDateSegment)
			if tc.wantErr {
				var pe *dataset.ParseError
				require.True(t, errors.As(err, &pe), "want *ParseError, got %v", err)
				assert.Equal(t, tc.path, pe.File)
				assert.Contains(t, err.Error(), tc.path)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
		})
	}
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "02-11-2025", dataset.FormatDate(day(2025, 11, 2)))
	assert.Equal(t, "2025-11-02", dataset.FormatISODate(day(2025, 11, 2)))
}

func TestDiscover_DirectoryAndGlobSorted(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 2), day(2025, 11, 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))

	files, err := dataset.Discover(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "20251101")
	assert.Contains(t, files[1], "20251102")

	globbed, err := dataset.Discover(filepath.Join(dir, "3B-DAY-*.nc4"))
	require.NoError(t, err)
	assert.Equal(t, files, globbed)
}

func TestDiscover_BadPattern(t *testing.T) {
	_, err := dataset.Discover("[")
	require.Error(t, err)
	var nd *dataset.NoDataError
	assert.False(t, errors.As(err, &nd))
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := dataset.Fingerprint([]string{"b", "a"})
	b := dataset.Fingerprint([]string{"a", "b"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, dataset.Fingerprint([]string{"a"}))
	assert.Len(t, a, 64)
}

func TestLoad_TwoDays(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1), day(2025, 11, 2))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Len())
	dates := ds.Dates()
	require.Len(t, dates, 2)
	assert.True(t, dates[0].Equal(day(2025, 11, 1)))
	assert.True(t, dates[1].Equal(day(2025, 11, 2)))
	assert.Len(t, ds.Files(), ds.Len())
	assert.NotEmpty(t, ds.Fingerprint())
}

func TestLoad_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	assert.Nil(t, ds)
	var nd *dataset.NoDataError
	require.True(t, errors.As(err, &nd), "want *NoDataError, got %v", err)
	assert.Equal(t, dir, nd.Pattern)
}

func TestLoad_InvalidMonthNamesFile(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))
	bad := filepath.Join(dir, "3B-DAY-L.MS.MRG.3IMERG.20251301-S000000-E235959.V07B.nc4")
	rastertest.Write(t, bad, rastertest.DefaultOptions())

	_, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	var pe *dataset.ParseError
	require.True(t, errors.As(err, &pe), "want *ParseError, got %v", err)
	assert.Equal(t, bad, pe.File)
	assert.Equal(t, "20251301", pe.Token)
}

func TestLoad_PathOrderMustMatchDateOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "3B-DAY-A.MS.MRG.3IMERG.20251105-S000000-E235959.V07B.nc4")
	second := filepath.Join(dir, "3B-DAY-B.MS.MRG.3IMERG.20251101-S000000-E235959.V07B.nc4")
	rastertest.Write(t, first, rastertest.DefaultOptions())
	rastertest.Write(t, second, rastertest.DefaultOptions())

	_, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	var pe *dataset.ParseError
	require.True(t, errors.As(err, &pe), "want *ParseError, got %v", err)
	assert.Equal(t, second, pe.File)
}

func TestLoad_CorruptFileNamed(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))
	bad := filepath.Join(dir, rastertest.IMERGName(day(2025, 11, 2)))
	rastertest.WriteCorrupt(t, bad)

	_, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le), "want *LoadError, got %v", err)
	assert.Equal(t, bad, le.File)
	assert.Contains(t, err.Error(), bad)
}

func TestLoad_GridMismatch(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))
	opts := rastertest.DefaultOptions()
	opts.Lon = rastertest.Axis(73, 0.5, 49)
	other := rastertest.WriteDay(t, dir, day(2025, 11, 2), opts)

	_, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le), "want *LoadError, got %v", err)
	assert.Equal(t, other, le.File)
}

func TestLoad_NoOverlap(t *testing.T) {
	dir := t.TempDir()
	opts := rastertest.DefaultOptions()
	opts.Lat = rastertest.Axis(-10, 1, 5)
	rastertest.WriteDay(t, dir, day(2025, 11, 1), opts)

	_, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le))
	assert.True(t, errors.Is(err, dataset.ErrNoOverlap))
}

func TestLoad_MissingVariable(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))
	opts := dataset.DefaultOptions()
	opts.Schema.Variable = "precipitationCal"

	_, err := dataset.Load(context.Background(), dir, opts)
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le))
	assert.True(t, errors.Is(err, raster.ErrVariableNotFound))
}

func TestLoad_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dataset.Load(ctx, dir, dataset.DefaultOptions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadFiles_Empty(t *testing.T) {
	_, err := dataset.LoadFiles(context.Background(), nil, dataset.DefaultOptions())
	var nd *dataset.NoDataError
	assert.True(t, errors.As(err, &nd))
	assert.Equal(t, "no raster files to load: the file list is empty", err.Error())

	_, err = dataset.Load(context.Background(), t.TempDir(), dataset.DefaultOptions())
	assert.ErrorContains(t, err, "no raster files match")
}

func TestDataset_CroppedToRegion(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	rows, cols := ds.Shape()
	assert.Equal(t, 11, rows)
	assert.Equal(t, 21, cols)
	for _, lat := range ds.Lat() {
		assert.True(t, lat >= 26 && lat <= 36, "lat %v outside window", lat)
	}
	for _, lon := range ds.Lon() {
		assert.True(t, lon >= 75 && lon <= 95, "lon %v outside window", lon)
	}
	assert.Equal(t, raster.Himalaya, ds.Window())
}

func TestDataset_DayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1), day(2025, 11, 2), day(2025, 11, 3))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	dates := ds.Dates()
	for i := 0; i < ds.Len(); i++ {
		d, err := ds.Day(i)
		require.NoError(t, err)
		assert.Equal(t, i, d.Index)
		assert.True(t, d.Date.Equal(dates[i]))
		rows, cols := ds.Shape()
		assert.Equal(t, rows, d.Grid.Rows())
		assert.Equal(t, cols, d.Grid.Cols())
		assert.Equal(t, float32(dates[i].Day()), d.Grid.At(0, 0))
	}
	d, err := ds.Day(1)
	require.NoError(t, err)
	assert.Equal(t, "02-11-2025", d.DisplayDate())
}

func TestDataset_IndexBounds(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1), day(2025, 11, 2))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	for _, i := range []int{0, ds.Len() - 1} {
		_, err := ds.Day(i)
		assert.NoError(t, err, "index %d", i)
	}
	for _, i := range []int{-1, ds.Len()} {
		_, err := ds.Day(i)
		var ie *dataset.IndexError
		require.True(t, errors.As(err, &ie), "index %d: want *IndexError, got %v", i, err)
		assert.Equal(t, i, ie.Index)
		assert.Equal(t, ds.Len(), ie.Len)

		_, err = ds.Date(i)
		assert.True(t, errors.As(err, &ie))
	}
}

func TestDataset_CropIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	again, err := ds.Crop(raster.Himalaya)
	require.NoError(t, err)
	assert.Equal(t, ds.Lat(), again.Lat())
	assert.Equal(t, ds.Lon(), again.Lon())
	assert.Equal(t, ds.Window(), again.Window())
	assert.Equal(t, ds.Dates(), again.Dates())

	a, err := ds.Day(0)
	require.NoError(t, err)
	b, err := again.Day(0)
	require.NoError(t, err)
	assert.Equal(t, a.Grid.Values, b.Grid.Values)
}

func TestDataset_CropNarrows(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	wide := raster.Window{LatMin: 0, LatMax: 60, LonMin: 0, LonMax: 180}
	same, err := ds.Crop(wide)
	require.NoError(t, err)
	assert.Equal(t, ds.Lat(), same.Lat(), "crop must never extend beyond the loaded window")

	small, err := ds.Crop(raster.Window{LatMin: 28, LatMax: 29, LonMin: 80, LonMax: 82})
	require.NoError(t, err)
	assert.Equal(t, []float64{28, 29}, small.Lat())
	assert.Equal(t, []float64{80, 81, 82}, small.Lon())

	_, err = ds.Crop(raster.Window{LatMin: -20, LatMax: -10, LonMin: 80, LonMax: 82})
	assert.True(t, errors.Is(err, dataset.ErrNoOverlap))
}

func TestDataset_DayIsReadOnDemand(t *testing.T) {
	dir := t.TempDir()
	paths := writeDays(t, dir, day(2025, 11, 1), day(2025, 11, 2))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, os.Remove(paths[1]))

	_, err = ds.Day(0)
	require.NoError(t, err)

	_, err = ds.Day(1)
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le), "want *LoadError, got %v", err)
	assert.Equal(t, paths[1], le.File)
}

func TestDataset_ConcurrentDays(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, day(2025, 11, 1), day(2025, 11, 2), day(2025, 11, 3))

	ds, err := dataset.Load(context.Background(), dir, dataset.DefaultOptions())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 30)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := ds.Day(i % ds.Len())
			if err == nil && d.Index != i%ds.Len() {
				err = errors.New("index mismatch")
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "call %d", i)
	}
}
