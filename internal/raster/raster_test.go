package raster_test

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster/rastertest"
)

func TestSelectRange(t *testing.T) {
	tests := []struct {
		name   string
		coords []float64
		lo, hi float64
		want   raster.IndexRange
		ok     bool
	}{
		{"ascending inclusive", []float64{24, 25, 26, 27, 36, 37}, 26, 36, raster.IndexRange{Start: 2, End: 5}, true},
		{"descending", []float64{38, 36, 30, 26, 24}, 26, 36, raster.IndexRange{Start: 1, End: 4}, true},
		{"fully inside", []float64{27, 28}, 26, 36, raster.IndexRange{Start: 0, End: 2}, true},
		{"no overlap", []float64{10, 11, 12}, 26, 36, raster.IndexRange{}, false},
		{"empty", nil, 26, 36, raster.IndexRange{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := raster.SelectRange(tc.coords, tc.lo, tc.hi)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWindow_Validate(t *testing.T) {
	require.NoError(t, raster.Himalaya.Validate())

	err := raster.Window{LatMin: 36, LatMax: 26, LonMin: 75, LonMax: 95}.Validate()
	assert.True(t, errors.Is(err, raster.ErrInvalidWindow))

	err = raster.Window{LatMin: math.NaN(), LatMax: 26, LonMin: 75, LonMax: 95}.Validate()
	assert.True(t, errors.Is(err, raster.ErrInvalidWindow))
}

func TestWindow_Contains(t *testing.T) {
	assert.True(t, raster.Himalaya.Contains(26, 75))
	assert.True(t, raster.Himalaya.Contains(36, 95))
	assert.False(t, raster.Himalaya.Contains(25.9, 80))
	assert.False(t, raster.Himalaya.Contains(30, 95.1))
}

func TestMonotonic(t *testing.T) {
	assert.True(t, raster.Monotonic([]float64{1, 2, 3}))
	assert.True(t, raster.Monotonic([]float64{3, 2, 1}))
	assert.True(t, raster.Monotonic([]float64{1}))
	assert.False(t, raster.Monotonic([]float64{1, 3, 2}))
	assert.False(t, raster.Monotonic([]float64{1, 1}))
}

func TestGrid_Stats(t *testing.T) {
	nan := float32(math.NaN())
	g := raster.Grid{Lat: []float64{0, 1}, Lon: []float64{0, 1}, Values: []float32{1, nan, 3, 8}}
	s := g.Stats()
	assert.Equal(t, 3, s.Valid)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 8.0, s.Max)
	assert.InDelta(t, 4.0, s.Mean, 1e-9)

	empty := raster.Grid{Values: []float32{nan}}.Stats()
	assert.True(t, math.IsNaN(empty.Max))
	assert.Equal(t, 0, empty.Valid)
}

func TestFile_HeaderAndReadWindow_LonFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.nc4")
	opts := rastertest.DefaultOptions()
	rastertest.Write(t, path, opts)

	f, err := raster.Open(path)
	require.NoError(t, err)
	defer f.Close()

	h, err := f.Header(raster.DefaultSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "lon", "lat"}, h.Dims)
	assert.Equal(t, 2, h.LatAxis)
	assert.Equal(t, 1, h.LonAxis)
	assert.Equal(t, opts.Lat, h.Lat)
	assert.Equal(t, opts.Lon, h.Lon)
	assert.InDelta(t, float64(rastertest.FillValue), h.FillValue, 1e-3)

	latR, ok := raster.SelectRange(h.Lat, 26, 36)
	require.True(t, ok)
	lonR, ok := raster.SelectRange(h.Lon, 75, 95)
	require.True(t, ok)

	vals, err := f.ReadWindow(h, latR, lonR)
	require.NoError(t, err)
	require.Len(t, vals, latR.Len()*lonR.Len())

	// Row-major by latitude after transposition.
	for i := 0; i < latR.Len(); i++ {
		for j := 0; j < lonR.Len(); j++ {
			lat := h.Lat[latR.Start+i]
			lon := h.Lon[lonR.Start+j]
			assert.InDelta(t, lat+lon/100, float64(vals[i*lonR.Len()+j]), 1e-3)
		}
	}
}

func TestFile_ReadWindow_LatFirstFloat32Coords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.nc4")
	opts := rastertest.DefaultOptions()
	opts.LonFirst = false
	opts.Float32Coords = true
	rastertest.Write(t, path, opts)

	f, err := raster.Open(path)
	require.NoError(t, err)
	defer f.Close()

	h, err := f.Header(raster.DefaultSchema)
	require.NoError(t, err)
	assert.Equal(t, 1, h.LatAxis)
	assert.Equal(t, 2, h.LonAxis)

	vals, err := f.ReadWindow(h, raster.IndexRange{Start: 0, End: 2}, raster.IndexRange{Start: 0, End: 3})
	require.NoError(t, err)
	require.Len(t, vals, 6)
	assert.InDelta(t, 24+73.0/100, float64(vals[0]), 1e-3)
	assert.InDelta(t, 25+75.0/100, float64(vals[5]), 1e-3)
}

func TestFile_ReadWindow_FillBecomesNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.nc4")
	opts := rastertest.DefaultOptions()
	opts.Value = func(lat, lon float64) float32 {
		if lat == 30 {
			return rastertest.FillValue
		}
		return 1
	}
	rastertest.Write(t, path, opts)

	f, err := raster.Open(path)
	require.NoError(t, err)
	defer f.Close()
	h, err := f.Header(raster.DefaultSchema)
	require.NoError(t, err)

	latR, _ := raster.SelectRange(h.Lat, 30, 30)
	lonR, _ := raster.SelectRange(h.Lon, 80, 81)
	vals, err := f.ReadWindow(h, latR, lonR)
	require.NoError(t, err)
	for _, v := range vals {
		assert.True(t, math.IsNaN(float64(v)))
	}
}

func TestFile_HeaderMissingVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.nc4")
	rastertest.Write(t, path, rastertest.DefaultOptions())

	f, err := raster.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Header(raster.Schema{Variable: "precipitationCal", Lat: "lat", Lon: "lon"})
	assert.True(t, errors.Is(err, raster.ErrVariableNotFound))
}

func TestOpen_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nc4")
	rastertest.WriteCorrupt(t, path)

	_, err := raster.Open(path)
	assert.Error(t, err)
}

func TestOpen_Missing(t *testing.T) {
	_, err := raster.Open(filepath.Join(t.TempDir(), "nope.nc4"))
	assert.Error(t, err)
}
