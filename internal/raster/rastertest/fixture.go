// Package rastertest writes small IMERG-shaped netCDF files for tests.
package rastertest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/cdf"
)

// FillValue is the _FillValue written to every fixture.
const FillValue float32 = -9999.9

// Options controls the grid written by Write.
type Options struct {
	Lat []float64
	Lon []float64
	// LonFirst stores precipitation as (time, lon, lat), the IMERG on-disk order.
	LonFirst bool
	// Float32Coords stores lat/lon as float32 instead of float64.
	Float32Coords bool
	// Value returns the cell value; nil writes lat+lon/100.
	Value func(lat, lon float64) float32
}

// Axis returns n evenly spaced coordinates starting at start.
func Axis(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// DefaultOptions covers lat 24..38 and lon 73..97 in 1 degree steps, so it strictly contains the Himalayan window.
func DefaultOptions() Options {
	return Options{
		Lat:      Axis(24, 1, 15),
		Lon:      Axis(73, 1, 25),
		LonFirst: true,
	}
}

// IMERGName returns a daily IMERG file name for date.
func IMERGName(date time.Time) string {
	return fmt.Sprintf("3B-DAY-L.MS.MRG.3IMERG.%s-S000000-E235959.V07B.nc4", date.Format("20060102"))
}

// WriteDay writes an IMERG-named fixture for date into dir and returns its path.
func WriteDay(t testing.TB, dir string, date time.Time, opts Options) string {
	t.Helper()
	path := filepath.Join(dir, IMERGName(date))
	Write(t, path, opts)
	return path
}

// Write writes a netCDF fixture to path.
func Write(t testing.TB, path string, opts Options) {
	t.Helper()
	value := opts.Value
	if value == nil {
		value = func(lat, lon float64) float32 { return float32(lat + lon/100) }
	}
	nLat, nLon := len(opts.Lat), len(opts.Lon)

	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{1, nLat, nLon})
	h.AddVariable("time", []string{"time"}, []int32{0})
	if opts.Float32Coords {
		h.AddVariable("lat", []string{"lat"}, []float32{0})
		h.AddVariable("lon", []string{"lon"}, []float32{0})
	} else {
		h.AddVariable("lat", []string{"lat"}, []float64{0})
		h.AddVariable("lon", []string{"lon"}, []float64{0})
	}
	dims := []string{"time", "lat", "lon"}
	if opts.LonFirst {
		dims = []string{"time", "lon", "lat"}
	}
	h.AddVariable("precipitation", dims, []float32{0})
	h.AddAttribute("precipitation", "units", "mm/hr")
	h.AddAttribute("precipitation", "_FillValue", []float32{FillValue})
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	nc, err := cdf.Create(f, h)
	if err != nil {
		t.Fatalf("create netcdf: %v", err)
	}

	vals := make([]float32, 0, nLat*nLon)
	if opts.LonFirst {
		for j := 0; j < nLon; j++ {
			for i := 0; i < nLat; i++ {
				vals = append(vals, value(opts.Lat[i], opts.Lon[j]))
			}
		}
	} else {
		for i := 0; i < nLat; i++ {
			for j := 0; j < nLon; j++ {
				vals = append(vals, value(opts.Lat[i], opts.Lon[j]))
			}
		}
	}

	write(t, nc, "time", []int32{0})
	if opts.Float32Coords {
		write(t, nc, "lat", to32(opts.Lat))
		write(t, nc, "lon", to32(opts.Lon))
	} else {
		write(t, nc, "lat", opts.Lat)
		write(t, nc, "lon", opts.Lon)
	}
	write(t, nc, "precipitation", vals)
}

// WriteCorrupt writes bytes that are not a netCDF file.
func WriteCorrupt(t testing.TB, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("this is not a netcdf file"), 0o644); err != nil {
		t.Fatalf("write corrupt fixture: %v", err)
	}
}

func write(t testing.TB, nc *cdf.File, name string, data interface{}) {
	t.Helper()
	end := nc.Header.Lengths(name)
	start := make([]int, len(end))
	w := nc.Writer(name, start, end)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func to32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
