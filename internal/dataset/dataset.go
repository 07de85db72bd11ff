package dataset

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
)

// Dataset is a cropped, date-indexed sequence of daily rasters. The time axis is held
// as per-file handles; values are read only when a day is requested.
// A Dataset is immutable and safe for concurrent use.
type Dataset struct {
	schema      raster.Schema
	files       []string
	dates       []time.Time
	header      raster.Header
	latR        raster.IndexRange
	lonR        raster.IndexRange
	window      raster.Window
	fingerprint string
}

// Day is one materialized time slice.
type Day struct {
	Index int
	Date  time.Time
	Grid  raster.Grid
}

// DisplayDate returns the slice date as DD-MM-YYYY.
func (d Day) DisplayDate() string { return FormatDate(d.Date) }

// Len returns the length of the time axis.
func (d *Dataset) Len() int { return len(d.dates) }

// Dates returns the observation dates aligned with the time axis.
func (d *Dataset) Dates() []time.Time {
	return append([]time.Time(nil), d.dates...)
}

// Files returns the sorted raster paths backing the time axis.
func (d *Dataset) Files() []string {
	return append([]string(nil), d.files...)
}

// Fingerprint identifies the file set the dataset was loaded from.
func (d *Dataset) Fingerprint() string { return d.fingerprint }

// Window returns the region the dataset is cropped to.
func (d *Dataset) Window() raster.Window { return d.window }

// Lat returns the cropped latitude coordinates.
func (d *Dataset) Lat() []float64 {
	return append([]float64(nil), d.header.Lat[d.latR.Start:d.latR.End]...)
}

// Lon returns the cropped longitude coordinates.
func (d *Dataset) Lon() []float64 {
	return append([]float64(nil), d.header.Lon[d.lonR.Start:d.lonR.End]...)
}

// Shape returns (rows, cols) of every slice.
func (d *Dataset) Shape() (int, int) { return d.latR.Len(), d.lonR.Len() }

// CheckIndex returns an *IndexError when i is outside [0, Len).
func (d *Dataset) CheckIndex(i int) error {
	if i < 0 || i >= len(d.dates) {
		return &IndexError{Index: i, Len: len(d.dates)}
	}
	return nil
}

// Date returns the observation date of slice i.
func (d *Dataset) Date(i int) (time.Time, error) {
	if err := d.CheckIndex(i); err != nil {
		return time.Time{}, err
	}
	return d.dates[i], nil
}

// Day materializes slice i: it opens file i and reads only the cropped window.
func (d *Dataset) Day(i int) (Day, error) {
	if err := d.CheckIndex(i); err != nil {
		return Day{}, err
	}
	path := d.files[i]
	f, err := raster.Open(path)
	if err != nil {
		return Day{}, &LoadError{File: path, Err: err}
	}
	defer f.Close()

	h, err := f.Header(d.schema)
	if err != nil {
		return Day{}, &LoadError{File: path, Err: err}
	}
	if !h.SameLayout(d.header) {
		return Day{}, &LoadError{File: path, Err: ErrGridMismatch}
	}
	vals, err := f.ReadWindow(h, d.latR, d.lonR)
	if err != nil {
		return Day{}, &LoadError{File: path, Err: err}
	}
	return Day{
		Index: i,
		Date:  d.dates[i],
		Grid:  raster.Grid{Lat: d.Lat(), Lon: d.Lon(), Values: vals},
	}, nil
}

// Crop narrows the dataset to w. The result never extends beyond the current window,
// so cropping twice with the same window is a no-op.
func (d *Dataset) Crop(w raster.Window) (*Dataset, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	latSub, ok := raster.SelectRange(d.Lat(), w.LatMin, w.LatMax)
	if !ok {
		return nil, fmt.Errorf("%w: no latitude in %s", ErrNoOverlap, w)
	}
	lonSub, ok := raster.SelectRange(d.Lon(), w.LonMin, w.LonMax)
	if !ok {
		return nil, fmt.Errorf("%w: no longitude in %s", ErrNoOverlap, w)
	}
	out := *d
	out.latR = raster.IndexRange{Start: d.latR.Start + latSub.Start, End: d.latR.Start + latSub.End}
	out.lonR = raster.IndexRange{Start: d.lonR.Start + lonSub.Start, End: d.lonR.Start + lonSub.End}
	out.window = raster.Window{
		LatMin: math.Max(d.window.LatMin, w.LatMin),
		LatMax: math.Min(d.window.LatMax, w.LatMax),
		LonMin: math.Max(d.window.LonMin, w.LonMin),
		LonMax: math.Min(d.window.LonMax, w.LonMax),
	}
	return &out, nil
}
