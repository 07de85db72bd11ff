package raster

import (
	"errors"
	"fmt"
	"math"
)

// Window is a rectangular latitude/longitude crop with inclusive bounds on coordinate values.
type Window struct {
	LatMin float64 `json:"latMin"`
	LatMax float64 `json:"latMax"`
	LonMin float64 `json:"lonMin"`
	LonMax float64 `json:"lonMax"`
}

// Himalaya is the fixed region the viewer operates on.
var Himalaya = Window{LatMin: 26, LatMax: 36, LonMin: 75, LonMax: 95}

// ErrInvalidWindow is returned when a window has inverted or non-finite bounds.
var ErrInvalidWindow = errors.New("invalid region window")

// Validate reports whether the window bounds are finite and ordered.
func (w Window) Validate() error {
	for _, v := range []float64{w.LatMin, w.LatMax, w.LonMin, w.LonMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound", ErrInvalidWindow)
		}
	}
	if w.LatMin > w.LatMax {
		return fmt.Errorf("%w: lat_min %g > lat_max %g", ErrInvalidWindow, w.LatMin, w.LatMax)
	}
	if w.LonMin > w.LonMax {
		return fmt.Errorf("%w: lon_min %g > lon_max %g", ErrInvalidWindow, w.LonMin, w.LonMax)
	}
	return nil
}

// Contains reports whether (lat, lon) lies inside the window, bounds included.
func (w Window) Contains(lat, lon float64) bool {
	return lat >= w.LatMin && lat <= w.LatMax && lon >= w.LonMin && lon <= w.LonMax
}

func (w Window) String() string {
	return fmt.Sprintf("lat[%g,%g] lon[%g,%g]", w.LatMin, w.LatMax, w.LonMin, w.LonMax)
}

// IndexRange is a half-open range [Start, End) of positions along one axis.
type IndexRange struct {
	Start int
	End   int
}

// Len returns the number of positions in the range.
func (r IndexRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// SelectRange performs coordinate-range selection on a monotonic coordinate vector:
// it returns the contiguous index range whose values lie within [lo, hi].
// Ascending and descending vectors are both accepted. ok is false when no
// coordinate falls inside the bounds.
func SelectRange(coords []float64, lo, hi float64) (r IndexRange, ok bool) {
	start := -1
	end := -1
	for i, c := range coords {
		if c >= lo && c <= hi {
			if start < 0 {
				start = i
			}
			end = i + 1
		}
	}
	if start < 0 {
		return IndexRange{}, false
	}
	return IndexRange{Start: start, End: end}, true
}

// Monotonic reports whether coords is strictly increasing or strictly decreasing.
func Monotonic(coords []float64) bool {
	if len(coords) < 2 {
		return true
	}
	inc := coords[1] > coords[0]
	for i := 1; i < len(coords); i++ {
		if inc && coords[i] <= coords[i-1] {
			return false
		}
		if !inc && coords[i] >= coords[i-1] {
			return false
		}
	}
	return true
}
