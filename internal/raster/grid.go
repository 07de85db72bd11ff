package raster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Grid is one materialized 2-D raster on a regular lat/lon mesh.
// Values are row-major by latitude: Values[i*len(Lon)+j] is at (Lat[i], Lon[j]).
// Missing cells hold NaN.
type Grid struct {
	Lat    []float64
	Lon    []float64
	Values []float32
}

// Rows returns the number of latitude rows.
func (g Grid) Rows() int { return len(g.Lat) }

// Cols returns the number of longitude columns.
func (g Grid) Cols() int { return len(g.Lon) }

// At returns the value at latitude index i and longitude index j.
func (g Grid) At(i, j int) float32 {
	return g.Values[i*len(g.Lon)+j]
}

// Stats summarizes the valid (non-NaN) cells of a grid.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Valid int     `json:"valid"`
	Total int     `json:"total"`
}

// Stats computes min, max and mean over valid cells. Min, Max and Mean are NaN when no cell is valid.
func (g Grid) Stats() Stats {
	s := Stats{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), Total: len(g.Values)}
	valid := make([]float64, 0, len(g.Values))
	for _, v := range g.Values {
		if f := float64(v); !math.IsNaN(f) {
			valid = append(valid, f)
		}
	}
	s.Valid = len(valid)
	if s.Valid > 0 {
		s.Min = floats.Min(valid)
		s.Max = floats.Max(valid)
		s.Mean = floats.Sum(valid) / float64(s.Valid)
	}
	return s
}
