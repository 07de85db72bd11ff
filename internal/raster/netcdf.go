package raster

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ctessum/cdf"
)

// Schema names the data variable and coordinate variables inside a raster file.
type Schema struct {
	Variable string
	Lat      string
	Lon      string
}

// DefaultSchema matches the IMERG daily product.
var DefaultSchema = Schema{Variable: "precipitation", Lat: "lat", Lon: "lon"}

var (
	// ErrVariableNotFound is returned when a required variable is absent from the file.
	ErrVariableNotFound = errors.New("variable not found")
	// ErrUnsupportedLayout is returned when a variable cannot be read as a single lat/lon slice.
	ErrUnsupportedLayout = errors.New("unsupported variable layout")
	// ErrUnsupportedType is returned for variable element types the reader does not decode.
	ErrUnsupportedType = errors.New("unsupported variable type")
)

// Header describes the layout of the data variable of one file.
type Header struct {
	Variable  string
	Dims      []string
	Lengths   []int
	LatAxis   int
	LonAxis   int
	Lat       []float64
	Lon       []float64
	FillValue float64 // NaN when the variable declares none
}

// SameLayout reports whether two headers store the data variable in the same dimension order and shape.
func (h Header) SameLayout(o Header) bool {
	if h.Variable != o.Variable || len(h.Dims) != len(o.Dims) {
		return false
	}
	for i := range h.Dims {
		if h.Dims[i] != o.Dims[i] || h.Lengths[i] != o.Lengths[i] {
			return false
		}
	}
	return true
}

// File is an open netCDF raster. It is not safe for concurrent use; open one per reader.
type File struct {
	f  *os.File
	nc *cdf.File
}

// Open opens a netCDF classic or 64-bit offset file and decodes its header.
func Open(path string) (_ *File, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = f.Close()
			err = fmt.Errorf("decode netcdf header: %v", r)
		}
	}()
	nc, err := cdf.Open(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decode netcdf header: %w", err)
	}
	return &File{f: f, nc: nc}, nil
}

// Close releases the underlying file.
func (r *File) Close() error {
	return r.f.Close()
}

func (r *File) hasVariable(name string) bool {
	for _, v := range r.nc.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// Header reads the layout of s.Variable and its latitude/longitude coordinate vectors.
// Every dimension other than latitude and longitude must have length 1.
func (r *File) Header(s Schema) (Header, error) {
	for _, name := range []string{s.Variable, s.Lat, s.Lon} {
		if !r.hasVariable(name) {
			return Header{}, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
		}
	}
	h := Header{
		Variable:  s.Variable,
		Dims:      r.nc.Header.Dimensions(s.Variable),
		Lengths:   r.nc.Header.Lengths(s.Variable),
		LatAxis:   -1,
		LonAxis:   -1,
		FillValue: math.NaN(),
	}
	for i, d := range h.Dims {
		switch d {
		case s.Lat:
			h.LatAxis = i
		case s.Lon:
			h.LonAxis = i
		default:
			if h.Lengths[i] != 1 {
				return Header{}, fmt.Errorf("%w: %s has dimension %s of length %d", ErrUnsupportedLayout, s.Variable, d, h.Lengths[i])
			}
		}
	}
	if h.LatAxis < 0 || h.LonAxis < 0 {
		return Header{}, fmt.Errorf("%w: %s is not indexed by %s and %s", ErrUnsupportedLayout, s.Variable, s.Lat, s.Lon)
	}

	var err error
	if h.Lat, err = r.coordinate(s.Lat); err != nil {
		return Header{}, err
	}
	if h.Lon, err = r.coordinate(s.Lon); err != nil {
		return Header{}, err
	}
	if len(h.Lat) != h.Lengths[h.LatAxis] || len(h.Lon) != h.Lengths[h.LonAxis] {
		return Header{}, fmt.Errorf("%w: coordinate lengths do not match %s", ErrUnsupportedLayout, s.Variable)
	}
	if !Monotonic(h.Lat) || !Monotonic(h.Lon) {
		return Header{}, fmt.Errorf("%w: coordinates are not monotonic", ErrUnsupportedLayout)
	}

	for _, attr := range []string{"_FillValue", "missing_value"} {
		if v, ok := firstNumber(r.nc.Header.GetAttribute(s.Variable, attr)); ok {
			h.FillValue = v
			break
		}
	}
	return h, nil
}

func (r *File) coordinate(name string) ([]float64, error) {
	lengths := r.nc.Header.Lengths(name)
	if len(lengths) != 1 {
		return nil, fmt.Errorf("%w: coordinate %s must be one-dimensional", ErrUnsupportedLayout, name)
	}
	buf, err := r.read(name, []int{0}, []int{lengths[0]})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return toFloat64(buf)
}

// ReadWindow reads the lat × lon hyperslab of h.Variable selected by latR and lonR.
// The result is row-major by latitude regardless of on-disk dimension order.
// Fill values and negative values become NaN.
func (r *File) ReadWindow(h Header, latR, lonR IndexRange) ([]float32, error) {
	begin := make([]int, len(h.Dims))
	end := make([]int, len(h.Dims))
	for i := range h.Dims {
		switch i {
		case h.LatAxis:
			begin[i], end[i] = latR.Start, latR.End
		case h.LonAxis:
			begin[i], end[i] = lonR.Start, lonR.End
		default:
			begin[i], end[i] = 0, 1
		}
	}
	buf, err := r.read(h.Variable, begin, end)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.Variable, err)
	}
	raw, err := toFloat32(buf, h.FillValue)
	if err != nil {
		return nil, err
	}

	nLat, nLon := latR.Len(), lonR.Len()
	if h.LatAxis < h.LonAxis {
		return raw, nil
	}
	out := make([]float32, len(raw))
	for j := 0; j < nLon; j++ {
		for i := 0; i < nLat; i++ {
			out[i*nLon+j] = raw[j*nLat+i]
		}
	}
	return out, nil
}

func (r *File) read(name string, begin, end []int) (_ interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode %s: %v", name, rec)
		}
	}()
	n := 1
	for i := range begin {
		n *= end[i] - begin[i]
	}
	rd := r.nc.Reader(name, begin, end)
	buf := rd.Zero(n)
	got, err := rd.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if got != n {
		return nil, fmt.Errorf("short read: got %d of %d values", got, n)
	}
	return buf, nil
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, buf)
	}
}

func toFloat32(buf interface{}, fill float64) ([]float32, error) {
	vals, err := toFloat64(buf)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vals))
	nan := float32(math.NaN())
	for i, v := range vals {
		if math.IsNaN(v) || v < 0 || (!math.IsNaN(fill) && float32(v) == float32(fill)) {
			out[i] = nan
			continue
		}
		out[i] = float32(v)
	}
	return out, nil
}

func firstNumber(attr interface{}) (float64, bool) {
	switch v := attr.(type) {
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}
