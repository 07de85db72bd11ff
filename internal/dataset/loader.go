package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
)

var (
	// ErrNoOverlap is returned when a grid has no coordinates inside the region window.
	ErrNoOverlap = errors.New("grid does not overlap region window")
	// ErrGridMismatch is returned when a file's grid differs from the first file's.
	ErrGridMismatch = errors.New("grid differs from first file")
)

// Options controls how raster files are interpreted.
type Options struct {
	Schema      raster.Schema
	Window      raster.Window
	DateSegment int
}

// DefaultOptions returns the IMERG schema cropped to the Himalayan window.
func DefaultOptions() Options {
	return Options{
		Schema:      raster.DefaultSchema,
		Window:      raster.Himalaya,
		DateSegment: DefaultDateSegment,
	}
}

// Discover resolves pattern to a lexically sorted list of raster files.
// A directory expands to dir/3B-DAY-*.nc4; anything else is treated as a glob.
func Discover(pattern string) ([]string, error) {
	glob := pattern
	if fi, err := os.Stat(pattern); err == nil && fi.IsDir() {
		glob = filepath.Join(pattern, DefaultGlob)
	}
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", pattern, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			continue
		}
		files = append(files, m)
	}
	if len(files) == 0 {
		return nil, &NoDataError{Pattern: pattern}
	}
	sort.Strings(files)
	return files, nil
}

// Fingerprint identifies a resolved file set: the SHA-256 of the sorted path list.
func Fingerprint(files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Load discovers the files matching pattern and loads them. See LoadFiles.
func Load(ctx context.Context, pattern string, opts Options) (*Dataset, error) {
	files, err := Discover(pattern)
	if err != nil {
		return nil, err
	}
	return LoadFiles(ctx, files, opts)
}

// LoadFiles builds a date-indexed dataset from files, cropped to opts.Window.
// Files are sorted by path, their dates parsed and checked for chronological order,
// and each header is read once to validate the grid. Precipitation values are not
// read here; Dataset.Day materializes one slice at a time.
func LoadFiles(ctx context.Context, files []string, opts Options) (*Dataset, error) {
	if len(files) == 0 {
		return nil, &NoDataError{}
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	dates := make([]time.Time, len(sorted))
	for i, path := range sorted {
		d, err := ParseObservationDate(path, opts.DateSegment)
		if err != nil {
			return nil, err
		}
		if i > 0 && d.Before(dates[i-1]) {
			return nil, &ParseError{
				File:   path,
				Token:  d.Format(dateTokenLayout),
				Reason: fmt.Sprintf("date precedes %s of %s; path order and date order diverge", FormatISODate(dates[i-1]), filepath.Base(sorted[i-1])),
			}
		}
		dates[i] = d
	}

	var (
		ref        raster.Header
		latR, lonR raster.IndexRange
	)
	for i, path := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := readHeader(path, opts.Schema)
		if err != nil {
			return nil, &LoadError{File: path, Err: err}
		}
		lr, ok := raster.SelectRange(h.Lat, opts.Window.LatMin, opts.Window.LatMax)
		if !ok {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: no latitude in %s", ErrNoOverlap, opts.Window)}
		}
		nr, ok := raster.SelectRange(h.Lon, opts.Window.LonMin, opts.Window.LonMax)
		if !ok {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: no longitude in %s", ErrNoOverlap, opts.Window)}
		}
		if i == 0 {
			ref, latR, lonR = h, lr, nr
			continue
		}
		if !h.SameLayout(ref) || lr != latR || nr != lonR ||
			!equalCoords(h.Lat[lr.Start:lr.End], ref.Lat[latR.Start:latR.End]) ||
			!equalCoords(h.Lon[nr.Start:nr.End], ref.Lon[lonR.Start:lonR.End]) {
			return nil, &LoadError{File: path, Err: ErrGridMismatch}
		}
	}

	return &Dataset{
		schema:      opts.Schema,
		files:       sorted,
		dates:       dates,
		header:      ref,
		latR:        latR,
		lonR:        lonR,
		window:      opts.Window,
		fingerprint: Fingerprint(sorted),
	}, nil
}

func readHeader(path string, s raster.Schema) (raster.Header, error) {
	f, err := raster.Open(path)
	if err != nil {
		return raster.Header{}, err
	}
	defer f.Close()
	return f.Header(s)
}

func equalCoords(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
