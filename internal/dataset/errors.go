package dataset

import "fmt"

// NoDataError is returned when discovery finds no raster files, or a load is given none.
// Pattern is empty in the second case.
type NoDataError struct {
	Pattern string
}

func (e *NoDataError) Error() string {
	if e.Pattern == "" {
		return "no raster files to load: the file list is empty"
	}
	return fmt.Sprintf("no raster files match %q", e.Pattern)
}

// ParseError is returned when a file name does not yield a valid observation date,
// or when its date breaks the chronological order of the sorted file list.
type ParseError struct {
	File   string
	Token  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse date from %s", e.File)
	if e.Token != "" {
		msg += fmt.Sprintf(" (token %q)", e.Token)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadError is returned when a raster file cannot be opened or decoded.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IndexError is returned when a time index falls outside [0, Len).
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	if e.Len == 0 {
		return fmt.Sprintf("time index %d out of range: dataset is empty", e.Index)
	}
	return fmt.Sprintf("time index %d out of range [0, %d]", e.Index, e.Len-1)
}
