package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultDateSegment is the zero-based dot-segment holding the date token in IMERG names.
	DefaultDateSegment = 4
	// DefaultGlob is used when discovery is pointed at a directory.
	DefaultGlob = "3B-DAY-*.nc4"

	dateTokenLen    = 8
	dateTokenLayout = "20060102"
	displayLayout   = "02-01-2006"
	isoLayout       = "2006-01-02"
)

// ParseObservationDate extracts the date of a raster file from its base name:
// the name is split on ".", and the first 8 characters of segment are parsed as YYYYMMDD.
// The contract is positional; no searching is done.
func ParseObservationDate(path string, segment int) (time.Time, error) {
	name := filepath.Base(path)
	parts := strings.Split(name, ".")
	if segment < 0 || segment >= len(parts) {
		return time.Time{}, &ParseError{File: path, Reason: fmt.Sprintf("name has %d dot-segments, need segment %d", len(parts), segment)}
	}
	seg := parts[segment]
	if len(seg) < dateTokenLen {
		return time.Time{}, &ParseError{File: path, Token: seg, Reason: "date token shorter than 8 characters"}
	}
	token := seg[:dateTokenLen]
	for _, c := range token {
		if c < '0' || c > '9' {
			return time.Time{}, &ParseError{File: path, Token: token, Reason: "date token is not numeric"}
		}
	}
	t, err := time.Parse(dateTokenLayout, token)
	if err != nil {
		return time.Time{}, &ParseError{File: path, Token: token, Err: err}
	}
	return t, nil
}

// FormatDate renders a date the way the viewer displays it (DD-MM-YYYY).
func FormatDate(t time.Time) string {
	return t.Format(displayLayout)
}

// FormatISODate renders a date as YYYY-MM-DD for APIs.
func FormatISODate(t time.Time) string {
	return t.Format(isoLayout)
}
