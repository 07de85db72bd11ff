package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrIndexEmpty is returned when the index is empty or whitespace-only and empty is not allowed.
var ErrIndexEmpty = errors.New("time index is required")

// ErrIndexNotInteger is returned when the index is not a decimal integer.
var ErrIndexNotInteger = errors.New("time index must be an integer")

// ErrFigureIDInvalid is returned when a figure id is empty, too long or has disallowed characters.
var ErrFigureIDInvalid = errors.New("invalid figure id")

// maxFigureIDLen bounds figure ids in runes.
const maxFigureIDLen = 64

// ParseIndex trims raw and parses it as a decimal integer. An empty input yields 0
// when allowEmpty is set (the page's default day), otherwise ErrIndexEmpty.
// Range checks belong to the dataset, which knows the length of the time axis.
func ParseIndex(raw string, allowEmpty bool) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		if allowEmpty {
			return 0, nil
		}
		return 0, ErrIndexEmpty
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrIndexNotInteger
	}
	return n, nil
}

// ValidateFigureID restricts figure ids to ASCII letters, digits, hyphen and underscore,
// so an id can never name a path.
func ValidateFigureID(id string) (string, error) {
	s := strings.TrimSpace(id)
	if s == "" || len(s) > maxFigureIDLen {
		return "", ErrFigureIDInvalid
	}
	for _, c := range s {
		if !isAllowedFigureRune(c) {
			return "", ErrFigureIDInvalid
		}
	}
	return s, nil
}

func isAllowedFigureRune(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == '-' || r == '_'
}
