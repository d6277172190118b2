// Package models provides the value types shared across the pipeline: sampling
// intervals, request windows, and raw vendor candles.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Interval is the sampling granularity of a series.
type Interval string

const (
	Minute Interval = "minute"
	Hour   Interval = "hour"
	Day    Interval = "day"
)

// Intervals lists every supported interval, shortest first.
var Intervals = []Interval{Minute, Hour, Day}

// ParseInterval resolves a case-insensitive interval name.
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("unsupported interval %q, expected one of minute, hour, day", s)
	}
	return i, nil
}

// Valid reports whether i is a supported interval.
func (i Interval) Valid() bool {
	switch i {
	case Minute, Hour, Day:
		return true
	}
	return false
}

// Duration returns the fixed length of one interval, or zero when invalid.
func (i Interval) Duration() time.Duration {
	switch i {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	}
	return 0
}

func (i Interval) String() string { return string(i) }
