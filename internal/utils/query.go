// Package utils provides small query-string parsing helpers shared by the
// HTTP handlers. They carry no domain logic.
package utils

import (
	"strconv"
	"strings"
	"time"
)

// DayLayout is the calendar-day format accepted in date filters.
const DayLayout = "2006-01-02"

// AtoiDefault converts s to an int, returning def when s is empty or not a
// valid integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseDay parses a YYYY-MM-DD string as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, strings.TrimSpace(s), time.UTC)
}
