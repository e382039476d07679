package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the calendar date encoding used by every table.
	DateLayout = "2006-01-02"
	// TimestampLayout is the wall clock encoding used for sale and completion timestamps.
	TimestampLayout = "2006-01-02 15:04:05"

	valueTrue  = "TRUE"
	valueFalse = "FALSE"
)

// FormatBool renders the canonical TRUE/FALSE cell value.
func FormatBool(v bool) string {
	if v {
		return valueTrue
	}
	return valueFalse
}

// ParseFlag reads a boolean cell. Spreadsheet users type all sorts of truthy values,
// so "true", "yes", "1", "y" and "done" count as true; an empty cell is false.
func ParseFlag(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "y", "done":
		return true, nil
	case "", "false", "no", "0", "n":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognised boolean %q", value)
	}
}

// ParseDate parses a YYYY-MM-DD cell, tolerating a trailing time component.
func ParseDate(value string) (time.Time, error) {
	str := strings.TrimSpace(value)
	if str == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if len(str) > len(DateLayout) {
		str = str[:len(DateLayout)]
	}
	return time.Parse(DateLayout, str)
}

// ParseInt parses an integer cell.
func ParseInt(value string) (int, error) {
	str := strings.TrimSpace(value)
	if str == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	return strconv.Atoi(str)
}

// SameDay reports whether two instants fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func cell(values []string, idx int) string {
	if idx < len(values) {
		return strings.TrimSpace(values[idx])
	}
	return ""
}

// Day truncates t to its calendar date, expressed as midnight UTC so date
// arithmetic never crosses a DST boundary.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
