package data

import (
	"fmt"
	"time"
)

// SessionWindow approximates a streaming session
const SessionWindow = 8 * time.Hour

// TimeFilter is a resolved window. A zero bound is open.
type TimeFilter struct {
	Start time.Time `json:"startDate,omitempty"`
	End   time.Time `json:"endDate,omitempty"`
}

// Contains reports whether t falls inside the inclusive window
func (f *TimeFilter) Contains(t time.Time) bool {
	if f == nil {
		return true
	}
	if !f.Start.IsZero() && t.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && t.After(f.End) {
		return false
	}
	return true
}

// String renders the window, used as a cache key
func (f *TimeFilter) String() string {
	if f == nil {
		return "all"
	}
	start, end := "", ""
	if !f.Start.IsZero() {
		start = formatTimestamp(f.Start)
	}
	if !f.End.IsZero() {
		end = formatTimestamp(f.End)
	}
	return start + ".." + end
}

// FilterKind names a time filter variant
type FilterKind string

const (
	FilterLastDays     FilterKind = "last_days"
	FilterLastHours    FilterKind = "last_hours"
	FilterCustomPeriod FilterKind = "custom_period"
	FilterSessionOnly  FilterKind = "session_only"
)

// ParseFilterKind validates a configured filter type
func ParseFilterKind(s string) (FilterKind, error) {
	switch k := FilterKind(s); k {
	case FilterLastDays, FilterLastHours, FilterCustomPeriod, FilterSessionOnly:
		return k, nil
	default:
		return "", fmt.Errorf("unknown time filter type %q", s)
	}
}

// FilterSpec is an unresolved filter: LastDays(n), LastHours(n),
// CustomPeriod(start, end) or SessionOnly
type FilterSpec struct {
	Kind  FilterKind
	Value int
	Start time.Time
	End   time.Time
}

func LastDays(n int) FilterSpec  { return FilterSpec{Kind: FilterLastDays, Value: n} }
func LastHours(n int) FilterSpec { return FilterSpec{Kind: FilterLastHours, Value: n} }
func SessionOnly() FilterSpec    { return FilterSpec{Kind: FilterSessionOnly} }

func CustomPeriod(start, end time.Time) FilterSpec {
	return FilterSpec{Kind: FilterCustomPeriod, Start: start, End: end}
}

// Resolve turns the spec into a concrete window relative to now. It
// returns nil, meaning no filter, when the spec is incomplete.
func (s FilterSpec) Resolve(now time.Time) *TimeFilter {
	now = now.UTC()
	switch s.Kind {
	case FilterLastDays:
		if s.Value > 0 {
			return &TimeFilter{Start: now.AddDate(0, 0, -s.Value), End: now}
		}
	case FilterLastHours:
		if s.Value > 0 {
			return &TimeFilter{Start: now.Add(-time.Duration(s.Value) * time.Hour), End: now}
		}
	case FilterCustomPeriod:
		if !s.Start.IsZero() && !s.End.IsZero() {
			return &TimeFilter{Start: s.Start.UTC(), End: s.End.UTC()}
		}
	case FilterSessionOnly:
		return &TimeFilter{Start: now.Add(-SessionWindow), End: now}
	}
	return nil
}
