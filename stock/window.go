package stock

import (
	"strings"
	"time"
)

// =============================================================================
// WINDOW - The reporting range a ledger is built for
// =============================================================================

// Window is the inclusive time range [Start, End] of a ledger request.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate fails with *InvalidRangeError when the window is unresolvable or inverted.
func (w Window) Validate() error {
	switch {
	case w.Start.IsZero() || w.End.IsZero():
		return &InvalidRangeError{Start: w.Start, End: w.End, Reason: "start and end are required"}
	case w.End.Before(w.Start):
		return &InvalidRangeError{Start: w.Start, End: w.End, Reason: "end before start"}
	}
	return nil
}

// Contains returns true if t is within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + "]"
}

const dateLayout = "2006-01-02"

// ParseWindow accepts either YYYY-MM-DD or RFC3339 bounds.
// A bare date is widened to the whole day: from = 00:00, to = end of day (UTC).
func ParseWindow(from, to string) (Window, error) {
	start, err := parseBound(from, false)
	if err != nil {
		return Window{}, &InvalidRangeError{Reason: "from: " + err.Error()}
	}
	end, err := parseBound(to, true)
	if err != nil {
		return Window{}, &InvalidRangeError{Start: start, Reason: "to: " + err.Error()}
	}
	w := Window{Start: start, End: end}
	return w, w.Validate()
}

func parseBound(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		if endOfDay {
			return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
