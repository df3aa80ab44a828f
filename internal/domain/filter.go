package domain

import "time"

// FilterRange returns the readings whose timestamp lies in [start, end],
// preserving their relative order. A zero start or end leaves that side
// unbounded. The input table is not modified.
func FilterRange(t Table, start, end time.Time) Table {
	out := make(Table, 0, len(t))
	for _, r := range t {
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}
