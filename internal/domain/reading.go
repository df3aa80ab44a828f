package domain

import "time"

// Raw field names as written by the sensors.
const (
	FieldTimestamp = "timestamp"
	FieldGravel    = "gravel_percentage"
	FieldSand      = "sand_percentage"
	FieldSilt      = "silt_percentage"
)

// RawRecord is one observation as received from the store. Values are
// untyped: json.Number, float64, string, bool or nil depending on the decoder
// and on what the sensor wrote.
type RawRecord map[string]any

// Reading is one normalized row of the telemetry table.
type Reading struct {
	Timestamp        time.Time `json:"timestamp"`
	GravelPercentage float64   `json:"gravel_percentage"`
	SandPercentage   float64   `json:"sand_percentage"`
	SiltPercentage   float64   `json:"silt_percentage"`
}

// Table is an ordered sequence of readings.
type Table []Reading

// Empty reports whether the table has no rows. Renderers skip empty tables.
func (t Table) Empty() bool {
	return len(t) == 0
}

// Span returns the first and last timestamps of the table. It assumes the
// table is in chronological order, which Normalize guarantees.
func (t Table) Span() (first, last time.Time) {
	if len(t) == 0 {
		return time.Time{}, time.Time{}
	}
	return t[0].Timestamp, t[len(t)-1].Timestamp
}

// Latest returns the most recent reading, or false when the table is empty.
func (t Table) Latest() (Reading, bool) {
	if len(t) == 0 {
		return Reading{}, false
	}
	return t[len(t)-1], true
}

// DropReason classifies why a record did not make it into the table.
type DropReason string

const (
	DropInvalidTimestamp DropReason = "invalid_timestamp"
	DropMissingField     DropReason = "missing_field"
	DropInvalidNumber    DropReason = "invalid_number"
)

// Report summarizes one normalization pass.
type Report struct {
	Received int                `json:"received"`
	Kept     int                `json:"kept"`
	Dropped  map[DropReason]int `json:"dropped,omitempty"`
}

// DroppedTotal returns the number of records dropped for any reason.
func (r Report) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

func (r *Report) drop(reason DropReason) {
	if r.Dropped == nil {
		r.Dropped = make(map[DropReason]int)
	}
	r.Dropped[reason]++
}
