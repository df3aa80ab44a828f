package domain

import (
	"errors"
	"fmt"
)

// ErrNoData marks the recognized empty state: the store returned nothing, or
// every record was dropped. It is not a failure; renderers return it so
// callers can skip output.
var ErrNoData = errors.New("no data available")

// ShapeError reports a payload that is not a collection of flat records.
type ShapeError struct {
	// RecordID names the offending record, empty when the payload itself has
	// the wrong type.
	RecordID string
	// Got is the Go type that was found instead of a mapping.
	Got string
}

func (e *ShapeError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("unexpected payload shape: want mapping of records, got %s", e.Got)
	}
	return fmt.Sprintf("unexpected shape for record %q: want mapping of fields, got %s", e.RecordID, e.Got)
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
