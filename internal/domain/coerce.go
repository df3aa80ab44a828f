package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"
)

// maxEpochSeconds bounds numeric timestamps to years 0001-9999 so absurd
// sensor values drop instead of overflowing time.Unix.
const maxEpochSeconds = 253402300799

// ResolveTimestamp interprets v as an instant. Numbers and numeric strings are
// Unix epoch seconds; other strings are parsed as free-form dates, in UTC when
// no zone is given. The result is always in UTC.
func ResolveTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil, bool:
		return time.Time{}, false
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return epochSeconds(float64(n))
		}
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochSeconds(f)
	case string:
		if f, ok := parseDecimal(x); ok {
			return epochSeconds(f)
		}
		return parseDateString(x)
	case float64:
		return epochSeconds(x)
	case float32:
		return epochSeconds(float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := cast.ToInt64E(x)
		if err != nil {
			return time.Time{}, false
		}
		return epochSeconds(float64(n))
	default:
		return time.Time{}, false
	}
}

// ParseInstant resolves a user-supplied time such as a query parameter or
// flag value, with the same rules as ResolveTimestamp for strings.
func ParseInstant(s string) (time.Time, bool) {
	return ResolveTimestamp(s)
}

// parseDecimal reports whether s is written as a number. Underscores and hex
// forms are rejected; NaN and Inf spellings parse and are left to callers.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "_xXpP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func epochSeconds(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxEpochSeconds {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// coercePercentage converts a raw field value to a finite float64.
func coercePercentage(v any) (float64, DropReason) {
	switch x := v.(type) {
	case nil:
		return 0, DropMissingField
	case bool:
		// cast would turn true into 1.
		return 0, DropInvalidNumber
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, DropInvalidNumber
		}
		v = f
	case string:
		f, ok := parseDecimal(x)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, DropInvalidNumber
		}
		return f, ""
	}

	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, DropInvalidNumber
	}
	return f, ""
}
