package domain

import (
	"maps"
	"slices"
	"sort"
	"strconv"
)

// keyedRecord is a record paired with the key it was stored under. The key
// only fixes enumeration order and never reaches the output.
type keyedRecord struct {
	id     string
	fields map[string]any
}

// Normalize converts a raw payload from the store into a chronologically
// ordered table. See NormalizeWithReport.
func Normalize(raw any) (Table, error) {
	table, _, err := NormalizeWithReport(raw)
	return table, err
}

// NormalizeWithReport converts a raw payload into a table and reports how
// many records were kept and why the rest were dropped.
//
// A nil or empty payload yields an empty table and no error. Malformed
// records are dropped one at a time; only a payload that is not a collection
// of field mappings returns a *ShapeError, in which case no table is built.
func NormalizeWithReport(raw any) (Table, Report, error) {
	records, err := collectRecords(raw)
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{Received: len(records)}
	table := make(Table, 0, len(records))
	for _, rec := range records {
		reading, reason := parseRecord(rec.fields)
		if reason != "" {
			report.drop(reason)
			continue
		}
		table = append(table, reading)
	}

	sort.SliceStable(table, func(i, j int) bool {
		return table[i].Timestamp.Before(table[j].Timestamp)
	})
	report.Kept = len(table)
	return table, report, nil
}

// collectRecords flattens the supported payload shapes into key-ordered
// records, validating that every record is a field mapping.
func collectRecords(raw any) ([]keyedRecord, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return collectMap(x, func(v any) any { return v })
	case map[string]RawRecord:
		return collectMap(x, func(v RawRecord) any { return map[string]any(v) })
	case map[string]map[string]any:
		return collectMap(x, func(v map[string]any) any { return v })
	case []any:
		// Sequential integer keys arrive as an array with null holes.
		records := make([]keyedRecord, 0, len(x))
		for i, v := range x {
			if v == nil {
				continue
			}
			id := strconv.Itoa(i)
			fields, err := asFields(id, v)
			if err != nil {
				return nil, err
			}
			records = append(records, keyedRecord{id: id, fields: fields})
		}
		return records, nil
	default:
		return nil, &ShapeError{Got: typeName(raw)}
	}
}

func collectMap[V any](m map[string]V, unwrap func(V) any) ([]keyedRecord, error) {
	records := make([]keyedRecord, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		fields, err := asFields(id, unwrap(m[id]))
		if err != nil {
			return nil, err
		}
		records = append(records, keyedRecord{id: id, fields: fields})
	}
	return records, nil
}

func asFields(id string, v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case RawRecord:
		return x, nil
	default:
		return nil, &ShapeError{RecordID: id, Got: typeName(v)}
	}
}

// parseRecord validates one record. It returns either a complete Reading or
// the reason the record must be dropped, never both.
func parseRecord(fields map[string]any) (Reading, DropReason) {
	rawTS, ok := fields[FieldTimestamp]
	if !ok || rawTS == nil {
		return Reading{}, DropMissingField
	}
	ts, ok := ResolveTimestamp(rawTS)
	if !ok {
		return Reading{}, DropInvalidTimestamp
	}

	gravel, reason := coercePercentage(fields[FieldGravel])
	if reason != "" {
		return Reading{}, reason
	}
	sand, reason := coercePercentage(fields[FieldSand])
	if reason != "" {
		return Reading{}, reason
	}
	silt, reason := coercePercentage(fields[FieldSilt])
	if reason != "" {
		return Reading{}, reason
	}

	return Reading{
		Timestamp:        ts,
		GravelPercentage: gravel,
		SandPercentage:   sand,
		SiltPercentage:   silt,
	}, ""
}
