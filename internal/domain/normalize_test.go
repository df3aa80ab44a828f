package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testT1 = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	testT2 = testT1.Add(time.Hour)
	testT3 = testT1.Add(2 * time.Hour)
)

// decode mimics the store client: JSON with UseNumber.
func decode(t *testing.T, payload string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func record(ts any, gravel, sand, silt any) map[string]any {
	return map[string]any{
		FieldTimestamp: ts,
		FieldGravel:    gravel,
		FieldSand:      sand,
		FieldSilt:      silt,
	}
}

func TestNormalize_Empty(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"nil payload", nil},
		{"empty map", map[string]any{}},
		{"empty typed map", map[string]RawRecord{}},
		{"json null", decode(t, `null`)},
		{"json empty object", decode(t, `{}`)},
		{"array of holes", []any{nil, nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, report, err := NormalizeWithReport(tt.raw)
			require.NoError(t, err)
			assert.True(t, table.Empty())
			assert.Equal(t, 0, report.Kept)
			assert.Equal(t, 0, report.DroppedTotal())
		})
	}
}

func TestNormalize_ExampleBatch(t *testing.T) {
	raw := decode(t, `{
		"r1": {"timestamp": 1700000000, "gravel_percentage": "10.5", "sand_percentage": "20", "silt_percentage": "69.5"},
		"r2": {"timestamp": "not-a-date", "gravel_percentage": "5", "sand_percentage": "5", "silt_percentage": "5"}
	}`)

	table, report, err := NormalizeWithReport(raw)
	require.NoError(t, err)

	want := Table{{Timestamp: testT1, GravelPercentage: 10.5, SandPercentage: 20.0, SiltPercentage: 69.5}}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, report.Received)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, 1, report.Dropped[DropInvalidTimestamp])
}

func TestNormalize_NumericValuesAreExact(t *testing.T) {
	raw := map[string]any{
		"a": record(json.Number("1700000000"), json.Number("33.333333333333336"), 0.1, float32(12.5)),
		"b": record(int64(1700003600), 1, int32(2), uint8(3)),
	}

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, testT1, table[0].Timestamp)
	assert.Equal(t, 33.333333333333336, table[0].GravelPercentage)
	assert.Equal(t, 0.1, table[0].SandPercentage)
	assert.Equal(t, 12.5, table[0].SiltPercentage)

	assert.Equal(t, testT2, table[1].Timestamp)
	assert.Equal(t, 1.0, table[1].GravelPercentage)
	assert.Equal(t, 2.0, table[1].SandPercentage)
	assert.Equal(t, 3.0, table[1].SiltPercentage)
}

func TestNormalize_RowLevelIsolation(t *testing.T) {
	raw := map[string]any{
		"good-1":        record(1700000000, 1, 2, 3),
		"bad-ts":        record("not-a-date", 1, 2, 3),
		"missing-sand":  map[string]any{FieldTimestamp: 1700000000, FieldGravel: 1, FieldSilt: 3},
		"null-silt":     record(1700000000, 1, 2, nil),
		"text-gravel":   record(1700000000, "lots", 2, 3),
		"bool-sand":     record(1700000000, 1, true, 3),
		"blank-silt":    record(1700000000, 1, 2, "   "),
		"nested-gravel": record(1700000000, map[string]any{"v": 1}, 2, 3),
		"nan-silt":      record(1700000000, 1, 2, "NaN"),
		"no-timestamp":  map[string]any{FieldGravel: 1, FieldSand: 2, FieldSilt: 3},
		"empty":         map[string]any{},
		"good-2":        record(1700003600, "4", "5", "6"),
		"string-epoch":  record("1700003600.5", 7, 8, 9),
		"millis-string": record("1700000000000", 1, 2, 3),
	}

	table, report, err := NormalizeWithReport(raw)
	require.NoError(t, err)

	want := Table{
		{Timestamp: testT1, GravelPercentage: 1, SandPercentage: 2, SiltPercentage: 3},
		{Timestamp: testT2, GravelPercentage: 4, SandPercentage: 5, SiltPercentage: 6},
		{Timestamp: testT2.Add(500 * time.Millisecond), GravelPercentage: 7, SandPercentage: 8, SiltPercentage: 9},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 14, report.Received)
	assert.Equal(t, 3, report.Kept)
	assert.Equal(t, 11, report.DroppedTotal())
	assert.Equal(t, 2, report.Dropped[DropInvalidTimestamp])
	assert.Equal(t, 4, report.Dropped[DropMissingField])
	assert.Equal(t, 5, report.Dropped[DropInvalidNumber])
}

func TestNormalize_MissingSandDropsRow(t *testing.T) {
	raw := map[string]any{
		"r1": map[string]any{FieldTimestamp: 1700000000, FieldGravel: 10, FieldSilt: 90},
	}

	table, err := Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestNormalize_OrdersChronologically(t *testing.T) {
	raw := map[string]any{
		"-Nc": record(1700007200, 3, 3, 3),
		"-Na": record(1700003600, 2, 2, 2),
		"-Nb": record("2023-11-14T22:13:20Z", 1, 1, 1),
	}

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 3)
	assert.Equal(t, testT1, table[0].Timestamp)
	assert.Equal(t, testT2, table[1].Timestamp)
	assert.Equal(t, testT3, table[2].Timestamp)
}

func TestNormalize_EqualTimestampsKeepKeyOrder(t *testing.T) {
	raw := map[string]any{
		"k2": record(1700000000, 2, 0, 0),
		"k1": record(1700000000, 1, 0, 0),
		"k3": record(1700000000, 3, 0, 0),
	}

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{
		table[0].GravelPercentage, table[1].GravelPercentage, table[2].GravelPercentage,
	})
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := decode(t, `{
		"a": {"timestamp": 1700000000, "gravel_percentage": 1, "sand_percentage": 2, "silt_percentage": 3},
		"b": {"timestamp": 1700000000, "gravel_percentage": 4, "sand_percentage": 5, "silt_percentage": 6},
		"c": {"timestamp": "2023-11-14 23:13:20", "gravel_percentage": "7", "sand_percentage": "8", "silt_percentage": "9"},
		"d": {"timestamp": "garbage", "gravel_percentage": 1, "sand_percentage": 1, "silt_percentage": 1}
	}`)

	first, err := Normalize(raw)
	require.NoError(t, err)
	second, err := Normalize(raw)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated normalization differs (-first +second):\n%s", diff)
	}
}

func TestNormalize_ArrayPayload(t *testing.T) {
	raw := decode(t, `[
		null,
		{"timestamp": 1700003600, "gravel_percentage": 2, "sand_percentage": 2, "silt_percentage": 2},
		{"timestamp": 1700000000, "gravel_percentage": 1, "sand_percentage": 1, "silt_percentage": 1}
	]`)

	table, report, err := NormalizeWithReport(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Received)
	require.Len(t, table, 2)
	assert.Equal(t, testT1, table[0].Timestamp)
	assert.Equal(t, testT2, table[1].Timestamp)
}

func TestNormalize_TypedRecordMaps(t *testing.T) {
	typed := map[string]RawRecord{"r1": record(1700000000, 1, 2, 3)}
	table, err := Normalize(typed)
	require.NoError(t, err)
	assert.Len(t, table, 1)

	nested := map[string]map[string]any{"r1": record(1700000000, 1, 2, 3)}
	table, err = Normalize(nested)
	require.NoError(t, err)
	assert.Len(t, table, 1)
}

func TestNormalize_ShapeErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		recordID string
	}{
		{"scalar payload", "soil", ""},
		{"number payload", json.Number("42"), ""},
		{"single record at top level", RawRecord{FieldTimestamp: 1700000000}, ""},
		{"record is a scalar", map[string]any{"r1": record(1700000000, 1, 2, 3), "r2": "oops"}, "r2"},
		{"record is a list", map[string]any{"r1": []any{1, 2, 3}}, "r1"},
		{"record is null", map[string]any{"r1": nil}, "r1"},
		{"array element is a scalar", []any{record(1700000000, 1, 2, 3), 7.0}, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Normalize(tt.raw)
			require.Error(t, err)
			assert.Nil(t, table, "no partial table on shape errors")

			var shapeErr *ShapeError
			require.True(t, errors.As(err, &shapeErr))
			assert.Equal(t, tt.recordID, shapeErr.RecordID)
			assert.Contains(t, err.Error(), "unexpected")
		})
	}
}
