package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/soil-telemetry-service/internal/adapter/http"
	"github.com/couchcryptid/soil-telemetry-service/internal/domain"
	"github.com/couchcryptid/soil-telemetry-service/internal/observability"
	"github.com/couchcryptid/soil-telemetry-service/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRefresher struct {
	snap  pipeline.Snapshot
	err   error
	calls int
}

func (m *mockRefresher) Refresh(_ context.Context) (pipeline.Snapshot, error) {
	m.calls++
	return m.snap, m.err
}

var (
	d1 = time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	d2 = time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)
	d3 = time.Date(2023, 11, 16, 0, 0, 0, 0, time.UTC)
)

func sampleSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Table: domain.Table{
			{Timestamp: d1, GravelPercentage: 10.5, SandPercentage: 20, SiltPercentage: 69.5},
			{Timestamp: d2, GravelPercentage: 11, SandPercentage: 21, SiltPercentage: 68},
			{Timestamp: d3, GravelPercentage: 12, SandPercentage: 22, SiltPercentage: 66},
		},
		Report:    domain.Report{Received: 4, Kept: 3, Dropped: map[domain.DropReason]int{domain.DropInvalidTimestamp: 1}},
		FetchedAt: time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC),
	}
}

type testServer struct {
	*httpadapter.Server
	refresher *mockRefresher
	metrics   *observability.Metrics
}

func newTestServer(readyErr error, refresher *mockRefresher) testServer {
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httpadapter.NewServer(":0", refresher, &mockReadiness{err: readyErr}, metrics, 50, logger)
	return testServer{Server: srv, refresher: refresher, metrics: metrics}
}

func get(srv http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{})
	rec := get(srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, srv.refresher.calls)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(newTestServer(nil, &mockRefresher{}), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(newTestServer(fmt.Errorf("not ready yet"), &mockRefresher{}), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(nil, &mockRefresher{}), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type readingsBody struct {
	Count     int              `json:"count"`
	Readings  []domain.Reading `json:"readings"`
	Report    domain.Report    `json:"report"`
	FetchedAt time.Time        `json:"fetched_at"`
}

func decodeReadings(t *testing.T, rec *httptest.ResponseRecorder) readingsBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body readingsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestReadings_ReturnsFullTable(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
	body := decodeReadings(t, get(srv, "/api/v1/readings"))

	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Readings, 3)
	assert.Equal(t, sampleSnapshot().Table[0], body.Readings[0])
	assert.Equal(t, 1, body.Report.Dropped[domain.DropInvalidTimestamp])
	assert.Equal(t, sampleSnapshot().FetchedAt, body.FetchedAt)
	assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.Renders.WithLabelValues("json", "success")), 0)
}

func TestReadings_RangeFilter(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})

	tests := []struct {
		name  string
		query string
		want  []time.Time
	}{
		{"rfc3339 bounds", "?start=2023-11-14T00:00:00Z&end=2023-11-15T00:00:00Z", []time.Time{d1, d2}},
		{"epoch bounds", fmt.Sprintf("?start=%d&end=%d", d2.Unix(), d3.Unix()), []time.Time{d2, d3}},
		{"start only", "?start=2023-11-16", []time.Time{d3}},
		{"end only", "?end=2023-11-14", []time.Time{d1}},
		{"no match", "?start=2024-01-01", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := decodeReadings(t, get(srv, "/api/v1/readings"+tt.query))
			got := make([]time.Time, 0, len(body.Readings))
			for _, r := range body.Readings {
				got = append(got, r.Timestamp)
			}
			assert.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.True(t, tt.want[i].Equal(got[i]), "row %d: want %s, got %s", i, tt.want[i], got[i])
			}
			assert.Equal(t, len(tt.want), body.Count)
		})
	}
}

func TestReadings_EmptyTable(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{snap: pipeline.Snapshot{Table: domain.Table{}}})
	rec := get(srv, "/api/v1/readings")
	body := decodeReadings(t, rec)
	assert.Zero(t, body.Count)
	assert.Contains(t, rec.Body.String(), `"readings":[]`)
}

func TestReadings_BadRange(t *testing.T) {
	tests := []struct {
		name  string
		query string
		msg   string
	}{
		{"end before start", "?start=2023-11-16&end=2023-11-14", "end must not be before start"},
		{"unparsable start", "?start=not-a-date", "invalid start parameter"},
		{"unparsable end", "?end=NaN", "invalid end parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
			rec := get(srv, "/api/v1/readings"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.msg)
			assert.Zero(t, srv.refresher.calls)
		})
	}
}

func TestReadings_RefreshErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"shape error", &domain.ShapeError{Got: "string"}, http.StatusBadGateway},
		{"wrapped shape error", fmt.Errorf("refresh: %w", &domain.ShapeError{RecordID: "r1", Got: "[]interface {}"}), http.StatusBadGateway},
		{"fetch error", errors.New("fetch telemetry: connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(nil, &mockRefresher{err: tt.err})
			rec := get(srv, "/api/v1/readings")
			assert.Equal(t, tt.status, rec.Code)
			assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.Renders.WithLabelValues("json", "error")), 0)
		})
	}
}

func TestReadings_EachRequestRefreshes(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
	get(srv, "/api/v1/readings")
	get(srv, "/api/v1/charts/timeseries.png")
	assert.Equal(t, 2, srv.refresher.calls)
}

func TestReadingsXLSX(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
	rec := get(srv, "/api/v1/readings.xlsx?start=2023-11-15")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "soil-readings.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("readings")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCharts(t *testing.T) {
	for _, path := range []string{"/api/v1/charts/timeseries.png", "/api/v1/charts/composition.png"} {
		t.Run(path, func(t *testing.T) {
			srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
			rec := get(srv, path)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
			require.NoError(t, err)
		})
	}
}

func TestCharts_NoDataReturns204(t *testing.T) {
	for _, path := range []string{"/api/v1/charts/timeseries.png", "/api/v1/charts/composition.png"} {
		t.Run(path, func(t *testing.T) {
			srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
			rec := get(srv, path+"?start=2030-01-01")

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Zero(t, rec.Body.Len())
			assert.InDelta(t, 1, testutil.ToFloat64(srv.metrics.Renders.WithLabelValues("png", "empty")), 0)
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(nil, &mockRefresher{snap: sampleSnapshot()})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/readings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
