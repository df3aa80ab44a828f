package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/soil-telemetry-service/internal/adapter/chart"
	"github.com/couchcryptid/soil-telemetry-service/internal/adapter/xlsx"
	"github.com/couchcryptid/soil-telemetry-service/internal/domain"
	"github.com/couchcryptid/soil-telemetry-service/internal/observability"
	"github.com/couchcryptid/soil-telemetry-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Refresher runs one fetch-normalize cycle per call.
type Refresher interface {
	Refresh(ctx context.Context) (pipeline.Snapshot, error)
}

// Server exposes the dashboard API alongside health, readiness, and metrics
// endpoints. Every data request runs its own refresh cycle.
type Server struct {
	httpServer *http.Server
	refresher  Refresher
	metrics    *observability.Metrics
	validate   *validator.Validate
	maxBars    int
	logger     *slog.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(addr string, refresher Refresher, ready sharedobs.ReadinessChecker, metrics *observability.Metrics, maxBars int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		refresher: refresher,
		metrics:   metrics,
		validate:  validator.New(),
		maxBars:   maxBars,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/readings", s.handleReadings)
	mux.HandleFunc("GET /api/v1/readings.xlsx", s.handleReadingsXLSX)
	mux.HandleFunc("GET /api/v1/charts/timeseries.png", s.handleChart(func(w io.Writer, t domain.Table) error {
		return chart.RenderTimeSeries(w, t)
	}))
	mux.HandleFunc("GET /api/v1/charts/composition.png", s.handleChart(func(w io.Writer, t domain.Table) error {
		return chart.RenderComposition(w, t, s.maxBars)
	}))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type readingsResponse struct {
	Count     int           `json:"count"`
	Readings  domain.Table  `json:"readings"`
	Report    domain.Report `json:"report"`
	FetchedAt time.Time     `json:"fetched_at"`
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	snap, table, ok := s.load(w, r, "json")
	if !ok {
		return
	}
	s.metrics.Renders.WithLabelValues("json", "success").Inc()
	writeJSON(w, http.StatusOK, readingsResponse{
		Count:     len(table),
		Readings:  table,
		Report:    snap.Report,
		FetchedAt: snap.FetchedAt,
	})
}

func (s *Server) handleReadingsXLSX(w http.ResponseWriter, r *http.Request) {
	_, table, ok := s.load(w, r, "xlsx")
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := xlsx.WriteTable(&buf, table); err != nil {
		s.renderFailed(w, r, "xlsx", err)
		return
	}
	s.metrics.Renders.WithLabelValues("xlsx", "success").Inc()
	w.Header().Set("Content-Type", contentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="soil-readings.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleChart(render func(io.Writer, domain.Table) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, table, ok := s.load(w, r, "png")
		if !ok {
			return
		}

		var buf bytes.Buffer
		err := render(&buf, table)
		if errors.Is(err, domain.ErrNoData) {
			s.metrics.Renders.WithLabelValues("png", "empty").Inc()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			s.renderFailed(w, r, "png", err)
			return
		}
		s.metrics.Renders.WithLabelValues("png", "success").Inc()
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

// load parses the range query, runs a refresh and filters the table. It
// writes the error response itself and reports false when the request is done.
func (s *Server) load(w http.ResponseWriter, r *http.Request, format string) (pipeline.Snapshot, domain.Table, bool) {
	q, err := s.parseRange(r)
	if err != nil {
		s.metrics.Renders.WithLabelValues(format, "error").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return pipeline.Snapshot{}, nil, false
	}

	snap, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.metrics.Renders.WithLabelValues(format, "error").Inc()
		var shapeErr *domain.ShapeError
		if errors.As(err, &shapeErr) {
			writeError(w, http.StatusBadGateway, err.Error())
		} else {
			writeError(w, http.StatusServiceUnavailable, "telemetry store unavailable")
		}
		return pipeline.Snapshot{}, nil, false
	}

	return snap, domain.FilterRange(snap.Table, q.Start, q.End), true
}

func (s *Server) renderFailed(w http.ResponseWriter, r *http.Request, format string, err error) {
	s.metrics.Renders.WithLabelValues(format, "error").Inc()
	s.logger.ErrorContext(r.Context(), "render failed", "format", format, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "render failed")
}

type rangeQuery struct {
	Start time.Time
	End   time.Time `validate:"omitempty,gtefield=Start"`
}

func (s *Server) parseRange(r *http.Request) (rangeQuery, error) {
	var q rangeQuery
	var err error
	if q.Start, err = queryTime(r, "start"); err != nil {
		return q, err
	}
	if q.End, err = queryTime(r, "end"); err != nil {
		return q, err
	}
	if err := s.validate.Struct(q); err != nil {
		return q, errors.New("end must not be before start")
	}
	return q, nil
}

// queryTime accepts the same forms as record timestamps: epoch seconds or a
// date string.
func queryTime(r *http.Request, key string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return time.Time{}, nil
	}
	t, ok := domain.ParseInstant(v)
	if !ok {
		return time.Time{}, errors.New("invalid " + key + " parameter")
	}
	return t, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
