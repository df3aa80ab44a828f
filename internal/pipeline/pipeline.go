package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/soil-telemetry-service/internal/domain"
	"github.com/couchcryptid/soil-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Fetcher reads the raw telemetry payload from the store.
type Fetcher interface {
	Fetch(ctx context.Context) (any, error)
}

// Pinger is implemented by fetchers that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sink receives each non-empty normalized table.
type Sink interface {
	Name() string
	Publish(ctx context.Context, table domain.Table) error
}

// Snapshot is the result of one refresh cycle.
type Snapshot struct {
	Table     domain.Table
	Report    domain.Report
	FetchedAt time.Time
}

// Pipeline runs fetch-normalize-publish cycles. Each call to Refresh is
// independent; the pipeline holds no table between calls.
type Pipeline struct {
	fetcher Fetcher
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
}

// New creates a Pipeline reading from f and publishing to sinks in order.
func New(f Fetcher, logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *Pipeline {
	return &Pipeline{
		fetcher: f,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source used for Snapshot.FetchedAt.
func (p *Pipeline) SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	p.clock = c
}

// CheckReadiness pings the store when the fetcher supports it. Otherwise the
// pipeline is ready once a refresh has completed.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if pinger, ok := p.fetcher.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("telemetry store unreachable: %w", err)
		}
		return nil
	}
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a refresh yet")
	}
	return nil
}

// Refresh runs one synchronous cycle. Fetch and shape errors abort the cycle.
// An empty table is a valid snapshot and is not handed to sinks.
func (p *Pipeline) Refresh(ctx context.Context) (Snapshot, error) {
	start := time.Now()

	raw, err := p.fetcher.Fetch(ctx)
	if err != nil {
		p.metrics.Refreshes.WithLabelValues("fetch_error").Inc()
		p.logger.ErrorContext(ctx, "fetch telemetry failed", "error", err)
		return Snapshot{}, fmt.Errorf("fetch telemetry: %w", err)
	}
	fetchedAt := p.clock.Now().UTC()

	table, report, err := domain.NormalizeWithReport(raw)
	if err != nil {
		p.metrics.Refreshes.WithLabelValues("shape_error").Inc()
		p.logger.ErrorContext(ctx, "telemetry payload rejected", "error", err)
		return Snapshot{}, err
	}
	p.record(report)

	snap := Snapshot{Table: table, Report: report, FetchedAt: fetchedAt}

	if table.Empty() {
		p.logger.InfoContext(ctx, "no telemetry data available", "received", report.Received)
		p.finish("empty", start)
		return snap, nil
	}

	if report.DroppedTotal() > 0 {
		p.logger.WarnContext(ctx, "dropped malformed records",
			"received", report.Received,
			"kept", report.Kept,
			"invalid_timestamp", report.Dropped[domain.DropInvalidTimestamp],
			"missing_field", report.Dropped[domain.DropMissingField],
			"invalid_number", report.Dropped[domain.DropInvalidNumber],
		)
	}

	for _, s := range p.sinks {
		if err := s.Publish(ctx, table); err != nil {
			p.metrics.SinkPublishes.WithLabelValues(s.Name(), "error").Inc()
			p.metrics.Refreshes.WithLabelValues("sink_error").Inc()
			p.logger.ErrorContext(ctx, "publish failed", "sink", s.Name(), "error", err)
			return snap, fmt.Errorf("publish to %s: %w", s.Name(), err)
		}
		p.metrics.SinkPublishes.WithLabelValues(s.Name(), "success").Inc()
	}

	first, last := table.Span()
	p.logger.InfoContext(ctx, "refresh complete",
		"rows", len(table), "first", first, "last", last, "sinks", len(p.sinks))
	p.finish("success", start)
	return snap, nil
}

func (p *Pipeline) record(report domain.Report) {
	p.metrics.RecordsReceived.Add(float64(report.Received))
	p.metrics.RowsKept.Add(float64(report.Kept))
	for reason, n := range report.Dropped {
		p.metrics.RowsDropped.WithLabelValues(string(reason)).Add(float64(n))
	}
	p.metrics.LastRowCount.Set(float64(report.Kept))
}

func (p *Pipeline) finish(outcome string, start time.Time) {
	p.metrics.Refreshes.WithLabelValues(outcome).Inc()
	p.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
}
