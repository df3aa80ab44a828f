package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// refresh pipeline and its collaborators.
type Metrics struct {
	// Refresh cycle metrics.
	Refreshes       *prometheus.CounterVec // labels: outcome={success,empty,fetch_error,shape_error,sink_error}
	RefreshDuration prometheus.Histogram
	RecordsReceived prometheus.Counter
	RowsKept        prometheus.Counter
	RowsDropped     *prometheus.CounterVec // labels: reason={invalid_timestamp,missing_field,invalid_number}
	LastRowCount    prometheus.Gauge

	// Store client metrics.
	FetchRequests *prometheus.CounterVec   // labels: kind={fetch,ping}, outcome={success,error,circuit_open}
	FetchDuration *prometheus.HistogramVec // labels: kind={fetch,ping}

	// Sink and render metrics.
	SinkPublishes *prometheus.CounterVec // labels: sink, outcome={success,error}
	Renders       *prometheus.CounterVec // labels: format={json,png,xlsx}, outcome={success,empty,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := NewMetricsForTesting()

	prometheus.MustRegister(
		m.Refreshes,
		m.RefreshDuration,
		m.RecordsReceived,
		m.RowsKept,
		m.RowsDropped,
		m.LastRowCount,
		m.FetchRequests,
		m.FetchDuration,
		m.SinkPublishes,
		m.Renders,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "refreshes_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "soil_telemetry",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-publish cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "records_received_total",
			Help:      "Raw records read from the store.",
		}),
		RowsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "rows_kept_total",
			Help:      "Records that normalized into table rows.",
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "rows_dropped_total",
			Help:      "Records dropped during normalization, by reason.",
		}, []string{"reason"}),
		LastRowCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "soil_telemetry",
			Name:      "last_table_rows",
			Help:      "Row count of the most recent normalized table.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "store_requests_total",
			Help:      "Realtime database requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soil_telemetry",
			Name:      "store_request_duration_seconds",
			Help:      "Realtime database request duration including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		SinkPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "sink_publishes_total",
			Help:      "Tables handed to sinks, by sink and outcome.",
		}, []string{"sink", "outcome"}),
		Renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soil_telemetry",
			Name:      "renders_total",
			Help:      "Dashboard renders by format and outcome.",
		}, []string{"format", "outcome"}),
	}
}
