package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the pipeline counters. Each instance owns its own
// registry so tests can construct them freely.
type Metrics struct {
	registry *prometheus.Registry

	PositionsIngested prometheus.Counter
	IngestErrors      prometheus.Counter
	PositionsEnrolled prometheus.Counter
	RecordsInvalid    prometheus.Counter
	Batches           *prometheus.CounterVec
}

// New constructs and registers all pipeline counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PositionsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_positions_ingested_total",
			Help: "Position fixes accepted from the intake transport.",
		}),
		IngestErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ingest_errors_total",
			Help: "Position payloads dropped before persistence.",
		}),
		PositionsEnrolled: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_etoll_positions_enrolled_total",
			Help: "Positions enqueued for toll submission.",
		}),
		RecordsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_etoll_records_invalid_total",
			Help: "Wire records rejected by field validation.",
		}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_etoll_batches_total",
			Help: "Submission attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
