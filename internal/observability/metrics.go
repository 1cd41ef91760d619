package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "road_surface"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingress pipeline.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesAcked    prometheus.Counter
	MessagesFailed   *prometheus.CounterVec // labels: state={decode,resolve,predict,commit}, kind={transient,permanent}
	DeadLettered     prometheus.Counter
	Redeliveries     prometheus.Counter
	PipelineRunning  prometheus.Gauge

	ProcessingDuration prometheus.Histogram

	// Resolution metrics.
	Resolutions     *prometheus.CounterVec // labels: outcome={resolved,no_candidates}
	SegmentDistance prometheus.Histogram
	Commits         *prometheus.CounterVec // labels: outcome={committed,rejected,error}

	// Context broker metrics.
	BrokerRequests        *prometheus.CounterVec   // labels: operation={query,patch}, outcome={success,error,rejected}
	BrokerRequestDuration *prometheus.HistogramVec // labels: operation={query,patch}
	SegmentCache          *prometheus.CounterVec   // labels: result={hit,miss}

	MeasurementsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total telemetry messages read from the source topic.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total telemetry messages whose offset was committed after handling.",
		}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Handling attempts that ended without acknowledgment, by failing state and kind.",
		}, []string{"state", "kind"}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dead_lettered_total",
			Help:      "Total messages routed to the dead-letter topic.",
		}),
		Redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeliveries_total",
			Help:      "Total in-process retries of transiently failed messages.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "Number of active consumer workers.",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_duration_seconds",
			Help:      "Duration of a single handling attempt from decode to commit.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_resolutions_total",
			Help:      "Segment resolutions by outcome.",
		}, []string{"outcome"}),
		SegmentDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_distance_meters",
			Help:      "Distance from the reported position to the selected segment.",
			Buckets:   []float64{0, 1, 2, 5, 10, 15, 20, 30, 50, 100},
		}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surface_commits_total",
			Help:      "Surface type patches by outcome.",
		}, []string{"outcome"}),
		BrokerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_broker_requests_total",
			Help:      "Context broker requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		BrokerRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_broker_request_duration_seconds",
			Help:      "Context broker request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		SegmentCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_cache_total",
			Help:      "Nearby segment cache lookups by result.",
		}, []string{"result"}),
		MeasurementsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_published_total",
			Help:      "Road measure values handed to the downstream topic, by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesAcked,
		m.MessagesFailed,
		m.DeadLettered,
		m.Redeliveries,
		m.PipelineRunning,
		m.ProcessingDuration,
		m.Resolutions,
		m.SegmentDistance,
		m.Commits,
		m.BrokerRequests,
		m.BrokerRequestDuration,
		m.SegmentCache,
		m.MeasurementsPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		MessagesConsumed:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_consumed_total"}),
		MessagesAcked:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_acked_total"}),
		MessagesFailed:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "messages_failed_total"}, []string{"state", "kind"}),
		DeadLettered:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_dead_lettered_total"}),
		Redeliveries:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "redeliveries_total"}),
		PipelineRunning:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		ProcessingDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "message_processing_duration_seconds"}),
		Resolutions:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "segment_resolutions_total"}, []string{"outcome"}),
		SegmentDistance:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "segment_distance_meters"}),
		Commits:               prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "surface_commits_total"}, []string{"outcome"}),
		BrokerRequests:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "context_broker_requests_total"}, []string{"operation", "outcome"}),
		BrokerRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "context_broker_request_duration_seconds"}, []string{"operation"}),
		SegmentCache:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "segment_cache_total"}, []string{"result"}),
		MeasurementsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "measurements_published_total"}, []string{"outcome"}),
	}
}
