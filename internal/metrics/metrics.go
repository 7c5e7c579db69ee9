// Package metrics exposes Prometheus collectors for indexing runs and
// retrieval. A nil *Metrics is valid and records nothing, so callers that
// do not expose a registry can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lessonrag"

// Metrics holds the pipeline collectors
type Metrics struct {
	chunksTotal      *prometheus.CounterVec
	retriesTotal     prometheus.Counter
	runsTotal        *prometheus.CounterVec
	lessonErrors     prometheus.Counter
	runDuration      prometheus.Histogram
	budgetRemaining  prometheus.Gauge
	retrievalsTotal  *prometheus.CounterVec
	retrievalLatency prometheus.Histogram
	retrievalHits    prometheus.Histogram
}

// New creates the collectors and registers them on registerer. It returns
// nil when registerer is nil.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	m := &Metrics{
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks seen by the lesson indexer, by outcome",
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "Embedding calls repeated after a transient provider failure",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Completed indexing runs, by stop reason",
		}, []string{"stopped_reason"}),
		lessonErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lesson_errors_total",
			Help:      "Errors recorded against lessons during indexing",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_run_duration_seconds",
			Help:      "Wall time of indexing runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		budgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_budget_remaining",
			Help:      "Embedding calls left in the budget when the last run finished",
		}),
		retrievalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval requests, by result",
		}, []string{"result"}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_latency_seconds",
			Help:      "Latency of retrieval requests including query embedding",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		retrievalHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50},
		}),
	}

	collectors := []prometheus.Collector{
		m.chunksTotal, m.retriesTotal, m.runsTotal, m.lessonErrors, m.runDuration,
		m.budgetRemaining, m.retrievalsTotal, m.retrievalLatency, m.retrievalHits,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Chunk outcome labels
const (
	OutcomeEmbedded = "embedded"
	OutcomeSkipped  = "skipped"
	OutcomeDeleted  = "deleted"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
)

// AddChunks counts n chunks with the given outcome
func (m *Metrics) AddChunks(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksTotal.WithLabelValues(outcome).Add(float64(n))
}

// IncRetry counts one retried embedding call
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(stoppedReason string, lessonErrors, budgetLeft int, d time.Duration) {
	if m == nil {
		return
	}
	if stoppedReason == "" {
		stoppedReason = "completed"
	}
	m.runsTotal.WithLabelValues(stoppedReason).Inc()
	m.lessonErrors.Add(float64(lessonErrors))
	m.budgetRemaining.Set(float64(budgetLeft))
	m.runDuration.Observe(d.Seconds())
}

// ObserveRetrieval records one retrieval; err is the request outcome
func (m *Metrics) ObserveRetrieval(hits int, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case hits == 0:
		result = "empty"
	}
	m.retrievalsTotal.WithLabelValues(result).Inc()
	m.retrievalLatency.Observe(d.Seconds())
	if err == nil {
		m.retrievalHits.Observe(float64(hits))
	}
}
