package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ragcache"
)

// Cache tiers used as metric labels.
const (
	TierLocal   = "local"
	TierDurable = "durable"
)

// Lookup outcomes used as metric labels.
const (
	OutcomeHit         = "hit"
	OutcomeSimilar     = "similar"
	OutcomeMiss        = "miss"
	OutcomeUnavailable = "unavailable"
)

// CacheMetrics holds the Prometheus collectors for the retrieval cache.
type CacheMetrics struct {
	LookupsTotal      *prometheus.CounterVec
	AnswersTotal      *prometheus.CounterVec
	AnswerDuration    *prometheus.HistogramVec
	PipelineErrors    *prometheus.CounterVec
	WritesTotal       *prometheus.CounterVec
	InvalidatedKeys   prometheus.Counter
	LocalEntries      prometheus.Gauge
	LocalHitRatio     prometheus.Gauge
	CoalescedRequests prometheus.Counter
}

// NewCacheMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)

	return &CacheMetrics{
		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Total number of cache lookups by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),

		AnswersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_total",
				Help:      "Total number of answers by source",
			},
			[]string{"source"},
		),

		// Buckets: 0.1ms up to 30s, covering in-process hits and full pipeline runs.
		AnswerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "answer_duration_seconds",
				Help:      "Duration of answers in seconds by source",
				Buckets:   []float64{.0001, .001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),

		PipelineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_errors_total",
				Help:      "Total number of failed pipeline runs by error code",
			},
			[]string{"code"},
		),

		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Total number of cache writes by tier and status",
			},
			[]string{"tier", "status"},
		),

		InvalidatedKeys: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidated_keys_total",
				Help:      "Total number of durable keys removed by invalidation",
			},
		),

		LocalEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "local_entries",
				Help:      "Current number of entries in the in-process cache",
			},
		),

		LocalHitRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "local_hit_ratio",
				Help:      "In-process cache hit ratio (0-1)",
			},
		),

		CoalescedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_requests_total",
				Help:      "Total number of answers that shared another caller's pipeline run",
			},
		),
	}
}

// RecordLookup records one lookup against a tier.
func (m *CacheMetrics) RecordLookup(tier, outcome string) {
	m.LookupsTotal.WithLabelValues(tier, outcome).Inc()
}

// RecordAnswer records where an answer came from and how long it took.
func (m *CacheMetrics) RecordAnswer(source string, duration time.Duration) {
	m.AnswersTotal.WithLabelValues(source).Inc()
	m.AnswerDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordPipelineError records a failed pipeline run.
func (m *CacheMetrics) RecordPipelineError(code string) {
	m.PipelineErrors.WithLabelValues(code).Inc()
}

// RecordWrite records a write to a tier.
func (m *CacheMetrics) RecordWrite(tier string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.WritesTotal.WithLabelValues(tier, status).Inc()
}

// RecordInvalidation records keys removed by an invalidation.
func (m *CacheMetrics) RecordInvalidation(removed int) {
	m.InvalidatedKeys.Add(float64(removed))
}

// RecordCoalesced records an answer that reused a concurrent pipeline run.
func (m *CacheMetrics) RecordCoalesced() {
	m.CoalescedRequests.Inc()
}

// UpdateLocalStats sets the in-process cache gauges.
func (m *CacheMetrics) UpdateLocalStats(size int, hitRate float64) {
	m.LocalEntries.Set(float64(size))
	m.LocalHitRatio.Set(hitRate)
}
