package telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "telemetry_client"

// metricsCollector implements prometheus.Collector over the transport's
// send outcomes.
type metricsCollector struct {
	sent        atomic.Uint64
	failed      atomic.Uint64
	rateLimited atomic.Uint64
	dropped     atomic.Uint64
	invalid     atomic.Uint64

	sentDesc        *prometheus.Desc
	failedDesc      *prometheus.Desc
	rateLimitedDesc *prometheus.Desc
	droppedDesc     *prometheus.Desc
	invalidDesc     *prometheus.Desc

	outcomesByCategory *prometheus.CounterVec
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		sentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "sent_events_total"),
			"Total number of successfully delivered items",
			nil, nil),

		failedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "failed_events_total"),
			"Total number of items that failed at the network level",
			nil, nil),

		rateLimitedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "rate_limited_events_total"),
			"Total number of items suppressed by rate limiting",
			nil, nil),

		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "dropped_events_total"),
			"Total number of items shed before delivery (queue full, closed, veto)",
			nil, nil),

		invalidDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "invalid_events_total"),
			"Total number of items rejected by the backend as malformed",
			nil, nil),

		outcomesByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(metricsNamespace, "", "outcomes_by_category_total"),
				Help: "Send outcomes partitioned by data category",
			},
			[]string{"category", "outcome"}),
	}
}

// recordOutcome accounts one resolved send.
func (mc *metricsCollector) recordOutcome(category Category, outcome SendOutcome) {
	switch outcome {
	case OutcomeSuccess:
		mc.sent.Add(1)
	case OutcomeFailed:
		mc.failed.Add(1)
	case OutcomeRateLimited:
		mc.rateLimited.Add(1)
	case OutcomeQueueFull, OutcomeDropped:
		mc.dropped.Add(1)
	case OutcomeInvalid:
		mc.invalid.Add(1)
	}

	mc.outcomesByCategory.WithLabelValues(string(category), string(outcome)).Inc()
}

// Describe implements prometheus.Collector.
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.sentDesc
	ch <- mc.failedDesc
	ch <- mc.rateLimitedDesc
	ch <- mc.droppedDesc
	ch <- mc.invalidDesc
	mc.outcomesByCategory.Describe(ch)
}

// Collect implements prometheus.Collector.
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(mc.sentDesc, prometheus.CounterValue, float64(mc.sent.Load()))
	ch <- prometheus.MustNewConstMetric(mc.failedDesc, prometheus.CounterValue, float64(mc.failed.Load()))
	ch <- prometheus.MustNewConstMetric(mc.rateLimitedDesc, prometheus.CounterValue, float64(mc.rateLimited.Load()))
	ch <- prometheus.MustNewConstMetric(mc.droppedDesc, prometheus.CounterValue, float64(mc.dropped.Load()))
	ch <- prometheus.MustNewConstMetric(mc.invalidDesc, prometheus.CounterValue, float64(mc.invalid.Load()))
	mc.outcomesByCategory.Collect(ch)
}
