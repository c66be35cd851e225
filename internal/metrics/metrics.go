// Package metrics registers the process's Prometheus collectors and
// exposes narrow Observe* hooks the proxy engine, event bus, intruder
// engine, and spider engine call from their hot paths.
//
// Grounded on etalazz-vsa's internal/ratelimiter/telemetry/churn: global
// package-level collectors registered once in init, a promhttp.Handler
// mounted by the caller, and Observe* functions that are cheap no-ops
// when the metric doesn't apply rather than conditionally compiled out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	flowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxycore_flows_total",
		Help: "Total flows recorded, labeled by scheme and whether the flow was modified.",
	}, []string{"scheme", "modified"})

	flowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxycore_flow_duration_seconds",
		Help:    "End-to-end duration of a proxied flow, request line to finalized response.",
		Buckets: prometheus.DefBuckets,
	})

	ruleEvalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxycore_rule_eval_duration_seconds",
		Help:    "Time spent evaluating the rule set against one flow.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	ruleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxycore_rule_errors_total",
		Help: "Total rule evaluations that deactivated a rule due to a compile or step-cap overrun.",
	})

	interceptQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxycore_intercept_queue_depth",
		Help: "Number of intercept slots currently awaiting an operator decision.",
	})

	interceptSlotWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxycore_intercept_slot_wait_seconds",
		Help:    "Time an intercept slot spent awaiting a decision before resolution.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	eventBusPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxycore_eventbus_published_total",
		Help: "Total events published to the event bus, by topic.",
	}, []string{"topic"})

	eventBusDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxycore_eventbus_dropped_total",
		Help: "Total events dropped under subscriber backpressure, by topic.",
	}, []string{"topic"})

	intruderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxycore_intruder_requests_total",
		Help: "Total intruder requests fired, by attack strategy and outcome.",
	}, []string{"strategy", "outcome"})

	spiderPagesCrawledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxycore_spider_pages_crawled_total",
		Help: "Total pages successfully crawled across all spider sessions.",
	})

	scanIssuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxycore_scan_issues_total",
		Help: "Total distinct scan issues recorded, by severity.",
	}, []string{"severity"})

	storageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxycore_storage_errors_total",
		Help: "Total failures persisting a record, by component.",
	}, []string{"component"})
)

func init() {
	prometheus.MustRegister(
		flowsTotal,
		flowDuration,
		ruleEvalDuration,
		ruleErrorsTotal,
		interceptQueueDepth,
		interceptSlotWait,
		eventBusPublishedTotal,
		eventBusDroppedTotal,
		intruderRequestsTotal,
		spiderPagesCrawledTotal,
		scanIssuesTotal,
		storageErrorsTotal,
	)
}

// ObserveFlow records one finalized flow.
func ObserveFlow(scheme string, modified bool, duration time.Duration) {
	flowsTotal.WithLabelValues(scheme, boolLabel(modified)).Inc()
	flowDuration.Observe(duration.Seconds())
}

// ObserveRuleEval records one rule-set evaluation pass over a flow.
func ObserveRuleEval(duration time.Duration) {
	ruleEvalDuration.Observe(duration.Seconds())
}

// IncRuleError records a rule deactivated due to a compile or
// evaluation-step overrun.
func IncRuleError() {
	ruleErrorsTotal.Inc()
}

// SetInterceptQueueDepth reports the current count of outstanding
// intercept slots.
func SetInterceptQueueDepth(n int) {
	interceptQueueDepth.Set(float64(n))
}

// ObserveInterceptWait records how long a slot waited before
// resolution.
func ObserveInterceptWait(d time.Duration) {
	interceptSlotWait.Observe(d.Seconds())
}

// ObserveEventBusPublish records a successful publish on topic.
func ObserveEventBusPublish(topic string) {
	eventBusPublishedTotal.WithLabelValues(topic).Inc()
}

// ObserveEventBusDrop records a dropped event on topic due to
// subscriber backpressure.
func ObserveEventBusDrop(topic string) {
	eventBusDroppedTotal.WithLabelValues(topic).Inc()
}

// ObserveIntruderRequest records one fired intruder request.
func ObserveIntruderRequest(strategy, outcome string) {
	intruderRequestsTotal.WithLabelValues(strategy, outcome).Inc()
}

// IncSpiderPageCrawled records one successfully crawled page.
func IncSpiderPageCrawled() {
	spiderPagesCrawledTotal.Inc()
}

// ObserveScanIssue records one newly created (non-duplicate) scan
// issue at severity.
func ObserveScanIssue(severity string) {
	scanIssuesTotal.WithLabelValues(severity).Inc()
}

// IncStorageError records one failure to persist a record for the
// named component (e.g. "intruder_result", "flow").
func IncStorageError(component string) {
	storageErrorsTotal.WithLabelValues(component).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
