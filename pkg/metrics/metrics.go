// Package metrics exposes the engine's Prometheus collectors: per
// route/processor counters and histograms plus ambient process gauges fed
// by the host resource sampler. The transport to a dashboard (HTTP,
// Prometheus scrape format) is external to the core, per the routing
// engine's scope; this package only maintains the collectors and an
// http.Handler to serve them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowctl"

var (
	// Registry holds every collector registered by this package.
	Registry = prometheus.NewRegistry()

	messagesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_in_total",
			Help:      "Messages read from a route's source, per route and processor.",
		},
		[]string{"route", "processor"},
	)

	messagesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_out_total",
			Help:      "Messages that passed a route stage successfully, per route and processor.",
		},
		[]string{"route", "processor"},
	)

	drops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Messages dropped without error (filter false, aggregate buffering), per route and processor.",
		},
		[]string{"route", "processor"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Processing/delivery errors, per route, processor, and error kind.",
		},
		[]string{"route", "processor", "kind"},
	)

	externalTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_timeouts_total",
			Help:      "External processor invocations that exceeded their timeout, per route and processor.",
		},
		[]string{"route", "processor"},
	)

	processingTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_time_ms",
			Help:      "Per-stage processing duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
		},
		[]string{"route", "processor"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current depth of a route's source-to-chain queue.",
		},
		[]string{"route"},
	)

	routeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "route_state",
			Help:      "One-hot supervisor state per route.",
		},
		[]string{"route", "state"},
	)

	processCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Process CPU utilization percent, sampled by the host resource sampler.",
		},
	)

	processRSSBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Process resident set size in bytes, sampled by the host resource sampler.",
		},
	)
)

func init() {
	Registry.MustRegister(
		messagesIn,
		messagesOut,
		drops,
		errorsTotal,
		externalTimeouts,
		processingTime,
		queueDepth,
		routeState,
		processCPUPercent,
		processRSSBytes,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// MessageIn increments the messages_in counter for route/processor.
func MessageIn(route, processor string) {
	messagesIn.WithLabelValues(route, processor).Inc()
}

// MessageOut increments the messages_out counter for route/processor.
func MessageOut(route, processor string) {
	messagesOut.WithLabelValues(route, processor).Inc()
}

// Drop increments the drops counter for route/processor.
func Drop(route, processor string) {
	drops.WithLabelValues(route, processor).Inc()
}

// RecordError increments the errors counter for route/processor/kind.
func RecordError(route, processor, kind string) {
	errorsTotal.WithLabelValues(route, processor, kind).Inc()
}

// ExternalTimeout increments the external_timeouts counter for route/processor.
func ExternalTimeout(route, processor string) {
	externalTimeouts.WithLabelValues(route, processor).Inc()
}

// ObserveProcessingTime records a stage's duration in milliseconds.
func ObserveProcessingTime(route, processor string, d time.Duration) {
	processingTime.WithLabelValues(route, processor).Observe(float64(d.Milliseconds()))
}

// SetQueueDepth sets the current queue depth gauge for a route.
func SetQueueDepth(route string, depth int) {
	queueDepth.WithLabelValues(route).Set(float64(depth))
}

// SetRouteState one-hots state for route among the known supervisor states,
// zeroing every other known state so the gauge set reflects the current
// state exactly.
func SetRouteState(route, state string, knownStates []string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		routeState.WithLabelValues(route, s).Set(v)
	}
}

// SetHostMetrics updates the ambient process CPU/RSS gauges.
func SetHostMetrics(cpuPercent float64, rssBytes uint64) {
	processCPUPercent.Set(cpuPercent)
	processRSSBytes.Set(float64(rssBytes))
}
