// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the service-wide registry served by the HTTP layer.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		FramesTotal, FrameDuration,
		InferenceDuration, FallbackTotal,
		SearchTotal,
		ActiveActors, OpenSessions,
	)
}

// FramesTotal counts processed inbound frames by type and outcome.
var FramesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatd_frames_total",
		Help: "Inbound frames processed, by type and outcome.",
	},
	[]string{"type", "outcome"}, // ok | error
)

// FrameDuration is the time spent processing one frame.
var FrameDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "chatd_frame_duration_seconds",
		Help:    "Time spent processing one inbound frame.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"type"},
)

// InferenceDuration is the latency of calls to the language model.
var InferenceDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "chatd_inference_duration_seconds",
		Help:    "Latency of language model calls.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"outcome"}, // ok | error | empty
)

// FallbackTotal counts replies produced by the local fallback path.
var FallbackTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatd_fallback_total",
		Help: "Replies served by the local fallback rules.",
	},
	[]string{"reason"}, // unavailable | error | empty
)

// SearchTotal counts web search calls.
var SearchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatd_search_total",
		Help: "Web search calls by outcome.",
	},
	[]string{"outcome"}, // ok | error | cache_hit
)

// ActiveActors is the number of live actors.
var ActiveActors = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "chatd_active_actors",
	Help: "Number of live actors.",
})

// OpenSessions is the number of open websocket sessions across all actors.
var OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "chatd_open_sessions",
	Help: "Number of open websocket sessions.",
})
