package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// critical-section cycle counter - success vs print_failed vs abandoned
	// use this to calculate cycle success rate per node
	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printmesh_cycle_total",
			Help: "total number of critical-section cycles by outcome",
		},
		[]string{"status"},
	)

	// ack wait latency - histogram to track p50/p90/p99
	// dominated by peers deferring while they hold the printer, so the
	// upper buckets sit well above one critical-section duration
	AckWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "printmesh_ack_wait_duration_seconds",
			Help:    "time spent waiting for peer acknowledgements",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// time spent inside the critical section (print included)
	HeldDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "printmesh_held_duration_seconds",
			Help:    "time spent in HELD state per cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12s
		},
	)

	// peers excluded from required ack coverage - spikes indicate
	// unreachable nodes or an ack timeout tuned too low
	PeersFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printmesh_peers_failed_total",
			Help: "total peers excluded from ack coverage across attempts",
		},
	)

	// inbound requests parked in the deferred queue since startup
	RequestsDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printmesh_requests_deferred_total",
			Help: "total inbound peer requests deferred",
		},
	)

	// current deferred queue depth - sustained nonzero values while
	// RELEASED indicate a stuck waiter
	DeferredDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printmesh_deferred_depth",
			Help: "current number of deferred peer requests",
		},
	)

	// current Lamport clock value - monotonically increasing
	ClockValue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printmesh_clock_value",
			Help: "current lamport clock value",
		},
	)

	// print jobs submitted by the local job generator
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printmesh_jobs_total",
			Help: "total print jobs run by the local node",
		},
		[]string{"status"},
	)

	// service uptime - always 1 when running
	// prometheus uses this to detect service restarts
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printmesh_up",
			Help: "whether the node is up (always 1 when running)",
		},
	)
)

func init() {
	// set uptime gauge to 1 on startup
	Up.Set(1)
}
