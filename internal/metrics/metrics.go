package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// All metrics live under the researchd_ namespace and are registered on the
// default registry at package init.

var (
	// Research runs
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_runs_started_total",
		Help: "Research runs started",
	})
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_runs_completed_total",
		Help: "Research runs completed by outcome",
	}, []string{"outcome"}) // success, error
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "researchd_run_duration_seconds",
		Help:    "End-to-end research run duration",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
	})

	// Clarifier
	ClarifierDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_clarifier_decisions_total",
		Help: "Clarifier decisions by next action",
	}, []string{"action"})
	ClarifierParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_clarifier_parse_failures_total",
		Help: "Clarifier model replies that failed JSON extraction",
	})

	// Workers
	WorkerTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_worker_tasks_total",
		Help: "Worker task completions by terminal state",
	}, []string{"state"}) // done, soft_exit, hard_timeout, max_turns, error
	WorkerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "researchd_worker_duration_seconds",
		Help:    "Per-subtask worker wall-clock duration",
		Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 180},
	})
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_tool_invocations_total",
		Help: "Research tool invocations by outcome",
	}, []string{"outcome"}) // ok, timeout, degraded
	DeepFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_deep_fetches_total",
		Help: "Deep page fetches by outcome",
	}, []string{"outcome"}) // ok, skipped, error

	// Pool
	PoolWidth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "researchd_pool_width",
		Help: "Current adaptive pool width",
	})
	PoolAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_pool_adjustments_total",
		Help: "Adaptive concurrency adjustments by direction",
	}, []string{"direction"}) // up, down

	// Adapters
	AdapterRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_adapter_requests_total",
		Help: "Outbound adapter requests by capability and outcome",
	}, []string{"capability", "outcome"})
	AdapterLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "researchd_adapter_latency_seconds",
		Help:    "Outbound adapter request latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{"capability"})

	// Sources
	InvalidURLsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_invalid_urls_dropped_total",
		Help: "Source URLs rejected by validation",
	})
	CitationsStripped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_citations_stripped_total",
		Help: "Synthesis citations stripped for unverifiable URLs",
	})

	// Session cache
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_sessions_created_total",
		Help: "Sessions created",
	})
	SessionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_session_cache_hits_total",
		Help: "Session local cache hits",
	})
	SessionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_session_cache_misses_total",
		Help: "Session local cache misses",
	})
	SessionCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_session_cache_evictions_total",
		Help: "Session local cache LRU evictions",
	})
	SessionCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "researchd_session_cache_size",
		Help: "Sessions held in the local cache",
	})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
