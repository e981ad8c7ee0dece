package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationMatch records content cache lookups.
	CacheOperationMatch CacheOperation = "match"
	// CacheOperationPut records content cache store attempts.
	CacheOperationPut CacheOperation = "put"
)

// CacheOutcome captures the result of a cache operation.
type CacheOutcome string

const (
	CacheHit    CacheOutcome = "hit"
	CacheMiss   CacheOutcome = "miss"
	CacheStored CacheOutcome = "stored"
	CacheError  CacheOutcome = "error"
)

// ReplayOutcome captures the fate of one pending operation during a drain.
type ReplayOutcome string

const (
	// ReplayDelivered means the backend acknowledged the operation (2xx).
	ReplayDelivered ReplayOutcome = "delivered"
	// ReplayRetained means the operation stays queued for the next sync.
	ReplayRetained ReplayOutcome = "retained"
	// ReplayDropped means the operation exhausted its retry budget.
	ReplayDropped ReplayOutcome = "dropped"
)

// Recorder publishes Prometheus metrics for worker activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec

	queueDepth prometheus.Gauge
	replayOps  *prometheus.CounterVec

	pushNotifications *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgeworker",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Total intercepted fetch requests by class, strategy, and outcome.",
	}, []string{"class", "strategy", "outcome", "status_code"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edgeworker",
		Subsystem: "fetch",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed fetch requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"class", "strategy"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgeworker",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Content cache operations executed by the fetch strategies.",
	}, []string{"cache", "operation", "result"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edgeworker",
		Subsystem: "queue",
		Name:      "pending_operations",
		Help:      "Pending offline write operations awaiting replay.",
	})

	replayOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgeworker",
		Subsystem: "queue",
		Name:      "replays_total",
		Help:      "Replay attempts against the backend by outcome.",
	}, []string{"outcome"})

	pushNotifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgeworker",
		Subsystem: "push",
		Name:      "notifications_total",
		Help:      "Push payloads rendered to notifications.",
	}, []string{"result"})

	reg.MustRegister(fetchRequests, fetchLatency, cacheOperations, queueDepth, replayOps, pushNotifications)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		fetchRequests:     fetchRequests,
		fetchLatency:      fetchLatency,
		cacheOperations:   cacheOperations,
		queueDepth:        queueDepth,
		replayOps:         replayOps,
		pushNotifications: pushNotifications,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency for one intercepted request.
func (r *Recorder) ObserveFetch(class, strategy, outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	classLabel := normalizeLabel(class)
	strategyLabel := normalizeLabel(strategy)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.fetchRequests.WithLabelValues(classLabel, strategyLabel, normalizeLabel(outcome), statusLabel).Inc()
	r.fetchLatency.WithLabelValues(classLabel, strategyLabel).Observe(duration.Seconds())
}

// ObserveCache records the result of a content cache operation.
func (r *Recorder) ObserveCache(cache string, operation CacheOperation, result CacheOutcome) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(cache), string(operation), string(result)).Inc()
}

// SetQueueDepth reflects the number of pending offline operations.
func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// ObserveReplay records the fate of one replayed pending operation.
func (r *Recorder) ObserveReplay(outcome ReplayOutcome) {
	if r == nil {
		return
	}
	r.replayOps.WithLabelValues(string(outcome)).Inc()
}

// ObservePush records whether a payload parsed cleanly or degraded to text.
func (r *Recorder) ObservePush(result string) {
	if r == nil {
		return
	}
	r.pushNotifications.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
