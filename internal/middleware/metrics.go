package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	turnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_turns_total",
		Help: "Total number of conversational turns processed",
	}, []string{"channel", "status"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_turn_duration_seconds",
		Help:    "Duration of full conversational turns",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	loopIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_loop_iterations",
		Help:    "Model-call iterations used per turn",
		Buckets: []float64{1, 2, 3, 4, 5, 6},
	})

	// Model metrics
	modelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_model_requests_total",
		Help: "Total number of completion requests by tier",
	}, []string{"tier", "status"})

	// Quota metrics
	quotaExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_quota_exhausted_total",
		Help: "Total number of tier downgrades due to exhausted daily quota",
	}, []string{"tier", "subject_class"})

	// Tool metrics
	toolDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_tool_dispatches_total",
		Help: "Total number of tool dispatches",
	}, []string{"tool", "status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTurn records one processed turn
func (m *Metrics) RecordTurn(channel, status string, duration time.Duration) {
	turnsProcessed.WithLabelValues(channel, status).Inc()
	turnDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordLoopIterations records how many model calls a turn used
func (m *Metrics) RecordLoopIterations(n int) {
	loopIterations.Observe(float64(n))
}

// RecordModelRequest records a completion request
func (m *Metrics) RecordModelRequest(tier, status string) {
	modelRequests.WithLabelValues(tier, status).Inc()
}

// RecordQuotaExhausted records a quota-driven downgrade
func (m *Metrics) RecordQuotaExhausted(tier, subjectClass string) {
	quotaExhausted.WithLabelValues(tier, subjectClass).Inc()
}

// RecordToolDispatch records a tool dispatch
func (m *Metrics) RecordToolDispatch(tool, status string) {
	toolDispatches.WithLabelValues(tool, status).Inc()
}

// RecordRateLimitExceeded records a rate limit hit
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	return http.ListenAndServe(fmt.Sprintf(":%d", port), router)
}
