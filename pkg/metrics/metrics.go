package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts every dispatched action by name and terminal
	// outcome (EXECUTED, BLOCKED, RATE_LIMITED, DENIED_BY_OPERATOR,
	// INTERNAL_ERROR), on the Worker dispatch path. Actions run by the
	// Gateway's SSH fallback are counted in SSHFallbackActionsTotal.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_actions_total",
			Help: "Total number of dispatched actions by action name and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_action_duration_seconds",
			Help:    "Action dispatch duration in seconds, from Router.Dispatch entry to response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Total number of actions rejected by the sliding-window rate limiter",
		},
	)

	WorkerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_worker_connected",
			Help: "Whether a Worker is currently connected to the Gateway (1 = connected, 0 = not)",
		},
	)

	EmergencyStopActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_emergency_stop_active",
			Help: "Whether the Worker's emergency-stop flag is currently set (1 = active, 0 = clear)",
		},
	)

	IdempotentReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_idempotent_replays_total",
			Help: "Total number of /action submissions served from the idempotency cache instead of re-executing",
		},
	)

	SSHFallbackActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ssh_fallback_actions_total",
			Help: "Total number of actions routed through the SSH fallback executor, by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of Gateway HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Gateway HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_worker_reconnect_attempts_total",
			Help: "Total number of Worker reconnect attempts to the Gateway",
		},
	)
)

func init() {
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(RateLimitRejectionsTotal)
	prometheus.MustRegister(WorkerConnected)
	prometheus.MustRegister(EmergencyStopActive)
	prometheus.MustRegister(IdempotentReplaysTotal)
	prometheus.MustRegister(SSHFallbackActionsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ReconnectAttemptsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
