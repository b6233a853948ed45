/*
Package metrics provides Prometheus metrics collection and exposition for the
Gateway and Worker processes.

The metrics package defines and registers all relay metrics using the
Prometheus client library, giving observability into action dispatch,
connection health, rate limiting, and HTTP API performance. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                    │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (connected, stopped) │          │
	│  │  Counter: Monotonic increases (actions)     │          │
	│  │  Histogram: Distributions (dispatch time)   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Dispatch: Actions, outcomes, duration       │          │
	│  │  Worker: Connection state, reconnects        │          │
	│  │  Gateway: HTTP requests, SSH fallback        │          │
	│  │  Policy: Rate limit rejections, idempotency │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

relay_actions_total{action, outcome}:
  - Type: Counter
  - Description: Total dispatched actions by name and terminal outcome
  - Labels: action, outcome (EXECUTED, BLOCKED, RATE_LIMITED, DENIED_BY_OPERATOR, INTERNAL_ERROR)

relay_action_duration_seconds{action}:
  - Type: Histogram
  - Description: Action dispatch duration in seconds, Router.Dispatch entry to response
  - Labels: action

relay_rate_limit_rejections_total:
  - Type: Counter
  - Description: Total actions rejected by the sliding-window rate limiter

relay_worker_connected:
  - Type: Gauge
  - Description: Whether a Worker is currently connected to the Gateway (1/0)

relay_emergency_stop_active:
  - Type: Gauge
  - Description: Whether the Worker's emergency-stop flag is set (1/0)

relay_idempotent_replays_total:
  - Type: Counter
  - Description: Total /action submissions served from the idempotency cache

relay_ssh_fallback_actions_total{outcome}:
  - Type: Counter
  - Description: Total actions routed through the SSH fallback executor, by outcome
  - Labels: outcome

relay_http_requests_total{route, status}:
  - Type: Counter
  - Description: Total Gateway HTTP API requests by route and status
  - Labels: route, status

relay_http_request_duration_seconds{route}:
  - Type: Histogram
  - Description: Gateway HTTP API request duration in seconds
  - Labels: route

relay_worker_reconnect_attempts_total:
  - Type: Counter
  - Description: Total Worker reconnect attempts to the Gateway

# Usage

	timer := metrics.NewTimer()
	outcome := dispatch(req) // a types.AuditOutcome
	timer.ObserveDurationVec(metrics.ActionDuration, req.Action)
	metrics.ActionsTotal.WithLabelValues(req.Action, string(outcome)).Inc()

	http.Handle("/metrics", metrics.Handler())

# Health and Readiness

The health.go helpers (RegisterComponent, GetHealth, GetReadiness) track a
small set of named components independent of the Prometheus registry.
Readiness currently treats "idempotency_store" and "http_api" as critical:
until both are registered healthy, GetReadiness reports "not_ready".

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
