package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"

	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/metrics"
	"github.com/nodebridge/relay/pkg/types"
)

// FallbackExecutor services actions when no Worker is connected, or
// when the Gateway is pinned to SSH-only mode (§6). sshexec.Executor
// satisfies this interface.
type FallbackExecutor interface {
	IsConfigured() bool
	HealthCheck(ctx context.Context) (bool, string)
	Execute(ctx context.Context, action string, params types.Params, confirmed bool) types.Response
}

// API is the public HTTP surface: GET /status, POST /action,
// POST /emergency-stop, POST /resume. Bind only to loopback or put it
// behind an authenticated reverse proxy — it carries no auth of its
// own beyond what the Worker WebSocket leg enforces.
type API struct {
	session *Session
	store   *IdempotencyStore
	fallback FallbackExecutor
	cfg     config.GatewayConfig

	inflight singleflight.Group

	// actionTimeout bounds how long handleAction waits for the Worker
	// to answer a dispatched action before treating it as upstream_timeout
	// (§7). Overridable by tests; defaults to 120s in NewAPI.
	actionTimeout time.Duration
}

// NewAPI builds the HTTP router bound to the given Session.
func NewAPI(session *Session, store *IdempotencyStore, fallback FallbackExecutor, cfg config.GatewayConfig) *API {
	return &API{session: session, store: store, fallback: fallback, cfg: cfg, actionTimeout: 120 * time.Second}
}

// Router builds the gorilla/mux router exposing the Gateway's HTTP API.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/action", a.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/emergency-stop", a.handleEmergencyStop).Methods(http.MethodPost)
	r.HandleFunc("/resume", a.handleResume).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	return r
}

// metricsMiddleware records relay_http_requests_total and
// relay_http_request_duration_seconds for every routed request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	sshConfigured := a.fallback != nil && a.fallback.IsConfigured()
	var sshOK bool
	var sshDetail string
	if sshConfigured {
		sshOK, sshDetail = a.fallback.HealthCheck(r.Context())
	}
	forceSSH := a.cfg.ForceSSHMode(sshConfigured)
	mode := "agent_preferred"
	if forceSSH {
		mode = "ssh_tunnel"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_connected":      a.session.IsConnected(),
		"ssh_fallback_enabled": sshConfigured,
		"ssh_fallback_healthy": sshOK,
		"ssh_fallback_target":  sshDetail,
		"execution_mode":       mode,
	})
}

type actionRequestBody struct {
	Action         string         `json:"action"`
	Params         types.Params   `json:"params"`
	Confirmed      bool           `json:"confirmed"`
	TaskID         string         `json:"task_id"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	var body actionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body."})
		return
	}
	if body.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'action' field."})
		return
	}
	if body.IdempotencyKey != "" && body.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "idempotency_key requires task_id."})
		return
	}

	actionKey := types.ActionKey(body.TaskID, body.IdempotencyKey)

	if actionKey != "" && a.store != nil {
		cached, err := a.store.Load(r.Context(), body.TaskID, body.IdempotencyKey)
		if err != nil {
			log.WithComponent("gateway.api").Warn().Err(err).Msg("idempotency lookup failed")
		} else if cached != nil {
			cached.IdempotentReplay = true
			metrics.IdempotentReplaysTotal.Inc()
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	owner := false
	execute := func() (any, error) {
		owner = true
		dr := a.dispatch(r.Context(), body)
		if actionKey != "" && a.store != nil {
			if err := a.store.Store(r.Context(), body.TaskID, body.IdempotencyKey, dr.resp); err != nil {
				log.WithComponent("gateway.api").Warn().Err(err).Msg("idempotency store failed")
			}
		}
		return dr, nil
	}

	var result any
	var shared bool
	if actionKey != "" {
		result, _, shared = a.inflight.Do(actionKey, execute)
	} else {
		result, _ = execute()
	}

	dr := result.(dispatchResult)
	if shared && !owner {
		dr.resp.IdempotentReplay = true
		metrics.IdempotentReplaysTotal.Inc()
	}

	writeJSON(w, dr.status, dr.resp)
}

// dispatchResult pairs a Response with the HTTP status code it maps to
// per §6/§7: dispatched success and Worker-side policy errors both
// carry HTTP 200 (the error lives in the payload), while 503/504 are
// reserved for the Gateway itself failing to reach an executor at all.
type dispatchResult struct {
	resp   types.Response
	status int
}

// dispatch routes one action to the connected Worker, or to the SSH
// fallback when no Worker is connected or SSH-only mode is forced
// (§6). It always returns a Response — never an error — mirroring
// Router.Dispatch's contract on the Worker side.
func (a *API) dispatch(ctx context.Context, body actionRequestBody) dispatchResult {
	sshConfigured := a.fallback != nil && a.fallback.IsConfigured()
	// ForceSSHMode(true) reports whether the execution mode pins SSH at
	// all, so an SSH-only Gateway without SSH settings answers 503
	// instead of quietly using a connected Worker.
	forceSSH := a.cfg.ForceSSHMode(true)

	if forceSSH || !a.session.IsConnected() {
		if sshConfigured {
			resp := a.fallback.Execute(ctx, body.Action, body.Params, body.Confirmed)
			metrics.SSHFallbackActionsTotal.WithLabelValues(resp.Status).Inc()
			status := http.StatusOK
			if resp.Status == "error" {
				status = http.StatusServiceUnavailable
			}
			return dispatchResult{resp: resp, status: status}
		}
		if forceSSH {
			return dispatchResult{
				resp:   types.Response{Action: body.Action, Status: "error", Error: "SSH tunnel mode is enabled but SSH executor is not configured."},
				status: http.StatusServiceUnavailable,
			}
		}
		return dispatchResult{
			resp:   types.Response{Action: body.Action, Status: "error", Error: "No agent connected and SSH fallback is not configured."},
			status: http.StatusServiceUnavailable,
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, a.actionTimeout)
	defer cancel()

	resp, err := a.session.SendAction(timeoutCtx, types.Request{
		Action:         body.Action,
		Params:         body.Params,
		Confirmed:      body.Confirmed,
		TaskID:         body.TaskID,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		if err == context.DeadlineExceeded {
			return dispatchResult{
				resp:   types.Response{Action: body.Action, Status: "error", Error: "Agent did not respond in time."},
				status: http.StatusGatewayTimeout,
			}
		}
		// The Worker disconnected mid-flight or never accepted the
		// request — the Gateway itself couldn't deliver it, as
		// opposed to the Worker answering with a policy error.
		return dispatchResult{
			resp:   types.Response{Action: body.Action, Status: "error", Error: err.Error()},
			status: http.StatusServiceUnavailable,
		}
	}
	// err == nil: the Worker answered, whether with success or a
	// policy-gate error (rate_limited, blocked_action, bad_params,
	// path_escape, denied_by_operator, internal_error) — both carry
	// HTTP 200 per §7, the error detail lives in the payload.
	return dispatchResult{resp: resp, status: http.StatusOK}
}

func (a *API) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if !a.session.IsConnected() && a.fallback != nil && a.fallback.IsConfigured() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_applicable_in_ssh_mode"})
		return
	}
	if err := a.session.SendEmergencyStop(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "emergency_stop_sent"})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if !a.session.IsConnected() && a.fallback != nil && a.fallback.IsConfigured() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_applicable_in_ssh_mode"})
		return
	}
	if err := a.session.SendResume(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resume_sent"})
}
