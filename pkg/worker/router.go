// Package worker implements the Worker half of the platform: the
// dispatch pipeline that composes the security gate chain around the
// action registry (§4.F), and the outbound WebSocket connection that
// carries requests and responses (§4.G).
package worker

import (
	"context"
	"time"

	"github.com/nodebridge/relay/pkg/audit"
	"github.com/nodebridge/relay/pkg/executor"
	"github.com/nodebridge/relay/pkg/locks"
	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/metrics"
	"github.com/nodebridge/relay/pkg/ratelimit"
	"github.com/nodebridge/relay/pkg/security"
	"github.com/nodebridge/relay/pkg/types"
)

// ConfirmFunc asks the operator to approve a CONFIRM-tier action and
// returns their decision. Router treats a non-nil error as a denial;
// TerminalConfirm reports a timeout as false with a nil error.
type ConfirmFunc func(ctx context.Context, requestID, action string, params types.Params) (bool, error)

// Router composes the gate chain (§4.C–§4.E) around the action
// registry and drives the CONFIRM prompt. One Router instance serves
// the Worker's entire dispatch loop.
type Router struct {
	validator *security.Validator
	limiter   *ratelimit.SlidingWindow
	locks     *locks.Manager
	registry  executor.Registry
	auditLog  *audit.Logger
	confirm   ConfirmFunc
}

// New builds a Router. confirm may be nil in tests that never
// dispatch a CONFIRM-tier action without confirmed=true.
func New(validator *security.Validator, limiter *ratelimit.SlidingWindow, lockMgr *locks.Manager, registry executor.Registry, auditLog *audit.Logger, confirm ConfirmFunc) *Router {
	return &Router{validator: validator, limiter: limiter, locks: lockMgr, registry: registry, auditLog: auditLog, confirm: confirm}
}

// Dispatch runs the full pipeline for one request and always returns
// exactly one Response, never an error — every failure mode maps to a
// Response with status "error" (§3 Invariant 2).
func (r *Router) Dispatch(ctx context.Context, req types.Request) types.Response {
	start := time.Now()
	timer := metrics.NewTimer()
	logger := log.WithRequestID(req.RequestID).With().Str("action", req.Action).Logger()

	record := func(tier types.Tier, outcome types.AuditOutcome, detail string) {
		r.auditLog.Record(req.RequestID, req.Action, tier, req.Params, outcome, detail, time.Since(start))
		metrics.ActionsTotal.WithLabelValues(req.Action, string(outcome)).Inc()
		timer.ObserveDurationVec(metrics.ActionDuration, req.Action)
	}

	if err := r.limiter.Acquire(); err != nil {
		metrics.RateLimitRejectionsTotal.Inc()
		record(types.TierBlocked, types.OutcomeRateLimited, err.Error())
		logger.Warn().Err(err).Msg("rate limited")
		return errorResponse(req, err.Error())
	}

	tier, err := r.validator.ValidateAction(req.Action)
	if err != nil {
		record(tier, types.OutcomeBlocked, err.Error())
		logger.Warn().Err(err).Msg("blocked")
		return errorResponse(req, err.Error())
	}

	if err := r.validator.ValidateParams(req.Action, req.Params); err != nil {
		record(tier, types.OutcomeBlocked, err.Error())
		return errorResponse(req, err.Error())
	}

	if err := r.validator.ValidateAndCanonicalisePathParams(req.Action, req.Params); err != nil {
		record(tier, types.OutcomeBlocked, err.Error())
		return errorResponse(req, err.Error())
	}

	exec, ok := r.registry[req.Action]
	if !ok {
		msg := "Action '" + req.Action + "' is implicitly blocked."
		record(types.TierBlocked, types.OutcomeBlocked, msg)
		return errorResponse(req, msg)
	}

	if tier == types.TierConfirm && !req.Confirmed {
		approved, err := r.askOperator(ctx, req)
		if err != nil || !approved {
			detail := "Operator denied the action."
			if err != nil {
				detail = err.Error()
			}
			record(tier, types.OutcomeDeniedByOperator, detail)
			return errorResponse(req, detail)
		}
	}

	lockName := locks.ActionLockName(req.Action, req.Params)
	r.locks.Acquire(lockName)
	result, execErr := exec(ctx, req.Params)
	r.locks.Release(lockName)

	if execErr != nil {
		record(tier, types.OutcomeInternalError, execErr.Error())
		logger.Error().Err(execErr).Msg("internal error")
		return errorResponse(req, "Internal agent error.")
	}

	record(tier, types.OutcomeExecuted, "")
	return types.Response{
		RequestID: req.RequestID,
		Status:    "success",
		Action:    req.Action,
		Result:    result,
	}
}

func (r *Router) askOperator(ctx context.Context, req types.Request) (bool, error) {
	if r.confirm == nil {
		return false, nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 300*time.Second)
	defer cancel()
	return r.confirm(timeoutCtx, req.RequestID, req.Action, req.Params)
}

func errorResponse(req types.Request, msg string) types.Response {
	return types.Response{
		RequestID: req.RequestID,
		Status:    "error",
		Action:    req.Action,
		Error:     msg,
	}
}
