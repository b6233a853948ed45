// Package security implements the Worker-side policy gate chain:
// emergency stop, action tier resolution, parameter sanitisation, and
// the path-jail that confines filesystem-valued parameters to a
// configured allowlist of roots.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/nodebridge/relay/pkg/types"
)

// Violation is the typed error raised by every gate in the chain.
// Reason is the caller-visible message returned by Error; Tier is the
// tier attached to the rejection (BLOCKED for every gate here).
type Violation struct {
	Reason string
	Action string
	Tier   types.Tier
}

func (v *Violation) Error() string { return v.Reason }

func newViolation(tier types.Tier, action, format string, args ...any) *Violation {
	return &Violation{Reason: fmt.Sprintf(format, args...), Action: action, Tier: tier}
}

// shellMeta matches the shell metacharacters that are never allowed
// in a non-exempt string parameter: ; & | ` $ ( ) { } ! < > " '
var shellMeta = regexp.MustCompile(`[;&|` + "`" + `$(){}!<>"']`)

// sanitiseExemptKeys are parameter names allowed to carry free text
// (prose sent to a chat-style action) without shell-meta screening.
var sanitiseExemptKeys = map[string]bool{
	"content": true, "description": true, "message": true,
	"messages": true, "system": true, "tools": true,
}

// pathParamKeys are parameter names validated and canonicalised by
// the path-jail.
var pathParamKeys = map[string]bool{
	"path": true, "directory": true, "project_dir": true,
	"file": true, "working_dir": true,
}

const maxParamLen = 4096

// Validator holds the emergency-stop flag and the tier tables it
// consults. It is safe for concurrent use from multiple goroutines.
type Validator struct {
	emergencyStop atomic.Bool
	autoActions   map[string]bool
	confirmActions map[string]bool
	blockedActions map[string]bool
	allowedRoots  []string
}

// NewValidator builds a Validator from the compile-time action tier
// tables and the configured path-jail roots. allowedRoots are
// canonicalised once at startup.
func NewValidator(autoActions, confirmActions, blockedActions []string, allowedRoots []string) *Validator {
	v := &Validator{
		autoActions:    toSet(autoActions),
		confirmActions: toSet(confirmActions),
		blockedActions: toSet(blockedActions),
	}
	for _, r := range allowedRoots {
		v.allowedRoots = append(v.allowedRoots, canonicalise(r))
	}
	return v
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// SetEmergencyStop sets or clears the process-wide emergency-stop
// flag. Mutated only in response to control frames.
func (v *Validator) SetEmergencyStop(active bool) { v.emergencyStop.Store(active) }

// EmergencyStopActive reports the current flag value.
func (v *Validator) EmergencyStopActive() bool { return v.emergencyStop.Load() }

// CheckEmergencyStop is the first gate in the chain (§4.D.1).
func (v *Validator) CheckEmergencyStop() error {
	if v.emergencyStop.Load() {
		return &Violation{Reason: "Emergency stop is active — all execution suspended.", Tier: types.TierBlocked}
	}
	return nil
}

// ResolveTier is the second gate (§4.D.2): look up AUTO, then
// CONFIRM, else BLOCKED. An action explicitly listed as blocked gets
// a distinguishing reason in the audit trail; everything else falls
// through to "implicitly blocked" — both outcomes are BLOCKED.
func (v *Validator) ResolveTier(action string) types.Tier {
	switch {
	case v.autoActions[action]:
		return types.TierAuto
	case v.confirmActions[action]:
		return types.TierConfirm
	default:
		return types.TierBlocked
	}
}

// ValidateAction combines the emergency-stop check with tier
// resolution and raises on BLOCKED.
func (v *Validator) ValidateAction(action string) (types.Tier, error) {
	if err := v.CheckEmergencyStop(); err != nil {
		return types.TierBlocked, err
	}
	tier := v.ResolveTier(action)
	if tier == types.TierBlocked {
		if v.blockedActions[action] {
			return tier, newViolation(types.TierBlocked, action, "Action '%s' is explicitly blocked.", action)
		}
		return tier, newViolation(types.TierBlocked, action, "Action '%s' is implicitly blocked.", action)
	}
	return tier, nil
}

// ValidateParams is the third gate (§4.D.3): non-exempt string values
// over 4096 bytes, or containing a shell metacharacter, are rejected.
func (v *Validator) ValidateParams(action string, params types.Params) error {
	for key, raw := range params {
		s, ok := raw.(string)
		if !ok || sanitiseExemptKeys[key] {
			continue
		}
		if len(s) > maxParamLen {
			return newViolation(types.TierBlocked, action, "Parameter '%s' exceeds %d characters.", key, maxParamLen)
		}
		if shellMeta.MatchString(s) {
			return newViolation(types.TierBlocked, action, "Parameter '%s' contains disallowed shell metacharacters.", key)
		}
	}
	return nil
}

// ValidateAndCanonicalisePathParams is the fourth gate (§4.D.4): each
// filesystem-valued parameter must canonicalise to a path equal to,
// or a descendant of, at least one allowed root. Matching keys in
// params are replaced in place with their canonical form so the
// executor only ever sees normalised paths.
func (v *Validator) ValidateAndCanonicalisePathParams(action string, params types.Params) error {
	for key := range params {
		if !pathParamKeys[key] {
			continue
		}
		raw, ok := params[key].(string)
		if !ok {
			continue
		}
		canonical, err := v.validatePath(action, raw)
		if err != nil {
			return err
		}
		params[key] = canonical
	}
	return nil
}

func (v *Validator) validatePath(action, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", newViolation(types.TierBlocked, action, "Path parameter must not be empty.")
	}
	canonical := canonicalise(raw)
	for _, root := range v.allowedRoots {
		if isSameOrDescendant(canonical, root) {
			return canonical, nil
		}
	}
	return "", newViolation(types.TierBlocked, action, "Path '%s' is outside allowed roots.", canonical)
}

// canonicalise makes p absolute and clean, lower-cases it on Windows
// (normcase), and resolves symlinks the way realpath(normcase(x))
// does; components that do not exist yet are kept literally after
// the longest resolvable prefix (see resolveSymlinks).
func canonicalise(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return resolveSymlinks(filepath.Clean(normcase(abs)))
}

// resolveSymlinks resolves symlinks in the longest existing prefix of
// an already-absolute, cleaned path, the way Python's os.path.realpath
// does — a trailing component that doesn't exist yet (a file about to
// be created) is appended back literally instead of making the whole
// call fail, unlike filepath.EvalSymlinks on its own.
func resolveSymlinks(p string) string {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved
	}
	dir := filepath.Dir(p)
	if dir == p {
		return p
	}
	return filepath.Join(resolveSymlinks(dir), filepath.Base(p))
}

// isSameOrDescendant reports whether candidate is root or nested
// under it, tolerating cross-volume Rel() errors as "not contained"
// rather than propagating them (mirrors the Python reference's
// try/except ValueError around os.path.commonpath).
func isSameOrDescendant(candidate, root string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}
