package router

import (
	"strings"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// PolicyContext carries the orchestration-level state policy evaluation
// needs: its automation policy (for the YOLO gate) and whether the caller
// is authorized at all.
type PolicyContext struct {
	Automation    types.AutomationPolicy
	Authorized    bool
	DestructiveOK bool // explicit per-call override, e.g. an operator confirming
}

// evaluatePolicy gates spec's tier against pctx, returning reasons/unmet on
// rejection. TierActuate commands whose scope touches
// destructive-looking requests (scope entries or command text naming
// deletion) are blocked
// unless the orchestration runs in YOLO mode or the caller set
// DestructiveOK.
func evaluatePolicy(spec CommandSpec, p Payload, pctx PolicyContext) error {
	if !pctx.Authorized {
		return &ctlerr.Error{Code: ctlerr.CodeUnauthorized, Reason: "caller not authorized for orchestration commands"}
	}

	if spec.Tier != TierActuate {
		return nil
	}

	if isDestructiveRequest(p) && !pctx.Automation.YoloMode && !pctx.DestructiveOK {
		return &ctlerr.Error{
			Code:   ctlerr.CodeCommandPolicyBlocked,
			Reason: "destructive worker command blocked outside yolo mode",
			Unmet:  []string{"yoloMode", "destructiveOK"},
		}
	}
	return nil
}

var destructiveScopeHints = []string{"delete", "rm ", "drop ", "truncate", "force-push", "reset --hard"}

// isDestructiveRequest is a conservative heuristic: any scope entry or task
// text containing a destructive-looking keyword flags the command for the
// YOLO gate. False positives are intentional here; a blocked command can
// always be retried with an explicit override.
func isDestructiveRequest(p Payload) bool {
	candidates := append([]string{p.effectiveText()}, p.Scope...)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		for _, hint := range destructiveScopeHints {
			if strings.Contains(lc, hint) {
				return true
			}
		}
	}
	return false
}
