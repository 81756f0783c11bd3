package governance

import (
	"fmt"

	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// evaluateConstitution implements layer 1 (spec §4.C.1): the action
// catalog partitions action kinds into never_allowed / requires_approval /
// auto_approved; anything in never_allowed is an immediate veto.
func evaluateConstitution(c *policy.Constitution, req ActionRequest) LayerResult {
	for _, kind := range c.ActionCatalog.NeverAllowed {
		if kind == req.ActionKind {
			return LayerResult{Passed: false, Rationale: fmt.Sprintf("action kind %q is in the constitution's never_allowed catalog", kind)}
		}
	}
	if c.Escalation.ConstitutionalViolation && req.Confidence < 0 {
		// Defensive: a negative confidence can only arise from a caller
		// bug, but the constitution's own escalation policy asks that
		// any constitutional-violation signal veto outright.
		return LayerResult{Passed: false, Rationale: "caller supplied an invalid (negative) confidence"}
	}
	return LayerResult{Passed: true, Rationale: "not in never_allowed catalog"}
}

// inCatalog reports whether kind appears in the constitution's
// requires_approval or auto_approved lists, used by the disposition
// algorithm in engine.go.
func inCatalog(catalog []string, kind string) bool {
	for _, k := range catalog {
		if k == kind {
			return true
		}
	}
	return false
}
