package governance

import (
	"fmt"

	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// evaluateWhitelist implements layer 3 (spec §4.C.3): per-tier action
// catalog, per-actor trust, and the auto_approve override list.
func evaluateWhitelist(doc *policy.Whitelist, tier policy.AutonomyTier, req ActionRequest) LayerResult {
	if !doc.AllowsForTier(tier, req.ActionKind) && !inCatalog(doc.AutoApproveActions, req.ActionKind) {
		return LayerResult{
			Passed:    false,
			Rationale: fmt.Sprintf("action kind %q is not whitelisted for tier %s", req.ActionKind, tier),
		}
	}

	trust := doc.TrustFor(req.Actor)
	if trust < 0.2 {
		return LayerResult{
			Passed:    false,
			Rationale: fmt.Sprintf("actor %q has trust level %.2f, below the minimum required to act", req.Actor, trust),
		}
	}

	return LayerResult{Passed: true, Rationale: "action kind whitelisted for tier and actor trust sufficient"}
}

// isAutoApproveListed reports whether kind is in the whitelist's
// auto_approve_actions override, used by the disposition algorithm.
func isAutoApproveListed(doc *policy.Whitelist, kind string) bool {
	return inCatalog(doc.AutoApproveActions, kind)
}
