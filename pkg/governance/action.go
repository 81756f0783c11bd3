package governance

import "github.com/codeready-toolchain/grace-core/pkg/governance/policy"

// Disposition is the Governance Engine's verdict for an action request
// (spec §3, PolicyDecision; §4.C).
type Disposition string

const (
	DispositionAutoApprove     Disposition = "auto_approve"
	DispositionRequireApproval Disposition = "require_approval"
	DispositionDeny            Disposition = "deny"
)

// ActionRequest is what a caller (Fix Proposer, Resilient Supervisor,
// Domain Kernel Gateway plan step) submits for evaluation.
type ActionRequest struct {
	Actor      string
	ActionKind string
	Resource   string
	RiskTier   string
	Payload    map[string]any

	// Confidence is supplied by the caller — e.g. the Fix Proposer's
	// smoothed success-rate estimate (spec §4.C: "confidence is supplied
	// by the caller").
	Confidence float64

	CorrelationID string
}

// LayerResult is one layer's pass/fail verdict plus its reasoning.
type LayerResult struct {
	Passed    bool
	Rationale string
}

// Decision is the full PolicyDecision record (spec §3).
type Decision struct {
	Compliant   bool
	Constitution LayerResult
	Guardrails   LayerResult
	Whitelist    LayerResult
	Disposition  Disposition
	Confidence   float64
	Remediations []string

	// ApprovalID is set only when Disposition is DispositionRequireApproval,
	// letting the caller later look up the queued Approval (e.g. to
	// resume work once it is granted) via Engine.Store().
	ApprovalID string
}

// layerResults exposes the three layers together for callers (e.g. the
// audit payload) that want them keyed by name.
func (d Decision) layerResults() map[string]LayerResult {
	return map[string]LayerResult{
		"constitution": d.Constitution,
		"guardrails":   d.Guardrails,
		"whitelist":    d.Whitelist,
	}
}

// LayerResults is the exported accessor for the three named layers.
func (d Decision) LayerResults() map[string]LayerResult { return d.layerResults() }

// AutonomyTier is a type alias so call sites can refer to
// policy.AutonomyTier as governance.AutonomyTier.
type AutonomyTier = policy.AutonomyTier
