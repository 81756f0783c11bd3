package api

import (
	"time"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/governance/approval"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	AuditHalted    bool   `json:"audit_halted"`
	AuditHeadSeq   uint64 `json:"audit_head_sequence"`
	ActiveWSConns  int    `json:"active_ws_connections"`
	AutonomyTier   int    `json:"autonomy_tier"`
}

// ErrorResponse is the uniform error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuditEntryResponse mirrors audit.AuditEntry for JSON responses (a direct
// passthrough would also work, but an explicit type keeps the wire shape
// stable if audit.AuditEntry ever gains internal-only fields).
type AuditEntryResponse struct {
	Sequence     uint64      `json:"sequence"`
	Event        audit.Event `json:"event"`
	PreviousHash string      `json:"previous_hash"`
	SelfHash     string      `json:"self_hash"`
}

func toAuditEntryResponse(e audit.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{Sequence: e.Sequence, Event: e.Event, PreviousHash: e.PreviousHash, SelfHash: e.SelfHash}
}

// ChainVerifyResponse is returned by GET /api/v1/audit/verify.
type ChainVerifyResponse struct {
	Valid bool             `json:"valid"`
	Break *audit.ChainBreak `json:"break,omitempty"`
}

// ApprovalResponse is the JSON projection of approval.Approval.
type ApprovalResponse struct {
	ID          string    `json:"id"`
	ActionKind  string    `json:"action_kind"`
	Resource    string    `json:"resource"`
	Actor       string    `json:"actor"`
	RiskTier    string    `json:"risk_tier"`
	Confidence  float64   `json:"confidence"`
	State       string    `json:"state"`
	Priority    float64   `json:"priority"`
	RequestedAt time.Time `json:"requested_at"`
	Expiry      time.Time `json:"expiry"`
	Approver    string    `json:"approver,omitempty"`
}

func toApprovalResponse(a *approval.Approval) ApprovalResponse {
	return ApprovalResponse{
		ID:          a.ID,
		ActionKind:  a.Action.ActionKind,
		Resource:    a.Action.Resource,
		Actor:       a.Action.Actor,
		RiskTier:    a.Action.RiskTier,
		Confidence:  a.Action.Confidence,
		State:       string(a.State),
		Priority:    a.Priority,
		RequestedAt: a.RequestedAt,
		Expiry:      a.Expiry,
		Approver:    a.Approver,
	}
}

// DecideApprovalRequest is the body of POST /api/v1/approvals/:id/decide.
type DecideApprovalRequest struct {
	Decision  string `json:"decision" binding:"required,oneof=approve deny"`
	Approver  string `json:"approver" binding:"required"`
	Rationale string `json:"rationale"`
}

// MissionResponse is the JSON projection of scheduler.Mission.
type MissionResponse struct {
	ID            string    `json:"id"`
	TaskStatement string    `json:"task_statement"`
	Status        string    `json:"status"`
	CurrentPhase  string    `json:"current_phase"`
	RiskScore     float64   `json:"risk_score"`
	ImpactScore   float64   `json:"impact_score"`
	CombinedScore float64   `json:"combined_score"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMissionResponse(m *scheduler.Mission) MissionResponse {
	phase := "unknown"
	if m.CurrentPhase >= 0 && m.CurrentPhase < len(scheduler.MissionPhases) {
		phase = scheduler.MissionPhases[m.CurrentPhase]
	}
	return MissionResponse{
		ID:            m.ID,
		TaskStatement: m.TaskStatement,
		Status:        string(m.Status),
		CurrentPhase:  phase,
		RiskScore:     m.RiskScore,
		ImpactScore:   m.ImpactScore,
		CombinedScore: m.CombinedScore,
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
	}
}

// SetAutonomyTierRequest is the body of POST /api/v1/autonomy-tier.
type SetAutonomyTierRequest struct {
	Tier       int    `json:"tier" binding:"required,gte=0,lte=3"`
	Actor      string `json:"actor" binding:"required"`
	Rationale  string `json:"rationale"`
}
