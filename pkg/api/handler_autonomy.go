package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// setAutonomyTierHandler handles POST /api/v1/autonomy-tier. Per
// governance.Engine.SetTier's doc comment, a tier change is itself a
// governed action: it is submitted to Evaluate with action kind
// "set_autonomy_tier", and SetTier is only called once that evaluation
// disposes auto_approve (an already-granted approval is applied the same
// way, by the approval handlers, not here).
func (s *Server) setAutonomyTierHandler(c *gin.Context) {
	var req SetAutonomyTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	decision, err := s.governance.Evaluate(ctx, governance.ActionRequest{
		Actor:      req.Actor,
		ActionKind: "set_autonomy_tier",
		Resource:   fmt.Sprintf("autonomy_tier:%d", req.Tier),
		RiskTier:   "high",
		Payload:    map[string]any{"tier": req.Tier, "rationale": req.Rationale},
		Confidence: 1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	switch decision.Disposition {
	case governance.DispositionAutoApprove:
		s.governance.SetTier(policy.AutonomyTier(req.Tier))
		c.JSON(http.StatusOK, gin.H{"tier": req.Tier, "disposition": decision.Disposition})
	case governance.DispositionRequireApproval:
		c.JSON(http.StatusAccepted, gin.H{"approval_id": decision.ApprovalID, "disposition": decision.Disposition})
	default:
		c.JSON(http.StatusForbidden, gin.H{"disposition": decision.Disposition, "remediations": decision.Remediations})
	}
}
