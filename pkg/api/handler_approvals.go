package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/grace-core/pkg/governance/approval"
	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// listApprovalsHandler handles GET /api/v1/approvals.
func (s *Server) listApprovalsHandler(c *gin.Context) {
	approvals := s.governance.Store().List()
	out := make([]ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, toApprovalResponse(a))
	}
	c.JSON(http.StatusOK, out)
}

// getApprovalHandler handles GET /api/v1/approvals/:id.
func (s *Server) getApprovalHandler(c *gin.Context) {
	a, err := s.governance.Store().Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "approval not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toApprovalResponse(a))
}

// decideApprovalHandler handles POST /api/v1/approvals/:id/decide. The
// decision is itself the governed action (spec §3): approving or denying
// is recorded to the audit log by the Governance Engine, not by this
// handler directly.
func (s *Server) decideApprovalHandler(c *gin.Context) {
	var req DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	id := c.Param("id")
	var (
		a   *approval.Approval
		err error
	)
	switch req.Decision {
	case "approve":
		a, err = s.governance.Approve(id, req.Approver, req.Rationale)
		if err == nil && a.Action.ActionKind == "set_autonomy_tier" {
			if tier, ok := a.Action.Payload["tier"].(int); ok {
				s.governance.SetTier(policy.AutonomyTier(tier))
			}
		}
	case "deny":
		a, err = s.governance.Deny(id, req.Approver, req.Rationale)
	}

	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "approval not found"})
		case errors.Is(err, approval.ErrInvalidTransition):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, toApprovalResponse(a))
}
