package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
)

// listAuditHandler handles GET /api/v1/audit?from=&to=.
func (s *Server) listAuditHandler(c *gin.Context) {
	r := audit.Range{}
	if v := c.Query("from"); v != "" {
		from, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid 'from' parameter"})
			return
		}
		r.From = from
	}
	if v := c.Query("to"); v != "" {
		to, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid 'to' parameter"})
			return
		}
		r.To = to
	}

	entries, err := s.auditStore.Read(r)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntryResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

// verifyChainHandler handles GET /api/v1/audit/verify?from=&to=.
func (s *Server) verifyChainHandler(c *gin.Context) {
	r := audit.Range{}
	if v := c.Query("from"); v != "" {
		from, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid 'from' parameter"})
			return
		}
		r.From = from
	}
	if v := c.Query("to"); v != "" {
		to, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid 'to' parameter"})
			return
		}
		r.To = to
	}

	brk, err := s.auditStore.VerifyChain(r)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ChainVerifyResponse{Valid: brk == nil, Break: brk})
}
