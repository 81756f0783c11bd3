package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
)

// listMissionsHandler handles GET /api/v1/missions.
func (s *Server) listMissionsHandler(c *gin.Context) {
	missions := s.missions.List()
	out := make([]MissionResponse, 0, len(missions))
	for _, m := range missions {
		out = append(out, toMissionResponse(m))
	}
	c.JSON(http.StatusOK, out)
}

// getMissionHandler handles GET /api/v1/missions/:id.
func (s *Server) getMissionHandler(c *gin.Context) {
	m, err := s.missions.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "mission not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toMissionResponse(m))
}
