package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// eventsStreamHandler handles GET /api/v1/events/stream, upgrading to a
// WebSocket and handing the connection to the Trigger Mesh-backed
// ConnectionManager. Origins are restricted to cfg.AllowedWSOrigins rather
// than accepted unconditionally.
func (s *Server) eventsStreamHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
