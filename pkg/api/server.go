// Package api provides the HTTP/WebSocket surface for Grace Core (spec
// §6): mission and approval query/decision endpoints, audit range and
// chain-verification queries, the live event stream upgrade, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/config"
	"github.com/codeready-toolchain/grace-core/pkg/events"
	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
	"github.com/codeready-toolchain/grace-core/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	cfg         *config.ServerConfig
	auditStore  *audit.Store
	governance  *governance.Engine
	missions    *scheduler.Queue
	connManager *events.ConnectionManager
}

// NewServer builds a Server and registers its routes
// (construct-then-setupRoutes).
func NewServer(cfg *config.ServerConfig, auditStore *audit.Store, gov *governance.Engine, missions *scheduler.Queue, connManager *events.ConnectionManager) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		engine:      engine,
		cfg:         cfg,
		auditStore:  auditStore,
		governance:  gov,
		missions:    missions,
		connManager: connManager,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/audit", s.listAuditHandler)
	v1.GET("/audit/verify", s.verifyChainHandler)

	v1.GET("/approvals", s.listApprovalsHandler)
	v1.GET("/approvals/:id", s.getApprovalHandler)
	v1.POST("/approvals/:id/decide", s.decideApprovalHandler)

	v1.GET("/missions", s.listMissionsHandler)
	v1.GET("/missions/:id", s.getMissionHandler)

	v1.POST("/autonomy-tier", s.setAutonomyTierHandler)

	v1.GET("/events/stream", s.eventsStreamHandler)
}

// Start serves on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	head, _ := s.auditStore.Head()
	resp := HealthResponse{
		Status:        "healthy",
		Version:       version.Full(),
		AuditHalted:   s.auditStore.Halted(),
		AuditHeadSeq:  head,
		AutonomyTier:  int(s.governance.Tier()),
	}
	if s.connManager != nil {
		resp.ActiveWSConns = s.connManager.ActiveConnections()
	}
	if resp.AuditHalted {
		resp.Status = "halted"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
