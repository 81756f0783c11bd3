package diagnostics

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// FatalEvent is one of the error taxonomy's unrecoverable kinds (spec
// §7: ChainBroken, PreflightFailure on a critical artifact, a critical
// component's ComponentStartupFailure).
type FatalEvent struct {
	Kind          string
	Component     string
	Message       string
	CorrelationID string
}

// Service delivers FatalEvents to an out-of-band channel. Nil-safe: all
// methods are no-ops when the service is nil, so callers can wire it
// unconditionally and only pay for the notification when a channel is
// actually configured.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a Service, or nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "diagnostics-service"),
	}
}

// NewServiceWithClient builds a Service backed by a pre-built Client,
// for tests against a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{client: client, logger: slog.Default().With("component", "diagnostics-service")}
}

// NotifyFatal sends a fatal-event notification. Fail-open: delivery
// errors are logged, never returned, since a notification failure must
// never block the halt path it is reporting on.
func (s *Service) NotifyFatal(ctx context.Context, ev FatalEvent) {
	if s == nil {
		return
	}
	blocks := BuildFatalMessage(ev)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("failed to send fatal diagnostic notification",
			"kind", ev.Kind, "component", ev.Component, "error", err)
	}
}
