package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
)

// AuditAppender is the subset of the audit Store (or a Mesh wrapping it)
// the gateway needs to emit an execution_trace event for slow spans
// (spec §4.K: "also emitted as audit events when the span exceeds a
// threshold").
type AuditAppender interface {
	Append(e audit.Event) (audit.AuditEntry, error)
}

// Gateway dispatches Requests to one of the eight registered
// Orchestrators by name (spec §4.J).
type Gateway struct {
	log          *slog.Logger
	auditor      AuditAppender
	orchestrators map[Name]*Orchestrator
}

// NewGateway constructs an empty Gateway; Register each kernel before
// use.
func NewGateway(auditor AuditAppender, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{log: log, auditor: auditor, orchestrators: make(map[Name]*Orchestrator)}
}

// Register binds an Orchestrator to its Name.
func (g *Gateway) Register(o *Orchestrator) {
	g.orchestrators[o.Name] = o
}

// Invoke routes req to the named kernel's Orchestrator.
func (g *Gateway) Invoke(ctx context.Context, name Name, req Request) (Response, error) {
	o, ok := g.orchestrators[name]
	if !ok {
		return Response{}, fmt.Errorf("kernel: %s not registered", name)
	}
	req.KernelName = name

	resp, err := o.Invoke(ctx, req)
	if resp.ExecutionTrace.TotalDuration >= o.TraceThreshold {
		g.emitSlowSpan(name, resp)
	}
	if err != nil {
		g.log.Error("kernel invoke failed", "kernel", name, "error", err)
	}
	return resp, err
}

func (g *Gateway) emitSlowSpan(name Name, resp Response) {
	if g.auditor == nil {
		return
	}
	ev := audit.Event{
		ID:       uuid.NewString(),
		Wall:     time.Now(),
		Type:     "kernel.execution_trace",
		Source:   string(name),
		Severity: audit.SeverityLow,
		Payload: map[string]any{
			"request_id":     resp.ExecutionTrace.RequestID,
			"total_duration": resp.ExecutionTrace.TotalDuration.String(),
			"step_count":     len(resp.ExecutionTrace.Steps),
		},
	}
	if _, err := g.auditor.Append(ev); err != nil {
		g.log.Error("kernel: failed to append execution_trace", "error", err)
	}
}
