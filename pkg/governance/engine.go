// Package governance implements the three-layer policy gate (constitution,
// guardrails, whitelist), the approval queue, and the tier-based autonomy
// knob that together decide whether a mutating action is allowed to run.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/governance/approval"
	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// DefaultApprovalExpiry is used when a caller does not specify one
// (overridable via pkg/config's GovernanceConfig.ApprovalExpiry).
const DefaultApprovalExpiry = 30 * time.Minute

// AuditAppender is the subset of the audit Store (or a Mesh wrapping it)
// the engine needs to record decisions and approval-queue transitions.
type AuditAppender interface {
	Append(e audit.Event) (audit.AuditEntry, error)
}

// Engine evaluates ActionRequests against the current policy Documents and
// owns the approval Store exclusively (spec §3, Ownership: "C exclusively
// owns the Approval store").
type Engine struct {
	log     *slog.Logger
	auditor AuditAppender
	store   *approval.Store

	docs atomic.Pointer[policy.Documents]
	tier atomic.Int64

	expiry time.Duration

	failClosedMu sync.RWMutex
	failClosed   bool
}

// New constructs an Engine. docs may be nil, in which case the engine
// starts fail-closed until Reload succeeds (spec §4.C, Failure semantics).
func New(auditor AuditAppender, docs *policy.Documents, tier policy.AutonomyTier, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		log:     log,
		auditor: auditor,
		store:   approval.NewStore(),
		expiry:  DefaultApprovalExpiry,
	}
	e.tier.Store(int64(tier))
	if docs == nil {
		e.failClosedMu.Lock()
		e.failClosed = true
		e.failClosedMu.Unlock()
	} else {
		e.docs.Store(docs)
	}
	return e
}

// Reload swaps in newly loaded policy Documents. A nil error clears the
// fail-closed state; any error leaves (or puts) the engine fail-closed.
func (e *Engine) Reload(docs *policy.Documents, err error) {
	e.failClosedMu.Lock()
	defer e.failClosedMu.Unlock()
	if err != nil {
		e.failClosed = true
		e.log.Error("governance policy reload failed, engine remains fail-closed", "error", err)
		return
	}
	e.docs.Store(docs)
	e.failClosed = false
}

// Tier returns the current process-wide autonomy tier.
func (e *Engine) Tier() policy.AutonomyTier {
	return policy.AutonomyTier(e.tier.Load())
}

// SetTier changes the autonomy tier. Per spec §3 ("changes are themselves
// actions requiring approval"), the caller must route the change through
// Evaluate with action kind "set_autonomy_tier" and only call SetTier once
// that evaluation disposes auto_approve or an approval is granted.
func (e *Engine) SetTier(tier policy.AutonomyTier) {
	e.tier.Store(int64(tier))
}

// SetApprovalExpiry overrides the queue-wide pending-approval expiry
// (spec §4.C), applied to every approval enqueued after the call. d <= 0
// is ignored.
func (e *Engine) SetApprovalExpiry(d time.Duration) {
	if d <= 0 {
		return
	}
	e.expiry = d
}

// Store exposes the approval queue for inspection and operator actions
// (approve/deny) via the API layer.
func (e *Engine) Store() *approval.Store { return e.store }

// Evaluate runs the three-layer policy gate against req and returns the
// disposition, implementing the algorithm in spec §4.C verbatim.
func (e *Engine) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	e.failClosedMu.RLock()
	failClosed := e.failClosed
	e.failClosedMu.RUnlock()
	if failClosed {
		d := Decision{
			Compliant:   false,
			Disposition: DispositionDeny,
			Constitution: LayerResult{Rationale: "policy documents unavailable, engine is fail-closed"},
		}
		e.recordDecision(req, d)
		return d, nil
	}

	docs := e.docs.Load()
	tier := e.Tier()

	cResult := evaluateConstitution(docs.Constitution, req)
	gResult := evaluateGuardrails(docs.Guardrails, req)
	wResult := evaluateWhitelist(docs.Whitelist, tier, req)

	d := Decision{
		Constitution: cResult,
		Guardrails:   gResult,
		Whitelist:    wResult,
		Confidence:   req.Confidence,
	}

	switch {
	case !cResult.Passed || !gResult.Passed || !wResult.Passed:
		d.Compliant = false
		d.Disposition = DispositionDeny
		d.Remediations = remediationsFor(cResult, gResult, wResult)

	case isAutoApproveListed(docs.Whitelist, req.ActionKind) &&
		tier.AllowsAutoApply() &&
		req.Confidence >= docs.Constitution.ThresholdForTier(tier):
		d.Compliant = true
		d.Disposition = DispositionAutoApprove

	case inCatalog(docs.Constitution.ActionCatalog.RequiresApproval, req.ActionKind) ||
		req.Confidence < docs.Constitution.ThresholdForTier(tier):
		d.Compliant = true
		d.Disposition = DispositionRequireApproval
		d.ApprovalID = e.enqueueApproval(req)

	default:
		d.Compliant = true
		d.Disposition = DispositionAutoApprove
	}

	e.recordDecision(req, d)
	return d, nil
}

func (e *Engine) enqueueApproval(req ActionRequest) string {
	a := &approval.Approval{
		ID: uuid.NewString(),
		Action: approval.ActionRequest{
			Actor:         req.Actor,
			ActionKind:    req.ActionKind,
			Resource:      req.Resource,
			RiskTier:      req.RiskTier,
			Payload:       req.Payload,
			Confidence:    req.Confidence,
			CorrelationID: req.CorrelationID,
		},
		State:       approval.StatePending,
		Requester:   req.Actor,
		Priority:    priorityFor(req),
		RequestedAt: e.now(),
		Expiry:      e.now().Add(e.expiry),
	}
	e.store.Enqueue(a)
	e.appendAudit(audit.EventApprovalRequested, req, map[string]any{
		"approval_id": a.ID,
		"priority":    a.Priority,
		"expiry":      a.Expiry,
	})
	return a.ID
}

// priorityFor derives a FIFO-by-priority ordering key: a higher risk tier
// and a lower confidence both raise urgency (a low-confidence high-risk
// action should surface to a human sooner than a routine one).
func priorityFor(req ActionRequest) float64 {
	base := 0.5
	switch req.RiskTier {
	case "critical":
		base = 1.0
	case "high":
		base = 0.8
	case "medium":
		base = 0.5
	case "low":
		base = 0.2
	}
	return base + (1 - req.Confidence*0.5)
}

// Approve grants a pending approval. The caller is responsible for
// re-running Evaluate (or directly applying the action) once approved.
func (e *Engine) Approve(id, approver, rationale string) (*approval.Approval, error) {
	a, err := e.store.Transition(id, approval.StateApproved, approver, rationale)
	if err != nil {
		return nil, err
	}
	e.appendAudit(audit.EventApprovalGranted, ActionRequest{
		Actor: approver, ActionKind: a.Action.ActionKind, Resource: a.Action.Resource,
		CorrelationID: a.Action.CorrelationID,
	}, map[string]any{"approval_id": id, "rationale": rationale})
	return a, nil
}

// Deny rejects a pending approval.
func (e *Engine) Deny(id, approver, rationale string) (*approval.Approval, error) {
	a, err := e.store.Transition(id, approval.StateDenied, approver, rationale)
	if err != nil {
		return nil, err
	}
	e.appendAudit(audit.EventApprovalDenied, ActionRequest{
		Actor: approver, ActionKind: a.Action.ActionKind, Resource: a.Action.Resource,
		CorrelationID: a.Action.CorrelationID,
	}, map[string]any{"approval_id": id, "rationale": rationale})
	return a, nil
}

// ExpirePending is the periodic task referenced in spec §4.C ("Expiry is
// evaluated by a periodic task; expired entries transition atomically").
// The Scheduler invokes this at the start of every triage cycle.
func (e *Engine) ExpirePending(now time.Time) {
	for _, id := range e.store.ExpireDue(now) {
		a, err := e.store.Get(id)
		if err != nil {
			continue
		}
		e.appendAudit(audit.EventApprovalExpired, ActionRequest{
			ActionKind: a.Action.ActionKind, Resource: a.Action.Resource,
			CorrelationID: a.Action.CorrelationID,
		}, map[string]any{"approval_id": id})
	}
}

func (e *Engine) now() time.Time { return time.Now() }

func (e *Engine) recordDecision(req ActionRequest, d Decision) {
	sev := audit.SeverityInfo
	if d.Disposition == DispositionDeny {
		sev = audit.SeverityMedium
	}
	e.appendAudit(eventForDisposition(d.Disposition), req, map[string]any{
		"compliant":    d.Compliant,
		"disposition":  string(d.Disposition),
		"confidence":   d.Confidence,
		"remediations": d.Remediations,
		"layers":       d.LayerResults(),
	}, sev)
}

func eventForDisposition(disp Disposition) string {
	switch disp {
	case DispositionDeny:
		return audit.EventApprovalDenied
	case DispositionRequireApproval:
		return "governance.action.pending_approval"
	default:
		return "governance.action.auto_approved"
	}
}

func (e *Engine) appendAudit(eventType string, req ActionRequest, payload map[string]any, severity ...audit.Severity) {
	if e.auditor == nil {
		return
	}
	sev := audit.SeverityInfo
	if len(severity) > 0 {
		sev = severity[0]
	}
	ev := audit.Event{
		ID:            uuid.NewString(),
		Wall:          e.now(),
		Type:          eventType,
		Source:        "governance",
		Actor:         req.Actor,
		Resource:      req.Resource,
		Severity:      sev,
		Payload:       payload,
		CorrelationID: req.CorrelationID,
	}
	if _, err := e.auditor.Append(ev); err != nil {
		e.log.Error("governance: failed to append audit event", "event_type", eventType, "error", err)
	}
}

func remediationsFor(layers ...LayerResult) []string {
	var out []string
	for _, l := range layers {
		if !l.Passed {
			out = append(out, fmt.Sprintf("address: %s", l.Rationale))
		}
	}
	return out
}
