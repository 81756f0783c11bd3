// Package proposer implements the Fix Proposer (spec §4.G): it reacts to
// classified errors, ranks candidate fix strategies using the Learning
// Store, submits the patch as a governed action, and — once approved —
// verifies the patch in the Sandbox Executor before committing or
// reverting it.
package proposer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
	"github.com/codeready-toolchain/grace-core/pkg/sandbox"
)

const actionApplyCodePatch = "apply_code_patch"

// LearningStore is the subset of learning.Store the proposer reads.
type LearningStore interface {
	TopStrategies(signature string, k int) []learning.FixStrategy
	RecordHealingAttempt(patternSignature, strategyKind string, sandboxPassed, applied, reverted bool) *learning.FixStrategy
}

// Evaluator is the governance surface the proposer submits actions to.
type Evaluator interface {
	Evaluate(ctx context.Context, req governance.ActionRequest) (governance.Decision, error)
}

// Publisher is the Trigger Mesh surface the proposer emits outcome
// events through.
type Publisher interface {
	Publish(ctx context.Context, e audit.Event) (mesh.DispatchResult, error)
}

// VerifyCommand builds the command line that verifies a patched resource,
// e.g. the test runner for the artifact's language. Proposer does not
// prescribe one (spec non-goal: no language-toolchain sandboxes).
type VerifyCommand func(resource string) []string

// snapshot is what the proposer keeps in memory between submitting an
// action and that action's eventual disposition, so a later approval or
// a sandbox failure can revert the file to its pre-patch content (spec
// §4.G, Rollback).
type snapshot struct {
	resource       string
	originalHash   string
	original       []byte
	signature      string
	strategyKind   string
	classification recipes.Classification
	correlationID  string
}

// Proposer owns no durable state of its own (ErrorPattern/FixStrategy
// belong exclusively to the Learning Store, Approval state exclusively
// to the Governance Engine); pending is a purely in-memory index from
// approval ID to the snapshot needed to finish applying once approved.
type Proposer struct {
	log       *slog.Logger
	learning  LearningStore
	governor  Evaluator
	publisher Publisher
	executor  sandbox.Executor
	verify    VerifyCommand
	limits    sandbox.Limits

	mu      sync.Mutex
	pending map[string]snapshot
}

// Config bundles Proposer's collaborators.
type Config struct {
	Learning  LearningStore
	Governor  Evaluator
	Publisher Publisher
	Executor  sandbox.Executor
	Verify    VerifyCommand
	Limits    sandbox.Limits
	Log       *slog.Logger
}

// New constructs a Proposer.
func New(cfg Config) *Proposer {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Limits == (sandbox.Limits{}) {
		cfg.Limits = sandbox.DefaultLimits
	}
	if cfg.Verify == nil {
		cfg.Verify = func(string) []string { return []string{"true"} }
	}
	return &Proposer{
		log:       cfg.Log,
		learning:  cfg.Learning,
		governor:  cfg.Governor,
		publisher: cfg.Publisher,
		executor:  cfg.Executor,
		verify:    cfg.Verify,
		limits:    cfg.Limits,
		pending:   make(map[string]snapshot),
	}
}

// HandleErrorDetected is the Trigger Mesh handler for error.detected
// events (mesh.Handler-compatible).
func (p *Proposer) HandleErrorDetected(ctx context.Context, e audit.Event) error {
	resource, _ := e.Payload["file"].(string)
	if resource == "" {
		return nil // nothing to patch without a target file
	}
	classRaw, _ := e.Payload["classification"].(string)
	class := recipes.Classification(classRaw)
	if class == "" {
		class = recipes.ClassUnknown
	}

	_, err := p.Propose(ctx, resource, class, e.CorrelationID)
	return err
}

// Propose ranks candidate strategies for a classified error at resource,
// submits the apply_code_patch action to governance, and — if
// auto-approved — immediately applies and verifies it. It returns the
// governance Decision so callers (tests, the scheduler) can observe the
// disposition.
func (p *Proposer) Propose(ctx context.Context, resource string, class recipes.Classification, correlationID string) (governance.Decision, error) {
	recipe, err := recipes.RecipeFor(class)
	if err != nil {
		return governance.Decision{}, fmt.Errorf("proposer: %w", err)
	}

	signature := fmt.Sprintf("%s:%s", class, resource)
	confidence := 0.5 // neutral prior, matches learning.Store's cold-start reliability
	if p.learning != nil {
		if top := p.learning.TopStrategies(signature, 1); len(top) > 0 {
			confidence = top[0].SuccessRate()
		}
	}

	original, err := os.ReadFile(resource)
	if err != nil {
		return governance.Decision{}, fmt.Errorf("proposer: read %s: %w", resource, err)
	}
	sum := sha256.Sum256(original)

	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	req := governance.ActionRequest{
		Actor:      "fix-proposer",
		ActionKind: actionApplyCodePatch,
		Resource:   resource,
		RiskTier:   "medium",
		Confidence: confidence,
		Payload: map[string]any{
			"classification": string(class),
			"strategy_kind":  recipe.Name,
			"original_hash":  hex.EncodeToString(sum[:]),
		},
		CorrelationID: correlationID,
	}

	decision, err := p.governor.Evaluate(ctx, req)
	if err != nil {
		return decision, fmt.Errorf("proposer: evaluate: %w", err)
	}

	snap := snapshot{
		resource:       resource,
		originalHash:   hex.EncodeToString(sum[:]),
		original:       original,
		signature:      signature,
		strategyKind:   recipe.Name,
		classification: class,
		correlationID:  correlationID,
	}

	p.publish(ctx, audit.EventFixProposed, audit.SeverityInfo, snap, map[string]any{
		"classification": string(class),
		"strategy_kind":  recipe.Name,
		"original_hash":  snap.originalHash,
		"disposition":    string(decision.Disposition),
		"approval_id":    decision.ApprovalID,
	})

	switch decision.Disposition {
	case governance.DispositionDeny:
		p.recordOutcome(ctx, snap, false, false, true, "denied")
	case governance.DispositionRequireApproval:
		p.mu.Lock()
		p.pending[decision.ApprovalID] = snap
		p.mu.Unlock()
	case governance.DispositionAutoApprove:
		p.applyAndVerify(ctx, snap)
	}
	return decision, nil
}

// CompleteApproved finishes a previously-queued proposal once its
// approval has transitioned to approved, identified by the ApprovalID
// returned in the original Decision. Nothing in this module calls it when
// an approval is granted: a queued proposal stays pending until a caller
// passes its approval ID here.
func (p *Proposer) CompleteApproved(ctx context.Context, approvalID string) error {
	p.mu.Lock()
	snap, ok := p.pending[approvalID]
	if ok {
		delete(p.pending, approvalID)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("proposer: no pending proposal for approval %s", approvalID)
	}
	p.applyAndVerify(ctx, snap)
	return nil
}

func (p *Proposer) applyAndVerify(ctx context.Context, snap snapshot) {
	recipe, err := recipes.RecipeFor(snap.classification)
	if err != nil {
		p.recordOutcome(ctx, snap, false, false, true, "no_recipe")
		return
	}

	if _, err := recipe.Apply(ctx, snap.resource); err != nil {
		p.log.Error("proposer: apply recipe failed", "resource", snap.resource, "error", err)
		p.recordOutcome(ctx, snap, false, false, true, "apply_failed")
		return
	}

	// sandboxExempt records that no sandbox run was performed (no executor
	// configured) rather than claiming a passed run that never happened;
	// recordOutcome threads it into fix.applied's payload so the invariant
	// that every fix.applied either follows a sandbox.passed with the same
	// correlation_id or is explicitly flagged sandbox_exempt always holds.
	sandboxExempt := p.executor == nil
	passed := true
	if !sandboxExempt {
		result, err := p.executor.Run(ctx, sandbox.Artifact{
			WorkDir: filepath.Dir(snap.resource),
			Command: p.verify(snap.resource),
		}, p.limits, sandbox.ExitZero)
		if err != nil {
			p.log.Error("proposer: sandbox run failed", "resource", snap.resource, "error", err)
			passed = false
		} else {
			passed = result.Passed
		}
	}

	if passed {
		if !sandboxExempt {
			p.publish(ctx, audit.EventSandboxPassed, audit.SeverityInfo, snap, map[string]any{
				"classification": string(snap.classification),
				"strategy_kind":  snap.strategyKind,
			})
		}
		p.recordOutcome(ctx, snap, true, true, sandboxExempt, "applied")
		return
	}

	// Revert: restore the pre-patch snapshot. The revert is pre-authorized
	// as part of the original approval envelope (spec §4.G, Rollback).
	if err := os.WriteFile(snap.resource, snap.original, 0o644); err != nil {
		p.log.Error("proposer: revert failed", "resource", snap.resource, "error", err)
	}
	p.recordOutcome(ctx, snap, false, true, sandboxExempt, "reverted")
}

func (p *Proposer) recordOutcome(ctx context.Context, snap snapshot, sandboxPassed, applied, sandboxExempt bool, outcome string) {
	reverted := outcome == "reverted"
	if p.learning != nil {
		p.learning.RecordHealingAttempt(snap.signature, snap.strategyKind, sandboxPassed, applied, reverted)
	}

	eventType := audit.EventFixApplied
	severity := audit.SeverityInfo
	switch outcome {
	case "denied", "no_recipe", "apply_failed":
		eventType = audit.EventSandboxFailed
		severity = audit.SeverityMedium
	case "reverted":
		eventType = audit.EventFixReverted
		severity = audit.SeverityHigh
	}

	p.publish(ctx, eventType, severity, snap, map[string]any{
		"classification": string(snap.classification),
		"strategy_kind":  snap.strategyKind,
		"outcome":        outcome,
		"original_hash":  snap.originalHash,
		"sandbox_exempt": sandboxExempt,
	})
}

// publish emits ev to the Trigger Mesh if a publisher is configured,
// logging (never failing the caller) on error.
func (p *Proposer) publish(ctx context.Context, eventType string, severity audit.Severity, snap snapshot, payload map[string]any) {
	if p.publisher == nil {
		return
	}
	ev := audit.Event{
		ID:            uuid.NewString(),
		Wall:          time.Now(),
		Type:          eventType,
		Source:        "fix-proposer",
		Resource:      snap.resource,
		Severity:      severity,
		CorrelationID: snap.correlationID,
		Payload:       payload,
	}
	if _, err := p.publisher.Publish(ctx, ev); err != nil {
		p.log.Error("proposer: failed to publish event", "event_type", eventType, "error", err)
	}
}
