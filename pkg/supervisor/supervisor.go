// Package supervisor starts declared components in order, retrying and
// applying auto-fix recipes on failure before giving up (spec §4.E).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
)

// Component is one declared startup unit. Critical components abort the
// whole boot sequence on exhausted retries; optional ones are skipped
// with a logged warning (spec §4.E).
type Component struct {
	Name         string
	Critical     bool
	StartTimeout time.Duration
	MaxRetries   int
	Start        func(ctx context.Context) error

	// Resource is the artifact an auto-fix recipe would edit if Start's
	// error classifies to a recipe (usually the component's source file
	// or config file). Empty disables auto-fix for this component.
	Resource string
}

// AuditAppender is the subset of the audit Store the supervisor needs.
type AuditAppender interface {
	Append(e audit.Event) (audit.AuditEntry, error)
}

// Evaluator is the subset of the Governance Engine the supervisor needs to
// gate an auto-fix application (spec §4.E: "apply it...gated by C").
type Evaluator interface {
	Evaluate(ctx context.Context, req governance.ActionRequest) (governance.Decision, error)
}

// ErrCriticalComponentFailed is returned by Start when a critical
// component exhausts its retries.
type ErrCriticalComponentFailed struct {
	Component string
	Cause     error
}

func (e *ErrCriticalComponentFailed) Error() string {
	return fmt.Sprintf("supervisor: critical component %q failed to start: %v", e.Component, e.Cause)
}
func (e *ErrCriticalComponentFailed) Unwrap() error { return e.Cause }

// Supervisor runs the ordered startup sequence described in spec §4.E.
type Supervisor struct {
	log      *slog.Logger
	auditor  AuditAppender
	governor Evaluator
	now      func() time.Time
}

// New constructs a Supervisor.
func New(auditor AuditAppender, governor Evaluator, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{log: log, auditor: auditor, governor: governor, now: time.Now}
}

// Start runs every component in declared order. On the first critical
// component that cannot be started even after retries and an auto-fix
// attempt, it returns ErrCriticalComponentFailed and does not attempt
// subsequent components.
func (s *Supervisor) Start(ctx context.Context, components []Component) error {
	for _, c := range components {
		if err := s.startOne(ctx, c); err != nil {
			s.appendAudit(audit.EventStartupError, c.Name, map[string]any{"error": err.Error(), "critical": c.Critical})
			if c.Critical {
				return &ErrCriticalComponentFailed{Component: c.Name, Cause: err}
			}
			s.log.Warn("supervisor: optional component failed to start, skipping", "component", c.Name, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) startOne(ctx context.Context, c Component) error {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := c.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)

	attempt := 0
	appliedFix := false
	operation := func() error {
		attempt++
		startCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := c.Start(startCtx)
		if err == nil {
			return nil
		}

		s.log.Warn("supervisor: component start attempt failed", "component", c.Name, "attempt", attempt, "error", err)
		s.appendAudit("supervisor.retry", c.Name, map[string]any{"attempt": attempt, "error": err.Error()})

		if !appliedFix && c.Resource != "" {
			if fixErr := s.tryAutoFix(ctx, c, err); fixErr == nil {
				appliedFix = true
			}
		}
		return err
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		return err
	}
	return nil
}

// tryAutoFix classifies the start error, looks up the matching recipe, and
// (if the Governance Engine approves) applies it to c.Resource.
func (s *Supervisor) tryAutoFix(ctx context.Context, c Component, cause error) error {
	class := recipes.Classify(cause)
	recipe, err := recipes.RecipeFor(class)
	if err != nil {
		return err
	}

	if s.governor != nil {
		decision, evalErr := s.governor.Evaluate(ctx, governance.ActionRequest{
			Actor:         "supervisor",
			ActionKind:    "apply_auto_fix_recipe",
			Resource:      c.Resource,
			RiskTier:      "medium",
			Confidence:    0.7,
			CorrelationID: uuid.NewString(),
			Payload:       map[string]any{"recipe": recipe.Name, "component": c.Name},
		})
		if evalErr != nil {
			return evalErr
		}
		if decision.Disposition != governance.DispositionAutoApprove {
			return errors.New("supervisor: auto-fix recipe requires approval, not applying inline")
		}
	}

	if _, err := recipe.Apply(ctx, c.Resource); err != nil {
		return fmt.Errorf("supervisor: auto-fix recipe %q failed: %w", recipe.Name, err)
	}

	s.appendAudit(audit.EventFixApplied, c.Name, map[string]any{"recipe": recipe.Name, "resource": c.Resource})
	return nil
}

func (s *Supervisor) appendAudit(eventType, component string, payload map[string]any) {
	if s.auditor == nil {
		return
	}
	ev := audit.Event{
		ID:       uuid.NewString(),
		Wall:     s.now(),
		Type:     eventType,
		Source:   "supervisor",
		Resource: component,
		Severity: audit.SeverityMedium,
		Payload:  payload,
	}
	if _, err := s.auditor.Append(ev); err != nil {
		s.log.Error("supervisor: failed to append audit event", "event_type", eventType, "error", err)
	}
}
