package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
)

// AuditReader is the subset of audit.Store the triage pass needs to
// cluster recent events.
type AuditReader interface {
	Head() (uint64, string)
	Read(r audit.Range) ([]audit.AuditEntry, error)
}

// AuditAppender is the subset of audit.Store the scheduler needs to
// record Mission lifecycle and cadence-phase transitions.
type AuditAppender interface {
	Append(e audit.Event) (audit.AuditEntry, error)
}

// ApprovalExpirer is the Governance Engine surface the scheduler drives
// on its triage cadence so pending approvals actually expire (spec §4.C's
// periodic expiry task; scenario §8.3: "a triage cycle... observes
// expiry").
type ApprovalExpirer interface {
	ExpirePending(now time.Time)
}

// MissionRunner executes one Mission phase-by-phase. The scheduler owns
// cadence and concurrency, not execution semantics — those are supplied
// by the composition root (spec §4.J: missions are driven through the
// Domain Kernel Gateway).
type MissionRunner func(ctx context.Context, m *Mission) error

// Scheduler is the process-wide cadence controller (spec §4.L).
type Scheduler struct {
	log     *slog.Logger
	reader  AuditReader
	auditor AuditAppender
	queue   *Queue
	run     MissionRunner
	cfg     CadenceConfig
	rand    *rand.Rand

	mu            sync.Mutex
	phase         Phase
	lastSeq       uint64
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	onPhaseChange func(Phase)
	expirer       ApprovalExpirer
}

// New constructs a Scheduler starting in the boot phase. auditor may be
// nil, in which case no Mission/phase events are recorded (tests that
// don't care about the audit trail).
func New(reader AuditReader, auditor AuditAppender, run MissionRunner, cfg CadenceConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrentMissions <= 0 {
		cfg.MaxConcurrentMissions = DefaultCadence.MaxConcurrentMissions
	}
	return &Scheduler{
		log:     log,
		reader:  reader,
		auditor: auditor,
		queue:   NewQueue(cfg.MaxConcurrentMissions),
		run:     run,
		cfg:     cfg,
		rand:    rand.New(rand.NewSource(1)),
		phase:   PhaseBoot,
		stopCh:  make(chan struct{}),
	}
}

// SetApprovalExpirer wires the Governance Engine's pending-approval
// expiry into the scheduler's triage cadence. Optional: a nil expirer
// (the default) simply skips the expiry check.
func (s *Scheduler) SetApprovalExpirer(e ApprovalExpirer) { s.expirer = e }

// appendEvent publishes a Mission or cadence-phase lifecycle event to the
// audit log if an auditor is configured; failures are logged, never
// propagated, since a lifecycle transition itself must not be blocked by
// an audit write failure beyond what Append itself already enforces.
func (s *Scheduler) appendEvent(eventType string, severity audit.Severity, resource, correlationID string, payload map[string]any) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.Append(audit.Event{
		Type:          eventType,
		Source:        "scheduler",
		Resource:      resource,
		Severity:      severity,
		CorrelationID: correlationID,
		Payload:       payload,
	}); err != nil {
		s.log.Error("scheduler: failed to append audit event", "event_type", eventType, "error", err)
	}
}

// Queue exposes the Mission store for external inspection (e.g. the API
// surface or a CLI "status" command).
func (s *Scheduler) Queue() *Queue { return s.queue }

// Phase reports the current cadence phase.
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// OnPhaseChange registers a callback invoked whenever the cadence
// transitions (e.g. so the Log Healer can tighten its tail interval
// during boot).
func (s *Scheduler) OnPhaseChange(fn func(Phase)) { s.onPhaseChange = fn }

// MarkBootComplete transitions the cadence from boot to steady, driven
// by a `boot.complete` event or an external readiness predicate (spec
// §4.L).
func (s *Scheduler) MarkBootComplete() {
	s.mu.Lock()
	wasBoot := s.phase == PhaseBoot
	s.phase = PhaseSteady
	s.mu.Unlock()
	if !wasBoot {
		return
	}
	s.appendEvent(audit.EventSchedulerPhaseChange, audit.SeverityInfo, "", "", map[string]any{
		"from": string(PhaseBoot),
		"to":   string(PhaseSteady),
	})
	if s.onPhaseChange != nil {
		s.onPhaseChange(PhaseSteady)
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase == PhaseBoot {
		return s.cfg.BootInterval
	}
	jitterRange := s.cfg.SteadyIntervalMax - s.cfg.SteadyIntervalMin
	if jitterRange <= 0 {
		return s.cfg.SteadyIntervalMin
	}
	return s.cfg.SteadyIntervalMin + time.Duration(s.rand.Int63n(int64(jitterRange)))
}

func (s *Scheduler) threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseBoot {
		return s.cfg.BootThreshold
	}
	return s.cfg.SteadyThreshold
}

// Run blocks, alternating triage cycles on the current cadence interval
// until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait := s.interval()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-time.After(wait):
		}
		if err := s.Cycle(ctx); err != nil {
			s.log.Error("scheduler: triage cycle failed", "error", err)
		}
		s.admitRunnable(ctx)
	}
}

// Stop signals Run to return after its current wait.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Cycle runs one triage pass: cluster recent events, score clusters,
// launch Missions for those above the current phase's priority
// threshold (spec §4.L).
func (s *Scheduler) Cycle(ctx context.Context) error {
	if s.expirer != nil {
		s.expirer.ExpirePending(time.Now())
	}

	head, _ := s.reader.Head()
	from := s.lastSeq + 1
	if from > head {
		return nil
	}
	entries, err := s.reader.Read(audit.Range{From: from, To: head})
	if err != nil {
		return fmt.Errorf("scheduler: read audit range: %w", err)
	}
	s.lastSeq = head

	clusters := clusterEvents(entries, s.Phase())
	threshold := s.threshold()

	for _, c := range clusters {
		if c.CombinedScore < threshold {
			continue
		}
		m := &Mission{
			ID:            uuid.NewString(),
			TaskStatement: fmt.Sprintf("triage cluster %s/%s/%s", c.Domain, c.Severity, c.Class),
			Status:        MissionPending,
			RiskScore:     c.RiskScore,
			ImpactScore:   c.ImpactScore,
			CombinedScore: c.CombinedScore,
			CorrelationID: uuid.NewString(),
			CreatedAt:     time.Now(),
		}
		s.queue.Enqueue(m)
		s.log.Info("scheduler: launched mission", "mission_id", m.ID, "score", m.CombinedScore)
	}
	return nil
}

// admitRunnable starts as many queued Missions as the concurrency cap
// allows, each in its own goroutine via s.run.
func (s *Scheduler) admitRunnable(ctx context.Context) {
	for {
		m := s.queue.AdmitNext()
		if m == nil {
			return
		}
		s.appendEvent(audit.EventMissionStarted, audit.SeverityInfo, m.ID, m.CorrelationID, map[string]any{
			"task_statement": m.TaskStatement,
			"combined_score": m.CombinedScore,
		})
		s.wg.Add(1)
		go func(m *Mission) {
			defer s.wg.Done()
			if s.run == nil {
				return
			}
			if err := s.run(ctx, m); err != nil {
				s.log.Error("scheduler: mission failed", "mission_id", m.ID, "error", err)
				_, _ = s.queue.Transition(m.ID, MissionFailed)
				s.appendEvent(audit.EventMissionFailed, audit.SeverityHigh, m.ID, m.CorrelationID, map[string]any{
					"error": err.Error(),
				})
				return
			}
			_, _ = s.queue.Transition(m.ID, MissionCompleted)
			s.appendEvent(audit.EventMissionCompleted, audit.SeverityInfo, m.ID, m.CorrelationID, map[string]any{
				"phases_completed": len(m.Artifacts),
			})
		}(m)
	}
}

// Suspend transitions a pending Mission to suspended and records the
// reason (scenario §8.5: "audit mission.suspended with reason").
func (s *Scheduler) Suspend(id, reason string) (*Mission, error) {
	m, err := s.queue.Transition(id, MissionSuspended)
	if err != nil {
		return nil, err
	}
	s.appendEvent(audit.EventMissionSuspended, audit.SeverityMedium, m.ID, m.CorrelationID, map[string]any{
		"reason": reason,
	})
	return m, nil
}
