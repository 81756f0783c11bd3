// Package retention runs the background archival loop referenced in the
// lifecycle summary ("destroyed only by archival policy"): it periodically
// snapshots the Learning Store into the durability journal and prunes
// decided approvals and terminal missions from that journal's queryable
// cache. It never touches the audit log itself, which has no retention
// policy and is never pruned.
//
// Runs as a ticker-driven run-then-repeat loop with a cancellable
// background goroutine.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/grace-core/pkg/config"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
)

// Store is the subset of *storage.Store the service needs.
type Store interface {
	SaveLearningSnapshot(ctx context.Context, snap learning.Snapshot) error
	PruneDecidedApprovals(ctx context.Context, olderThan time.Duration) (int64, error)
	PruneTerminalMissions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Service periodically enforces the configured RetentionConfig.
type Service struct {
	cfg     config.RetentionConfig
	store   Store
	learner *learning.Store
	log     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds a retention Service. learner may be nil, in which case
// snapshotting is skipped (pruning still runs).
func NewService(cfg config.RetentionConfig, store Store, learner *learning.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, learner: learner, log: log.With("component", "retention")}
}

// Start launches the background loop. Safe to call once; a second call is
// a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	s.log.Info("retention service started",
		"snapshot_interval", s.cfg.SnapshotInterval,
		"audit_retention_days", s.cfg.AuditRetentionDays,
		"cleanup_interval", s.cfg.CleanupInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	snapshotTicker := time.NewTicker(s.cfg.SnapshotInterval)
	defer snapshotTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshotTicker.C:
			s.takeSnapshot(ctx)
		case <-cleanupTicker.C:
			s.pruneDecided(ctx)
		}
	}
}

func (s *Service) takeSnapshot(ctx context.Context) {
	if s.learner == nil {
		return
	}
	snap := s.learner.Snapshot()
	if err := s.store.SaveLearningSnapshot(ctx, snap); err != nil {
		s.log.Error("learning snapshot persist failed", "error", err)
		return
	}
	s.log.Info("learning snapshot persisted", "patterns", len(snap.Patterns), "strategies", len(snap.Strategies))
}

func (s *Service) pruneDecided(ctx context.Context) {
	retainFor := time.Duration(s.cfg.AuditRetentionDays) * 24 * time.Hour

	n, err := s.store.PruneDecidedApprovals(ctx, retainFor)
	if err != nil {
		s.log.Error("approval prune failed", "error", err)
	} else if n > 0 {
		s.log.Info("pruned decided approvals", "count", n)
	}

	n, err = s.store.PruneTerminalMissions(ctx, retainFor)
	if err != nil {
		s.log.Error("mission prune failed", "error", err)
	} else if n > 0 {
		s.log.Info("pruned terminal missions", "count", n)
	}
}
