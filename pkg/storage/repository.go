package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/grace-core/pkg/governance/approval"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
)

// SaveApproval upserts one Approval into the journal. The Governance
// Engine does not call it: its approval Store is in memory only, and
// pending approvals do not survive a restart.
func (s *Store) SaveApproval(ctx context.Context, a *approval.Approval) error {
	var decidedAt sql.NullTime
	if a.State != approval.StatePending {
		decidedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, action_kind, resource, actor, confidence, status, priority, requested_at, decided_at, decided_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			decided_at = EXCLUDED.decided_at,
			decided_by = EXCLUDED.decided_by`,
		a.ID, a.Action.ActionKind, a.Action.Resource, a.Action.Actor, a.Action.Confidence,
		string(a.State), a.Priority, a.RequestedAt, decidedAt, nullableString(a.Approver),
	)
	if err != nil {
		return fmt.Errorf("storage: save approval: %w", err)
	}
	return nil
}

// ListPendingApprovals reconstructs the set of still-open approvals saved
// by SaveApproval. Nothing in this module loads them into approval.Store
// on startup.
func (s *Store) ListPendingApprovals(ctx context.Context) ([]*approval.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_kind, resource, actor, confidence, status, priority, requested_at
		FROM approvals WHERE status = $1 ORDER BY requested_at ASC`, string(approval.StatePending))
	if err != nil {
		return nil, fmt.Errorf("storage: list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*approval.Approval
	for rows.Next() {
		a := &approval.Approval{}
		var status string
		if err := rows.Scan(&a.ID, &a.Action.ActionKind, &a.Action.Resource, &a.Action.Actor,
			&a.Action.Confidence, &status, &a.Priority, &a.RequestedAt); err != nil {
			return nil, fmt.Errorf("storage: scan approval: %w", err)
		}
		a.State = approval.State(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveLearningSnapshot persists a point-in-time learning.Snapshot,
// replacing every pattern/strategy row with the snapshot's contents
// (spec §4.I: "a periodic persistence snapshot").
func (s *Store) SaveLearningSnapshot(ctx context.Context, snap learning.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin learning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range snap.Patterns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO error_patterns (signature, classification, occurrences, first_seen, last_seen)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (signature) DO UPDATE SET
				classification = EXCLUDED.classification,
				occurrences = EXCLUDED.occurrences,
				last_seen = EXCLUDED.last_seen`,
			p.Signature, string(p.Classification), p.Occurrences, p.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("storage: save error pattern %s: %w", p.Signature, err)
		}
	}

	for _, strat := range snap.Strategies {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fix_strategies (signature, strategy_kind, attempts, successes, last_attempt)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (signature, strategy_kind) DO UPDATE SET
				attempts = EXCLUDED.attempts,
				successes = EXCLUDED.successes,
				last_attempt = EXCLUDED.last_attempt`,
			strat.PatternSignature, strat.StrategyKind, strat.Attempts, strat.Successes, strat.LastAttemptedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: save fix strategy %s/%s: %w", strat.PatternSignature, strat.StrategyKind, err)
		}
	}

	return tx.Commit()
}

// LoadLearningSnapshot rebuilds a learning.Snapshot from the journal, for
// learning.Store.Restore on startup.
func (s *Store) LoadLearningSnapshot(ctx context.Context) (learning.Snapshot, error) {
	snap := learning.Snapshot{TakenAt: time.Now()}

	patternRows, err := s.db.QueryContext(ctx, `SELECT signature, classification, occurrences, last_seen FROM error_patterns`)
	if err != nil {
		return snap, fmt.Errorf("storage: load error patterns: %w", err)
	}
	defer patternRows.Close()
	for patternRows.Next() {
		var p learning.ErrorPattern
		var class string
		if err := patternRows.Scan(&p.Signature, &class, &p.Occurrences, &p.LastSeen); err != nil {
			return snap, fmt.Errorf("storage: scan error pattern: %w", err)
		}
		p.Classification = recipes.Classification(class)
		snap.Patterns = append(snap.Patterns, p)
	}
	if err := patternRows.Err(); err != nil {
		return snap, err
	}

	stratRows, err := s.db.QueryContext(ctx, `SELECT signature, strategy_kind, attempts, successes, last_attempt FROM fix_strategies`)
	if err != nil {
		return snap, fmt.Errorf("storage: load fix strategies: %w", err)
	}
	defer stratRows.Close()
	for stratRows.Next() {
		var strat learning.FixStrategy
		if err := stratRows.Scan(&strat.PatternSignature, &strat.StrategyKind, &strat.Attempts, &strat.Successes, &strat.LastAttemptedAt); err != nil {
			return snap, fmt.Errorf("storage: scan fix strategy: %w", err)
		}
		snap.Strategies = append(snap.Strategies, strat)
	}
	return snap, stratRows.Err()
}

// SaveMission upserts one Mission's scheduling state.
func (s *Store) SaveMission(ctx context.Context, m *scheduler.Mission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO missions (id, status, priority, kind, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			updated_at = now()`,
		m.ID, string(m.Status), m.CombinedScore, missionKind(m), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save mission %s: %w", m.ID, err)
	}
	return nil
}

// ListMissionsByStatus returns persisted mission rows, mainly for
// recovering the running/pending set after a restart.
func (s *Store) ListMissionsByStatus(ctx context.Context, status scheduler.MissionStatus) ([]MissionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, priority, kind, created_at FROM missions WHERE status = $1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list missions: %w", err)
	}
	defer rows.Close()

	var out []MissionRow
	for rows.Next() {
		var r MissionRow
		if err := rows.Scan(&r.ID, &r.Status, &r.Priority, &r.Kind, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan mission: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MissionRow is a denormalized read of the missions table. The scheduler
// does not rebuild a scheduler.Mission from it; phase artifacts are not
// persisted (per SPEC_FULL's
// "persistent relational schemas beyond core needs" restraint — they are
// replayable from the audit log if genuinely needed after a crash).
type MissionRow struct {
	ID        string
	Status    string
	Priority  float64
	Kind      string
	CreatedAt time.Time
}

// SetCheckpoint records the audit sequence a named consumer has durably
// processed up to.
func (s *Store) SetCheckpoint(ctx context.Context, consumer string, sequence uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_checkpoints (consumer, sequence, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer) DO UPDATE SET sequence = EXCLUDED.sequence, updated_at = now()`,
		consumer, sequence,
	)
	if err != nil {
		return fmt.Errorf("storage: set checkpoint %s: %w", consumer, err)
	}
	return nil
}

// Checkpoint returns the last sequence a consumer recorded, or 0 if none.
func (s *Store) Checkpoint(ctx context.Context, consumer string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `SELECT sequence FROM audit_checkpoints WHERE consumer = $1`, consumer).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: checkpoint %s: %w", consumer, err)
	}
	return seq, nil
}

// PruneDecidedApprovals deletes approval rows that reached a terminal
// state more than olderThan ago. The audit log's approval-lifecycle
// events are untouched and remain the permanent record (spec's lifecycle
// summary: artifacts are "destroyed only by archival policy" in this
// queryable cache, never in the audit trail itself).
func (s *Store) PruneDecidedApprovals(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM approvals
		WHERE status != $1 AND decided_at IS NOT NULL AND decided_at < $2`,
		string(approval.StatePending), time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune decided approvals: %w", err)
	}
	return res.RowsAffected()
}

// PruneTerminalMissions deletes mission rows in a terminal status older
// than olderThan, for the same reason PruneDecidedApprovals does: the
// audit log already carries the full mission history.
func (s *Store) PruneTerminalMissions(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM missions
		WHERE status IN ($1, $2) AND updated_at < $3`,
		string(scheduler.MissionCompleted), string(scheduler.MissionFailed),
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune terminal missions: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// missionKind records the mission's current phase name (spec §3,
// MissionPhases) rather than the full TaskStatement, which is free text
// that belongs in the audit log, not a denormalized lookup column.
func missionKind(m *scheduler.Mission) string {
	if m.CurrentPhase < 0 || m.CurrentPhase >= len(scheduler.MissionPhases) {
		return "unknown"
	}
	return scheduler.MissionPhases[m.CurrentPhase]
}
