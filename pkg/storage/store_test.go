package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/grace-core/pkg/governance/approval"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
)

var (
	containerOnce sync.Once
	containerCfg  Config
	containerErr  error
)

// sharedStore starts one Postgres testcontainer per test binary run and
// opens a fresh Store against it, applying migrations. Tests TRUNCATE
// their own tables between runs rather than needing per-test schema
// isolation.
func sharedStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	containerOnce.Do(func() {
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("gracecore_test"),
			postgres.WithUsername("gracecore"),
			postgres.WithPassword("gracecore"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = err
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = err
			return
		}
		containerCfg = Config{
			Host: host, Port: port.Int(), User: "gracecore", Password: "gracecore",
			Database: "gracecore_test", SSLMode: "disable",
			MaxOpenConns: 5, MaxIdleConns: 2,
			ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
		}
	})
	require.NoError(t, containerErr)

	store, err := Open(ctx, containerCfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.db.ExecContext(ctx,
			"TRUNCATE approvals, error_patterns, fix_strategies, missions, audit_checkpoints")
		_ = store.Close()
	})
	return store
}

func TestSaveAndListPendingApprovals(t *testing.T) {
	store := sharedStore(t)
	ctx := context.Background()

	a := &approval.Approval{
		ID:          "appr-1",
		Action:      approval.ActionRequest{ActionKind: "apply_code_patch", Resource: "svc/foo", Actor: "proposer", Confidence: 0.8},
		State:       approval.StatePending,
		Priority:    1,
		RequestedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.SaveApproval(ctx, a))

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "appr-1", pending[0].ID)
	require.Equal(t, "apply_code_patch", pending[0].Action.ActionKind)

	a.State = approval.StateApproved
	require.NoError(t, store.SaveApproval(ctx, a))

	pending, err = store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestLearningSnapshotRoundTrips(t *testing.T) {
	store := sharedStore(t)
	ctx := context.Background()

	mem := learning.New()
	mem.RecordError("sig-timeout-1", recipes.ClassTimeout)
	mem.RecordHealingAttempt("sig-timeout-1", "retry_with_backoff", true, true, false)

	snap := mem.Snapshot()
	require.NoError(t, store.SaveLearningSnapshot(ctx, snap))

	loaded, err := store.LoadLearningSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Patterns, 1)
	require.Equal(t, "sig-timeout-1", loaded.Patterns[0].Signature)
	require.Len(t, loaded.Strategies, 1)
	require.Equal(t, "retry_with_backoff", loaded.Strategies[0].StrategyKind)

	restored := learning.New()
	restored.Restore(loaded)
	p, ok := restored.Pattern("sig-timeout-1")
	require.True(t, ok)
	require.Equal(t, 1, p.Occurrences)
}

func TestMissionCheckpointAndListByStatus(t *testing.T) {
	store := sharedStore(t)
	ctx := context.Background()

	m := &scheduler.Mission{ID: "mission-1", Status: scheduler.MissionPending, CreatedAt: time.Now().Truncate(time.Second)}
	require.NoError(t, store.SaveMission(ctx, m))

	rows, err := store.ListMissionsByStatus(ctx, scheduler.MissionPending)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "mission-1", rows[0].ID)

	require.NoError(t, store.SetCheckpoint(ctx, "events", 42))
	seq, err := store.Checkpoint(ctx, "events")
	require.NoError(t, err)
	require.Equal(t, uint64(42), seq)

	seq, err = store.Checkpoint(ctx, "unknown-consumer")
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq)
}

func TestHealthReportsConnectionPoolStats(t *testing.T) {
	store := sharedStore(t)
	status, err := store.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", status.Status)
}
