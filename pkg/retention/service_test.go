package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/config"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
)

type fakeStore struct {
	mu             sync.Mutex
	snapshots      int
	prunedApprovs  int
	prunedMissions int
}

func (f *fakeStore) SaveLearningSnapshot(_ context.Context, _ learning.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return nil
}

func (f *fakeStore) PruneDecidedApprovals(_ context.Context, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedApprovs++
	return 3, nil
}

func (f *fakeStore) PruneTerminalMissions(_ context.Context, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedMissions++
	return 2, nil
}

func (f *fakeStore) counts() (snapshots, approvs, missions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, f.prunedApprovs, f.prunedMissions
}

func TestServiceRunsSnapshotAndPruneOnTheirOwnTickers(t *testing.T) {
	store := &fakeStore{}
	learner := learning.New()
	learner.RecordError("sig-1", recipes.ClassIncorrectAwait)

	cfg := config.RetentionConfig{
		AuditRetentionDays: 1,
		SnapshotInterval:   10 * time.Millisecond,
		CleanupInterval:    10 * time.Millisecond,
	}

	svc := NewService(cfg, store, learner, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		snaps, approvs, missions := store.counts()
		return snaps > 0 && approvs > 0 && missions > 0
	}, time.Second, 5*time.Millisecond)
}

func TestServiceStartIsIdempotent(t *testing.T) {
	svc := NewService(config.RetentionConfig{SnapshotInterval: time.Hour, CleanupInterval: time.Hour}, &fakeStore{}, nil, nil)
	svc.Start(context.Background())
	svc.Start(context.Background()) // no-op, must not panic or replace the first loop
	svc.Stop()
}

func TestServiceSkipsSnapshotWhenLearnerNil(t *testing.T) {
	store := &fakeStore{}
	cfg := config.RetentionConfig{SnapshotInterval: 10 * time.Millisecond, CleanupInterval: time.Hour}
	svc := NewService(cfg, store, nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	time.Sleep(50 * time.Millisecond)
	snaps, _, _ := store.counts()
	assert.Equal(t, 0, snaps)
}
