package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
)

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAuditor) Append(e audit.Event) (audit.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return audit.AuditEntry{Sequence: uint64(len(f.events)), Event: e}, nil
}

func (f *fakeAuditor) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeExpirer struct {
	calls int
}

func (f *fakeExpirer) ExpirePending(now time.Time) { f.calls++ }

type fakeReader struct {
	head    uint64
	entries []audit.AuditEntry
}

func (f fakeReader) Head() (uint64, string) { return f.head, "" }
func (f fakeReader) Read(r audit.Range) ([]audit.AuditEntry, error) {
	var out []audit.AuditEntry
	for _, e := range f.entries {
		if e.Sequence >= r.From && e.Sequence <= r.To {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestQueueAdmitNextRespectsConcurrencyCap(t *testing.T) {
	q := NewQueue(1)
	q.Enqueue(&Mission{ID: "a", Status: MissionPending, CombinedScore: 0.9})
	q.Enqueue(&Mission{ID: "b", Status: MissionPending, CombinedScore: 0.5})

	first := q.AdmitNext()
	require.NotNil(t, first)
	assert.Equal(t, "a", first.ID)

	second := q.AdmitNext()
	assert.Nil(t, second) // cap is 1, "a" still running
}

func TestQueueTransitionEnforcesSuspendRule(t *testing.T) {
	q := NewQueue(4)
	q.Enqueue(&Mission{ID: "a", Status: MissionPending})

	_, err := q.Transition("a", MissionSuspended)
	require.NoError(t, err)

	_, err = q.Transition("a", MissionPending)
	require.NoError(t, err)

	m := q.AdmitNext()
	require.NotNil(t, m)
	_, err = q.Transition(m.ID, MissionSuspended)
	assert.ErrorIs(t, err, ErrInvalidTransition) // running -> suspended is not allowed
}

func TestClusterEventsGroupsBySourceSeverityClass(t *testing.T) {
	entries := []audit.AuditEntry{
		{Sequence: 1, Event: audit.Event{Source: "healer", Severity: audit.SeverityHigh, Payload: map[string]any{"classification": "timeout"}}},
		{Sequence: 2, Event: audit.Event{Source: "healer", Severity: audit.SeverityHigh, Payload: map[string]any{"classification": "timeout"}}},
		{Sequence: 3, Event: audit.Event{Source: "preflight", Severity: audit.SeverityLow, Payload: map[string]any{"classification": "unknown"}}},
	}

	clusters := clusterEvents(entries, PhaseSteady)
	assert.Len(t, clusters, 2)

	var healerCluster cluster
	for _, c := range clusters {
		if c.Domain == "healer" {
			healerCluster = c
		}
	}
	assert.Equal(t, 2, healerCluster.EventCount)
	assert.Greater(t, healerCluster.CombinedScore, 0.0)
}

func TestCycleLaunchesMissionsAboveThreshold(t *testing.T) {
	entries := make([]audit.AuditEntry, 0, 10)
	for i := uint64(1); i <= 10; i++ {
		entries = append(entries, audit.AuditEntry{
			Sequence: i,
			Event: audit.Event{
				Source:   "supervisor",
				Severity: audit.SeverityCritical,
				Payload:  map[string]any{"classification": "timeout"},
			},
		})
	}
	reader := fakeReader{head: 10, entries: entries}

	s := New(reader, nil, nil, DefaultCadence, nil)
	require.NoError(t, s.Cycle(context.Background()))

	missions := s.Queue().List()
	require.Len(t, missions, 1)
	assert.Equal(t, MissionPending, missions[0].Status)
}

func TestMarkBootCompleteSwitchesPhaseAndFiresCallback(t *testing.T) {
	s := New(fakeReader{}, nil, nil, DefaultCadence, nil)
	assert.Equal(t, PhaseBoot, s.Phase())

	var seen Phase
	s.OnPhaseChange(func(p Phase) { seen = p })
	s.MarkBootComplete()

	assert.Equal(t, PhaseSteady, s.Phase())
	assert.Equal(t, PhaseSteady, seen)
}

func TestIntervalDiffersByPhase(t *testing.T) {
	s := New(fakeReader{}, nil, nil, DefaultCadence, nil)
	assert.Equal(t, DefaultCadence.BootInterval, s.interval())

	s.MarkBootComplete()
	got := s.interval()
	assert.GreaterOrEqual(t, got, DefaultCadence.SteadyIntervalMin)
	assert.Less(t, got, DefaultCadence.SteadyIntervalMax+time.Second)
}

func TestMarkBootCompleteAppendsSchedulerPhaseChanged(t *testing.T) {
	auditor := &fakeAuditor{}
	s := New(fakeReader{}, auditor, nil, DefaultCadence, nil)

	s.MarkBootComplete()

	assert.Contains(t, auditor.types(), audit.EventSchedulerPhaseChange)
	// a second call is a no-op transition, not a second phase change
	s.MarkBootComplete()
	assert.Len(t, auditor.types(), 1)
}

func TestCycleInvokesApprovalExpirer(t *testing.T) {
	expirer := &fakeExpirer{}
	s := New(fakeReader{}, nil, nil, DefaultCadence, nil)
	s.SetApprovalExpirer(expirer)

	require.NoError(t, s.Cycle(context.Background()))
	assert.Equal(t, 1, expirer.calls)
}

func TestAdmitRunnableAppendsMissionLifecycleEvents(t *testing.T) {
	auditor := &fakeAuditor{}
	s := New(fakeReader{}, auditor, func(ctx context.Context, m *Mission) error {
		return nil
	}, DefaultCadence, nil)

	s.Queue().Enqueue(&Mission{ID: "m1", Status: MissionPending, CombinedScore: 0.9})
	s.admitRunnable(context.Background())
	s.Stop()

	types := auditor.types()
	assert.Contains(t, types, audit.EventMissionStarted)
	assert.Contains(t, types, audit.EventMissionCompleted)
}

func TestSuspendAppendsMissionSuspended(t *testing.T) {
	auditor := &fakeAuditor{}
	s := New(fakeReader{}, auditor, nil, DefaultCadence, nil)
	s.Queue().Enqueue(&Mission{ID: "m1", Status: MissionPending, CombinedScore: 0.5})

	m, err := s.Suspend("m1", "operator request")
	require.NoError(t, err)
	assert.Equal(t, MissionSuspended, m.Status)
	assert.Contains(t, auditor.types(), audit.EventMissionSuspended)
}
