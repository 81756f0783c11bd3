package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApproval(id string, priority float64) *Approval {
	return &Approval{
		ID:          id,
		Action:      ActionRequest{ActionKind: "apply_code_patch"},
		State:       StatePending,
		Priority:    priority,
		RequestedAt: time.Now(),
		Expiry:      time.Now().Add(time.Hour),
	}
}

func TestEnqueueAndGet(t *testing.T) {
	s := NewStore()
	a := newApproval("a1", 0.5)
	s.Enqueue(a)

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionApprovesPending(t *testing.T) {
	s := NewStore()
	s.Enqueue(newApproval("a1", 0.5))

	got, err := s.Transition("a1", StateApproved, "ops", "looks safe")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, got.State)
	assert.Equal(t, "ops", got.Approver)
}

func TestTransitionRejectsFromTerminalState(t *testing.T) {
	s := NewStore()
	s.Enqueue(newApproval("a1", 0.5))
	_, err := s.Transition("a1", StateDenied, "ops", "no")
	require.NoError(t, err)

	_, err = s.Transition("a1", StateApproved, "ops", "actually yes")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNextPrefersHighestPriority(t *testing.T) {
	s := NewStore()
	s.Enqueue(newApproval("low", 0.2))
	s.Enqueue(newApproval("high", 0.9))
	s.Enqueue(newApproval("mid", 0.5))

	next := s.Next()
	require.NotNil(t, next)
	assert.Equal(t, "high", next.ID)
}

func TestExpireDueTransitionsOverduePendingOnly(t *testing.T) {
	s := NewStore()
	overdue := newApproval("overdue", 0.5)
	overdue.Expiry = time.Now().Add(-time.Minute)
	s.Enqueue(overdue)

	fresh := newApproval("fresh", 0.5)
	fresh.Expiry = time.Now().Add(time.Hour)
	s.Enqueue(fresh)

	expired := s.ExpireDue(time.Now())
	assert.Equal(t, []string{"overdue"}, expired)

	got, err := s.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestListReturnsAllApprovals(t *testing.T) {
	s := NewStore()
	s.Enqueue(newApproval("a1", 0.5))
	s.Enqueue(newApproval("a2", 0.5))
	assert.Len(t, s.List(), 2)
}
