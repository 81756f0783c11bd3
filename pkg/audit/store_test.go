package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendChainsSequentially(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Append(Event{Type: EventErrorDetected, Source: "healer"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, GenesisHash, first.PreviousHash)

	second, err := s.Append(Event{Type: EventFixProposed, Source: "proposer"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.SelfHash, second.PreviousHash)
}

func TestVerifyChainOK(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		_, err := s.Append(Event{Type: EventMissionStarted, Source: "scheduler"})
		require.NoError(t, err)
	}

	brk, err := s.VerifyChain(Range{From: 1, To: 0})
	require.NoError(t, err)
	assert.Nil(t, brk)
}

func TestVerifyChainDetectsTamperedEntry(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Event{Type: EventMissionStarted})
	require.NoError(t, err)
	_, err = s.Append(Event{Type: EventMissionCompleted})
	require.NoError(t, err)

	// Simulate tampering by corrupting the in-memory head hash used to
	// validate the third append against an already-written second entry.
	s.headHash = "deadbeef"
	_, err = s.Append(Event{Type: EventMissionFailed})
	require.NoError(t, err) // Append trusts its own state; the corruption is only visible on replay/verify.

	brk, err := s.VerifyChain(Range{From: 1, To: 0})
	require.NoError(t, err)
	require.NotNil(t, brk)
	assert.Equal(t, uint64(3), brk.Sequence)
}

func TestAppendFailsAfterHalt(t *testing.T) {
	s := newTestStore(t)
	s.Halt()

	_, err := s.Append(Event{Type: EventErrorDetected})
	assert.ErrorIs(t, err, ErrHalted)
}

func TestReadRangeRejectsOutOfBounds(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Event{Type: EventErrorDetected})
	require.NoError(t, err)

	_, err = s.Read(Range{From: 5, To: 0})
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestReplayRebuildsStateAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.Append(Event{Type: EventErrorDetected})
		require.NoError(t, err)
	}
	headSeq, headHash := s.Head()
	require.NoError(t, s.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	gotSeq, gotHash := reopened.Head()
	assert.Equal(t, headSeq, gotSeq)
	assert.Equal(t, headHash, gotHash)

	brk, err := reopened.VerifyChain(Range{From: 1, To: 0})
	require.NoError(t, err)
	assert.Nil(t, brk)
}
