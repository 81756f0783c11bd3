package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/recipes"
)

func TestRecordErrorCreatesAndUpdatesPattern(t *testing.T) {
	s := New()
	p1 := s.RecordError("sig1", recipes.ClassIncorrectAwait)
	assert.Equal(t, 1, p1.Occurrences)

	p2 := s.RecordError("sig1", recipes.ClassIncorrectAwait)
	assert.Equal(t, 2, p2.Occurrences)

	got, ok := s.Pattern("sig1")
	require.True(t, ok)
	assert.Equal(t, 2, got.Occurrences)
	assert.Equal(t, recipes.ClassIncorrectAwait, got.Classification)
}

func TestRecordHealingAttemptOnlyCountsSuccessWhenAppliedAndNotReverted(t *testing.T) {
	s := New()
	s.RecordHealingAttempt("sig1", "remove_incorrect_await", true, true, false)
	s.RecordHealingAttempt("sig1", "remove_incorrect_await", true, true, true) // reverted: not a success
	s.RecordHealingAttempt("sig1", "remove_incorrect_await", false, false, false)

	top := s.TopStrategies("sig1", 1)
	require.Len(t, top, 1)
	assert.Equal(t, 3, top[0].Attempts)
	assert.Equal(t, 1, top[0].Successes)
}

func TestSuccessRateIsLaplaceSmoothed(t *testing.T) {
	strat := FixStrategy{Attempts: 1, Successes: 1}
	assert.InDelta(t, 2.0/3.0, strat.SuccessRate(), 1e-9)

	empty := FixStrategy{}
	assert.InDelta(t, 0.5, empty.SuccessRate(), 1e-9)
}

func TestTopStrategiesRanksByScoreDescending(t *testing.T) {
	s := New()
	s.RecordHealingAttempt("sig1", "weak", true, true, false)
	for i := 0; i < 10; i++ {
		s.RecordHealingAttempt("sig1", "strong", true, true, false)
	}

	top := s.TopStrategies("sig1", 2)
	require.Len(t, top, 2)
	assert.Equal(t, "strong", top[0].StrategyKind)
}

func TestTopStrategiesRespectsK(t *testing.T) {
	s := New()
	s.RecordHealingAttempt("sig1", "a", true, true, false)
	s.RecordHealingAttempt("sig1", "b", true, true, false)
	s.RecordHealingAttempt("sig1", "c", true, true, false)

	top := s.TopStrategies("sig1", 2)
	assert.Len(t, top, 2)
}

func TestPredictReliabilityReturnsNeutralPriorForUnknownDomain(t *testing.T) {
	s := New()
	assert.Equal(t, 0.5, s.PredictReliability("unknown-domain"))
}

func TestPredictReliabilityAveragesDomainStrategies(t *testing.T) {
	s := New()
	s.RecordError("infra:timeout:a.go", recipes.ClassTimeout)
	s.RecordHealingAttempt("infra:timeout:a.go", "retry", true, true, false)

	reliability := s.PredictReliability("infra")
	assert.Greater(t, reliability, 0.5)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	s := New()
	s.RecordError("sig1", recipes.ClassTimeout)
	s.RecordHealingAttempt("sig1", "retry", true, true, false)

	snap := s.Snapshot()
	require.Len(t, snap.Patterns, 1)
	require.Len(t, snap.Strategies, 1)

	restored := New()
	restored.Restore(snap)

	got, ok := restored.Pattern("sig1")
	require.True(t, ok)
	assert.Equal(t, 1, got.Occurrences)

	top := restored.TopStrategies("sig1", 1)
	require.Len(t, top, 1)
	assert.Equal(t, 1, top[0].Attempts)
}

func TestConfidenceBandThresholds(t *testing.T) {
	assert.Equal(t, "high", FixStrategy{Attempts: 20, Successes: 20}.ConfidenceBand())
	assert.Equal(t, "low", FixStrategy{Attempts: 20, Successes: 0}.ConfidenceBand())
}

func TestRecencyWeightDecaysOverTime(t *testing.T) {
	now := time.Now()
	fresh := recencyWeight(now.Add(-time.Minute), now)
	old := recencyWeight(now.Add(-30*24*time.Hour), now)
	assert.Greater(t, fresh, old)
}
