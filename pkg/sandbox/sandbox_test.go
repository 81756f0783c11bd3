package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutorPassesOnExitZero(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Run(context.Background(), Artifact{
		WorkDir: t.TempDir(),
		Command: []string{"true"},
	}, DefaultLimits, ExitZero)

	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.ExitStatus)
}

func TestLocalExecutorFailsOnNonZeroExit(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Run(context.Background(), Artifact{
		WorkDir: t.TempDir(),
		Command: []string{"false"},
	}, DefaultLimits, ExitZero)

	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.NotEqual(t, 0, res.ExitStatus)
}

func TestLocalExecutorReportsTimeoutAsNotPassed(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Run(context.Background(), Artifact{
		WorkDir: t.TempDir(),
		Command: []string{"sleep", "5"},
	}, Limits{WallClock: 50 * time.Millisecond}, ExitZero)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Passed)
}

func TestLocalExecutorRejectsEmptyCommand(t *testing.T) {
	e := NewLocalExecutor()
	_, err := e.Run(context.Background(), Artifact{WorkDir: t.TempDir()}, DefaultLimits, ExitZero)
	require.ErrorIs(t, err, ErrSandboxBlocked)
}

func TestLocalExecutorCapturesStdout(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Run(context.Background(), Artifact{
		WorkDir: t.TempDir(),
		Command: []string{"echo", "healed"},
	}, DefaultLimits, ExitZero)

	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "healed")
}

func TestCustomPredicateOverridesExitZero(t *testing.T) {
	e := NewLocalExecutor()
	alwaysPass := func(Result) bool { return true }

	res, err := e.Run(context.Background(), Artifact{
		WorkDir: t.TempDir(),
		Command: []string{"false"},
	}, DefaultLimits, alwaysPass)

	require.NoError(t, err)
	assert.True(t, res.Passed)
}
