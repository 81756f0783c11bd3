package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(defaultConfig()))
}

func TestValidateRejectsOutOfRangeAutonomyTier(t *testing.T) {
	cfg := defaultConfig()
	cfg.Autonomy.DefaultTier = 9
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autonomy")
}

func TestValidateRejectsInvertedSchedulerWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.Scheduler.SteadyIntervalMin = 5 * time.Minute
	cfg.Scheduler.SteadyIntervalMax = 1 * time.Minute
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steady_interval_min")
}

func TestValidateRejectsDiagnosticsEnabledWithoutChannel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Diagnostics.Enabled = true
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel")
}

func TestValidateRejectsUnknownMeshOverflowPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mesh.DefaultOverflow = "explode"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_overflow")
}
