package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeWithNoFileReturnsDefaults(t *testing.T) {
	ctx := context.Background()
	cfg, err := Initialize(ctx, t.TempDir())

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, ":8443", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Autonomy.DefaultTier)
	assert.Equal(t, "local", cfg.Sandbox.Backend)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentMissions)
}

func TestInitializeMergesUserOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "grace.yaml", `
server:
  addr: ":9000"
autonomy:
  default_tier: 3
sandbox:
  backend: docker
  docker_image: "gracecore/sandbox:latest"
scheduler:
  max_concurrent_missions: 8
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Autonomy.DefaultTier)
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, "gracecore/sandbox:latest", cfg.Sandbox.DockerImage)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrentMissions)
	// Unset sections still carry their built-in defaults.
	assert.Equal(t, 90, cfg.Retention.AuditRetentionDays)
}

func TestInitializeExpandsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GRACE_SLACK_CHANNEL", "#incidents")
	writeFile(t, dir, "grace.yaml", `
diagnostics:
  enabled: true
  channel: "${GRACE_SLACK_CHANNEL}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "#incidents", cfg.Diagnostics.Channel)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "grace.yaml", "server: [this is not valid")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeRejectsDockerBackendWithoutImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "grace.yaml", `
sandbox:
  backend: docker
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker_image")
}

func TestInitializeWithMissingDirectoryUsesDefaults(t *testing.T) {
	_, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "does-not-exist-nested", "still-missing"))
	// A missing directory (as opposed to a missing file within an existing
	// directory) still surfaces as os.IsNotExist, so this resolves to
	// defaults rather than an error — assert that invariant explicitly.
	require.NoError(t, err)
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}
