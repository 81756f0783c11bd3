package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToBuiltinWhenFilesAbsent(t *testing.T) {
	docs, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "builtin-1", docs.Constitution.Version)
	assert.Contains(t, docs.Constitution.ActionCatalog.NeverAllowed, "read_credentials")
}

func TestLoadMergesUserOverrideOverBuiltin(t *testing.T) {
	dir := t.TempDir()
	override := `
version: "custom-1"
action_catalog:
  never_allowed:
    - "drop_database"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "constitution.yaml"), []byte(override), 0o644))

	docs, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "custom-1", docs.Constitution.Version)
	assert.Contains(t, docs.Constitution.ActionCatalog.NeverAllowed, "drop_database")
	assert.Contains(t, docs.Constitution.ActionCatalog.NeverAllowed, "read_credentials")
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("GRACE_TEST_TIER_DESC", "env-expanded")
	dir := t.TempDir()
	override := `
version: "env-1"
tier_definitions:
  - tier: 3
    description: "${GRACE_TEST_TIER_DESC}"
    auto_apply_threshold: 0.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "constitution.yaml"), []byte(override), 0o644))

	docs, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.5, docs.Constitution.ThresholdForTier(TierAutonomous))
	defs := docs.Constitution.TierDefinitions
	assert.Equal(t, "env-expanded", defs[len(defs)-1].Description)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guardrails.yaml"), []byte("not: [valid"), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}
