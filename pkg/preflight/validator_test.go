package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunPassesValidGoArtifact(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "ok.go", "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hi\") }\n")

	v := New([]string{"fmt"}, &policy.Guardrails{}, nil, nil)
	reports, err := v.Run(context.Background(), []Artifact{{Path: path, Language: "go"}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)
}

func TestRunFailsUnparsableGoArtifact(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "bad.go", "package main\n\nfunc main( {\n")

	v := New(nil, nil, nil, nil)
	reports, err := v.Run(context.Background(), []Artifact{{Path: path, Language: "go"}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Passed)
}

func TestRunAbortsOnCriticalArtifactFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "bad.go", "package main\n\nfunc main( {\n")

	v := New(nil, nil, nil, nil)
	_, err := v.Run(context.Background(), []Artifact{{Path: path, Language: "go", Critical: true}})
	require.Error(t, err)
	var critErr *ErrCriticalArtifactFailed
	require.ErrorAs(t, err, &critErr)
}

func TestRunContinuesPastNonCriticalFailure(t *testing.T) {
	dir := t.TempDir()
	bad := writeArtifact(t, dir, "bad.go", "package main\n\nfunc main( {\n")
	good := writeArtifact(t, dir, "ok.go", "package main\n\nfunc main() {}\n")

	v := New(nil, nil, nil, nil)
	reports, err := v.Run(context.Background(), []Artifact{
		{Path: bad, Language: "go"},
		{Path: good, Language: "go"},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.False(t, reports[0].Passed)
	assert.True(t, reports[1].Passed)
}

func TestRunRejectsImportNotInManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "ok.go", "package main\n\nimport \"github.com/unknown/pkg\"\n\nfunc main() {}\n")

	v := New([]string{"fmt"}, &policy.Guardrails{}, nil, nil)
	reports, err := v.Run(context.Background(), []Artifact{{Path: path, Language: "go"}})
	require.NoError(t, err)
	assert.False(t, reports[0].Passed)
}

func TestRunRejectsHardcodedSecretMarker(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "secret.go", "package main\n\nconst password = \"supersecretvalue\"\n")

	v := New(nil, nil, nil, nil)
	reports, err := v.Run(context.Background(), []Artifact{{Path: path, Language: "go"}})
	require.NoError(t, err)
	assert.False(t, reports[0].Passed)
}

func TestRunRejectsGuardrailsForbiddenPattern(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "risky.go", "package main\n\nfunc main() { os.RemoveAll(\"/\") }\n")

	g := &policy.Guardrails{}
	g.CodeGeneration.ForbiddenPatterns = []string{`os\.RemoveAll`}
	v := New(nil, g, nil, nil)
	reports, err := v.Run(context.Background(), []Artifact{{Path: path, Language: "go"}})
	require.NoError(t, err)
	assert.False(t, reports[0].Passed)
}
