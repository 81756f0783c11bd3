package diagnostics

import (
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFatalMessageIncludesKindAndCorrelationID(t *testing.T) {
	blocks := BuildFatalMessage(FatalEvent{
		Kind:          "ChainBroken",
		Component:     "audit",
		Message:       "verify_chain found a break at sequence 42",
		CorrelationID: "corr-123",
	})
	require.Len(t, blocks, 2)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, "ChainBroken")

	body, ok := blocks[1].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, body.Text.Text, "corr-123")
	assert.Contains(t, body.Text.Text, "audit")
}

func TestTruncateLeavesShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))
}

func TestTruncateShortensLongText(t *testing.T) {
	long := strings.Repeat("a", maxBlockTextLength+500)
	out := truncate(long)
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "truncated")
}
