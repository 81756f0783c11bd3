package healer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
)

type fakePublisher struct {
	mu     sync.Mutex
	seq    uint64
	events []audit.Event
}

func (f *fakePublisher) Publish(ctx context.Context, e audit.Event) (mesh.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.events = append(f.events, e)
	return mesh.DispatchResult{Sequence: f.seq}, nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakePublisher) last() audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

func TestParseLineExtractsFields(t *testing.T) {
	rec, ok := parseLine(`level=ERROR msg="unexpected token" file=runner.go line=42 class=incorrect_await`)
	require.True(t, ok)
	assert.Equal(t, "incorrect_await", rec.ErrorClass)
	assert.Equal(t, "runner.go", rec.File)
	assert.Equal(t, 42, rec.Line)
	assert.Equal(t, "unexpected token", rec.Message)
}

func TestParseLineIgnoresNonErrorLines(t *testing.T) {
	_, ok := parseLine(`level=INFO msg="all good"`)
	assert.False(t, ok)
}

func TestScanOncePublishesErrorDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(
		`level=ERROR msg="boom" file=x.go line=10 class=incorrect_await`+"\n"), 0o600))

	pub := &fakePublisher{}
	h, err := New(pub, time.Minute, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.ScanOnce(context.Background(), path))
	// each non-suppressed record yields two entries: the raw log record
	// (spec §4.F's correlation-id anchor) followed by error.detected.
	assert.Equal(t, 2, pub.count())
	last := pub.last()
	assert.Equal(t, audit.EventErrorDetected, last.Type)
	assert.Equal(t, "healer-log-1", last.CorrelationID)
}

func TestScanOnceDeduplicatesWithinQuietPeriod(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	line := `level=ERROR msg="boom" file=x.go line=10 class=incorrect_await` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line+line), 0o600))

	pub := &fakePublisher{}
	h, err := New(pub, time.Hour, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.ScanOnce(context.Background(), path))
	assert.Equal(t, 2, pub.count()) // one record survives dedupe, as its raw+detected pair
}

func TestScanOnceOnlyReadsNewBytesOnSubsequentCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(
		`level=ERROR msg="boom" file=x.go line=10 class=incorrect_await`+"\n"), 0o600))

	pub := &fakePublisher{}
	h, err := New(pub, time.Hour, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.ScanOnce(context.Background(), path))
	require.NoError(t, h.ScanOnce(context.Background(), path))
	assert.Equal(t, 2, pub.count())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`level=ERROR msg="boom2" file=y.go line=20 class=timeout` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, h.ScanOnce(context.Background(), path))
	assert.Equal(t, 4, pub.count())
}
