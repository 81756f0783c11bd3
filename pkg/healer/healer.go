// Package healer tails configured log files as they are written, extracts and
// classifies error records, and publishes error.detected events to the
// Trigger Mesh for the Fix Proposer to act on (spec §4.F).
package healer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
)

// Record is a normalized error extracted from a log line.
type Record struct {
	ErrorClass string
	File       string
	Line       int
	Message    string
	Stack      string
}

// levelPattern identifies a structured error log line of the shape most
// slog-based loggers emit, with key=value pairs in any order:
// `level=ERROR msg="..." file=a.go line=42 class=incorrect_await`. Fields
// are extracted with fieldPattern rather than a single fixed-order
// regex, since key ordering is not guaranteed.
var (
	levelPattern = regexp.MustCompile(`(?i)level=error`)
	fieldPattern = regexp.MustCompile(`(\w+)=("(?:[^"\\]|\\.)*"|\S+)`)
)

// Publisher is the Trigger Mesh surface the healer needs.
type Publisher interface {
	Publish(ctx context.Context, e audit.Event) (mesh.DispatchResult, error)
}

// Healer tails a configured set of log files whenever fsnotify reports a
// write or create (Run), or on demand (ScanOnce), and emits error.detected
// events, deduplicating identical (class, file, line) records within a
// configurable quiet period. It has no scan interval of its own, and the
// Scheduler does not drive it.
type Healer struct {
	log       *slog.Logger
	publisher Publisher
	dedupe    time.Duration

	mu       sync.Mutex
	offsets  map[string]int64
	lastSeen map[string]time.Time

	watcher *fsnotify.Watcher
}

// New constructs a Healer. dedupe is the quiet period during which an
// identical (class, file, line) record is suppressed after its first
// occurrence.
func New(publisher Publisher, dedupe time.Duration, log *slog.Logger) (*Healer, error) {
	if log == nil {
		log = slog.Default()
	}
	if dedupe <= 0 {
		dedupe = 30 * time.Second
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("healer: create watcher: %w", err)
	}
	return &Healer{
		log:       log,
		publisher: publisher,
		dedupe:    dedupe,
		offsets:   make(map[string]int64),
		lastSeen:  make(map[string]time.Time),
		watcher:   w,
	}, nil
}

// Watch adds path to the set of tailed files.
func (h *Healer) Watch(path string) error {
	return h.watcher.Add(path)
}

// Close releases the underlying filesystem watcher.
func (h *Healer) Close() error { return h.watcher.Close() }

// Run blocks, scanning watched files for new error records as write
// events arrive, until ctx is cancelled.
func (h *Healer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := h.scan(ctx, ev.Name); err != nil {
				h.log.Error("healer: scan failed", "path", ev.Name, "error", err)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return nil
			}
			h.log.Error("healer: watcher error", "error", err)
		}
	}
}

// ScanOnce runs a single synchronous scan of path, useful for the
// Scheduler's boot-phase cadence or an on-demand trigger.
func (h *Healer) ScanOnce(ctx context.Context, path string) error {
	return h.scan(ctx, path)
}

func (h *Healer) scan(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("healer: open %s: %w", path, err)
	}
	defer f.Close()

	h.mu.Lock()
	offset := h.offsets[path]
	h.mu.Unlock()

	if _, err := f.Seek(offset, 0); err != nil {
		return fmt.Errorf("healer: seek %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	var read int64
	for scanner.Scan() {
		line := scanner.Text()
		read += int64(len(line)) + 1
		rec, ok := parseLine(line)
		if !ok {
			continue
		}
		h.handle(ctx, path, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("healer: scan %s: %w", path, err)
	}

	h.mu.Lock()
	h.offsets[path] = offset + read
	h.mu.Unlock()
	return nil
}

func parseLine(line string) (Record, bool) {
	if !levelPattern.MatchString(line) {
		return Record{}, false
	}
	rec := Record{}
	for _, m := range fieldPattern.FindAllStringSubmatch(line, -1) {
		key, value := m[1], strings.Trim(m[2], `"`)
		switch strings.ToLower(key) {
		case "class":
			rec.ErrorClass = value
		case "file":
			rec.File = value
		case "msg", "message":
			rec.Message = value
		case "line":
			fmt.Sscanf(value, "%d", &rec.Line)
		}
	}
	return rec, rec.ErrorClass != ""
}

// classify prefers the log line's own error_class tag when it already
// names a known classification, and falls back to recipes.Classify's
// message-pattern heuristics otherwise.
func classify(rec Record) recipes.Classification {
	switch recipes.Classification(rec.ErrorClass) {
	case recipes.ClassIncorrectAwait, recipes.ClassMissingAttribute, recipes.ClassSerialization,
		recipes.ClassImportError, recipes.ClassTimeout:
		return recipes.Classification(rec.ErrorClass)
	default:
		return recipes.Classify(fmt.Errorf("%s", rec.Message))
	}
}

func (h *Healer) handle(ctx context.Context, sourcePath string, rec Record) {
	key := fmt.Sprintf("%s|%s|%d", rec.ErrorClass, rec.File, rec.Line)

	h.mu.Lock()
	last, seen := h.lastSeen[key]
	suppressed := seen && time.Since(last) < h.dedupe
	if !suppressed {
		h.lastSeen[key] = time.Now()
	}
	h.mu.Unlock()

	if suppressed {
		return
	}

	if h.publisher == nil {
		return
	}

	classification := classify(rec)

	// The raw log line is never itself part of the audit log, so there is
	// no existing sequence to correlate against; record it first and use
	// the resulting entry's sequence as the correlation id for everything
	// downstream that reacts to this record (spec §4.F).
	raw := audit.Event{
		ID:       uuid.NewString(),
		Wall:     time.Now(),
		Type:     audit.EventLogRecordObserved,
		Source:   "healer",
		Resource: rec.File,
		Severity: audit.SeverityLow,
		Payload: map[string]any{
			"log_source": sourcePath,
			"message":    rec.Message,
			"line":       rec.Line,
		},
	}
	result, err := h.publisher.Publish(ctx, raw)
	if err != nil {
		h.log.Error("healer: failed to record raw log entry", "error", err)
		return
	}
	correlationID := fmt.Sprintf("healer-log-%d", result.Sequence)

	ev := audit.Event{
		ID:            uuid.NewString(),
		Wall:          time.Now(),
		Type:          audit.EventErrorDetected,
		Source:        "healer",
		Resource:      rec.File,
		Severity:      audit.SeverityHigh,
		CorrelationID: correlationID,
		Payload: map[string]any{
			"error_class":    rec.ErrorClass,
			"file":           rec.File,
			"line":           rec.Line,
			"message":        rec.Message,
			"classification": string(classification),
			"log_source":     sourcePath,
		},
	}

	if _, err := h.publisher.Publish(ctx, ev); err != nil {
		h.log.Error("healer: failed to publish error.detected", "error", err)
	}
}
