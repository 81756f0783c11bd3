// Package sandbox runs a code artifact plus a verification driver under
// bounded resources and reports pass/fail without letting any mutating
// effect escape the sandbox boundary (spec §4.H). The core depends only
// on the Executor capability; which backend actually isolates the run is
// a deployment choice.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Limits bounds a single sandboxed run.
type Limits struct {
	WallClock time.Duration
	MemoryMB  int64
	CPUs      float64 // fractional CPU ceiling, e.g. 0.5 == half a core
}

// DefaultLimits is a conservative ceiling suitable for a single fix
// verification run.
var DefaultLimits = Limits{
	WallClock: 30 * time.Second,
	MemoryMB:  256,
	CPUs:      1,
}

// Artifact is the code under test: a working directory containing the
// original files with the candidate patch already applied, plus the
// command that exercises the verification driver (e.g. a test runner).
type Artifact struct {
	WorkDir string
	// ReadOnlyInputs are additional paths mounted read-only alongside
	// WorkDir (e.g. a shared fixtures directory); the Docker backend
	// bind-mounts them ro, the local backend simply trusts the caller
	// not to write to them.
	ReadOnlyInputs []string
	Command        []string
}

// VerificationPredicate decides pass/fail from a completed Result. The
// default (ExitZero) only looks at the exit status; callers needing
// stdout/stderr inspection (e.g. "no new typecheck errors") supply their
// own.
type VerificationPredicate func(Result) bool

// ExitZero is the verification predicate for "tests exit 0".
func ExitZero(r Result) bool { return r.ExitStatus == 0 }

// ResourceUsage reports what the run actually consumed, best-effort —
// backends that cannot measure a field leave it zero.
type ResourceUsage struct {
	Wall     time.Duration
	UserTime time.Duration
	SysTime  time.Duration
}

// Result is the outcome of one sandboxed run.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	Usage      ResourceUsage
	Passed     bool
	TimedOut   bool
}

// ErrSandboxBlocked is returned when the run could not even start (e.g.
// backend unavailable), distinct from the artifact itself failing
// verification.
var ErrSandboxBlocked = errors.New("sandbox: run blocked before verification")

// Executor runs an Artifact under Limits and verifies it with predicate.
// Implementations must guarantee that nothing the artifact does is
// observable or persistent outside the sandbox boundary once Run
// returns.
type Executor interface {
	Run(ctx context.Context, a Artifact, limits Limits, predicate VerificationPredicate) (Result, error)
}

// LocalExecutor runs the artifact as a plain subprocess, bounded only by a
// wall-clock context timeout; Limits.MemoryMB and Limits.CPUs are not
// applied by this backend. It does not
// provide filesystem isolation beyond running with a. WorkDir as the
// process's working directory: callers that need genuine isolation
// should use DockerExecutor instead.
type LocalExecutor struct{}

// NewLocalExecutor constructs a LocalExecutor.
func NewLocalExecutor() *LocalExecutor { return &LocalExecutor{} }

// Run implements Executor.
func (e *LocalExecutor) Run(ctx context.Context, a Artifact, limits Limits, predicate VerificationPredicate) (Result, error) {
	if len(a.Command) == 0 {
		return Result{}, fmt.Errorf("sandbox: %w: empty command", ErrSandboxBlocked)
	}
	if limits.WallClock <= 0 {
		limits.WallClock = DefaultLimits.WallClock
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.WallClock)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.Command[0], a.Command[1:]...)
	cmd.Dir = a.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	wall := time.Since(start)

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Usage:  ResourceUsage{Wall: wall},
	}
	if ps := cmd.ProcessState; ps != nil {
		res.ExitStatus = ps.ExitCode()
		res.Usage.UserTime = ps.UserTime()
		res.Usage.SysTime = ps.SystemTime()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitStatus = -1
	} else if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("sandbox: start %v: %w", a.Command, err)
		}
	}

	if predicate == nil {
		predicate = ExitZero
	}
	res.Passed = !res.TimedOut && predicate(res)
	return res, nil
}
