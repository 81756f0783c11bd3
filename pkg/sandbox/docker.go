package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DockerExecutor runs the artifact inside a throwaway container, bind
// mounting WorkDir read-write and every ReadOnlyInputs entry read-only,
// and enforcing memory/CPU ceilings via the container's resource
// limits. The container is always removed on return, regardless of
// outcome, so no mutating effect the artifact performs outside its bind
// mounts survives the run.
type DockerExecutor struct {
	// Image is the container image the command runs in, e.g. a language
	// toolchain image. The sandbox does not prescribe or bundle one
	// (spec §4.H non-goal: "language-toolchain sandboxes").
	Image string
}

// NewDockerExecutor constructs a DockerExecutor backed by image.
func NewDockerExecutor(image string) *DockerExecutor {
	return &DockerExecutor{Image: image}
}

// Run implements Executor.
func (e *DockerExecutor) Run(ctx context.Context, a Artifact, limits Limits, predicate VerificationPredicate) (Result, error) {
	if len(a.Command) == 0 {
		return Result{}, fmt.Errorf("sandbox: %w: empty command", ErrSandboxBlocked)
	}
	if limits.WallClock <= 0 {
		limits.WallClock = DefaultLimits.WallClock
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.WallClock)
	defer cancel()

	mounts := []testcontainers.ContainerMount{
		{
			Source: testcontainers.GenericBindMountSource{HostPath: a.WorkDir},
			Target: "/workspace",
		},
	}
	for i, ro := range a.ReadOnlyInputs {
		mounts = append(mounts, testcontainers.ContainerMount{
			Source:   testcontainers.GenericBindMountSource{HostPath: ro},
			Target:   testcontainers.ContainerMountTarget(fmt.Sprintf("/inputs/%d", i)),
			ReadOnly: true,
		})
	}

	memBytes := limits.MemoryMB * 1024 * 1024
	nanoCPUs := int64(limits.CPUs * 1e9)

	req := testcontainers.ContainerRequest{
		Image:      e.Image,
		Cmd:        a.Command,
		WorkingDir: "/workspace",
		Mounts:     mounts,
		WaitingFor: wait.ForExit().WithExitTimeout(limits.WallClock),
		HostConfigModifier: func(hc *container.HostConfig) {
			if memBytes > 0 {
				hc.Resources.Memory = memBytes
			}
			if nanoCPUs > 0 {
				hc.Resources.NanoCPUs = nanoCPUs
			}
			hc.AutoRemove = false // removed explicitly below so we can still read logs/state
		},
	}

	start := time.Now()
	c, err := testcontainers.GenericContainer(runCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: %w: start container: %v", ErrSandboxBlocked, err)
	}
	defer func() { _ = c.Terminate(context.Background()) }()

	state, waitErr := c.State(runCtx)
	wall := time.Since(start)

	res := Result{Usage: ResourceUsage{Wall: wall}}
	if runCtx.Err() != nil {
		res.TimedOut = true
		res.ExitStatus = -1
	} else if waitErr != nil {
		return res, fmt.Errorf("sandbox: inspect container: %w", waitErr)
	} else {
		res.ExitStatus = state.ExitCode
	}

	if logs, logErr := c.Logs(context.Background()); logErr == nil {
		defer logs.Close()
		var out, errBuf strings.Builder
		scanner := bufio.NewScanner(logs)
		for scanner.Scan() {
			out.WriteString(scanner.Text())
			out.WriteByte('\n')
		}
		res.Stdout = out.String()
		res.Stderr = errBuf.String()
	}

	if predicate == nil {
		predicate = ExitZero
	}
	res.Passed = !res.TimedOut && predicate(res)
	return res, nil
}
