package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/grace-core/pkg/kernel"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
)

// phaseKernel maps each Mission phase (spec §3, MissionPhases) onto the
// Domain Kernel Gateway orchestrator best suited to drive it: research
// pulls recall/ranking from the Learning Store, design and deploy route
// through the governance and infrastructure kernels, implement drives
// the Fix Proposer/Sandbox, and test verifies the result and the chain.
var phaseKernel = map[string]kernel.Name{
	"research":  kernel.Intelligence,
	"design":    kernel.Governance,
	"implement": kernel.Code,
	"test":      kernel.Verification,
	"deploy":    kernel.Infrastructure,
}

// newMissionRunner builds the scheduler.MissionRunner that drives every
// admitted Mission phase-by-phase through the Domain Kernel Gateway
// (spec §4.J: "missions are driven through the Domain Kernel Gateway"),
// recording one PhaseArtifact per completed phase. Each phase invocation
// gets an explicit deadline (spec §5); a phase that times out or errors
// gets up to maxRetries auto-recovery attempts before the mission fails
// outright (spec §4.L).
func newMissionRunner(gw *kernel.Gateway, phaseTimeout time.Duration, maxRetries int) scheduler.MissionRunner {
	return func(ctx context.Context, m *scheduler.Mission) error {
		for i, phase := range scheduler.MissionPhases {
			m.CurrentPhase = i
			name, ok := phaseKernel[phase]
			if !ok {
				continue
			}

			var resp kernel.Response
			var err error
			for attempt := 0; ; attempt++ {
				resp, err = invokePhase(ctx, gw, name, phase, m, phaseTimeout)
				if err == nil || attempt >= maxRetries {
					break
				}
			}
			if err != nil {
				return fmt.Errorf("mission %s: phase %q: %w", m.ID, phase, err)
			}

			m.Artifacts = append(m.Artifacts, scheduler.PhaseArtifact{
				Phase:     phase,
				CreatorID: string(name),
				Data:      map[string]any{"answer": resp.Answer},
			})
		}
		return nil
	}
}

func invokePhase(ctx context.Context, gw *kernel.Gateway, name kernel.Name, phase string, m *scheduler.Mission, timeout time.Duration) (kernel.Response, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := gw.Invoke(phaseCtx, name, kernel.Request{
		Intent: phase,
		Context: map[string]any{
			"correlation_id": m.CorrelationID,
			"resource":       m.TaskStatement,
		},
	})
	if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
		return resp, fmt.Errorf("phase timed out after %s: %w", timeout, phaseCtx.Err())
	}
	return resp, err
}
