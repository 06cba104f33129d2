package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

const (
	stepResultOK      = "ok"
	stepResultFailed  = "failed"
	stepResultSkipped = "skipped"
)

// step is one provisioning action. A failed required step aborts the run;
// a failed best-effort step is logged and the run continues.
type step struct {
	name     string
	required bool
	run      func(ctx context.Context, st *deployState) error
}

// deployState is threaded through the steps of one Deploy call.
type deployState struct {
	req       DeployRequest
	serviceID string
	endpoint  string
}

type stepRunner struct {
	recorder StepRecorder
}

// run executes steps in order and returns one log line per step.
func (r stepRunner) run(ctx context.Context, steps []step, st *deployState) ([]string, error) {
	logs := make([]string, 0, len(steps))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return logs, fmt.Errorf("%w: %s: %w", domain.ErrProvisioning, s.name, err)
		}

		err := s.run(ctx, st)
		if err == nil {
			r.recorder.GatewayStep(s.name, stepResultOK)
			logs = append(logs, s.name+": ok")
			continue
		}

		if s.required {
			r.recorder.GatewayStep(s.name, stepResultFailed)
			slog.Error("provisioning step failed",
				"step", s.name,
				"agent_id", st.req.AgentID,
				"error", err,
			)
			return logs, fmt.Errorf("%w: %s: %w", domain.ErrProvisioning, s.name, err)
		}

		r.recorder.GatewayStep(s.name, stepResultSkipped)
		slog.Warn("provisioning step failed, continuing",
			"step", s.name,
			"agent_id", st.req.AgentID,
			"error", err,
		)
		logs = append(logs, fmt.Sprintf("%s: failed (continuing): %v", s.name, err))
	}
	return logs, nil
}
