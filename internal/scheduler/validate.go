package scheduler

import (
	"context"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/isolation"
)

// validate runs the five atomic pre-flight checks (§4.E "Validation")
// plus baseline capture, in the order the spec lists them, so every
// rejection reason is reported deterministically regardless of which
// other checks would also have failed. Returns the resolved agent and
// captured baseline on success, or a non-nil error naming the first
// failing check.
func (s *Scheduler) validate(ctx context.Context, batch core.TaskBatch) (*core.AgentDefinition, core.Baseline, error) {
	agent, err := s.Registry.Get(batch.Agent)
	if err != nil {
		return nil, core.Baseline{}, err
	}

	if s.SelfAgentName != "" && batch.Agent == s.SelfAgentName {
		return nil, core.Baseline{}, core.ErrValidation(core.CodeSelfRecursion,
			"refusing to schedule a batch targeting the currently running agent: "+batch.Agent)
	}

	if !s.ParentSpawns.Allows(batch.Agent) {
		return nil, core.Baseline{}, core.ErrValidation(core.CodeSpawnDenied,
			"agent "+batch.Agent+" is not permitted by the issuing agent's spawn policy")
	}

	if err := core.ValidateTasks(batch.Tasks); err != nil {
		return nil, core.Baseline{}, err
	}

	if batch.Isolated && s.Worktree == nil {
		return nil, core.Baseline{}, core.ErrValidation(core.CodeIsolationMismatch,
			"batch requested isolation but no worktree/overlay manager is configured")
	}

	var baseline core.Baseline
	if batch.Isolated {
		if s.Git == nil {
			return nil, core.Baseline{}, core.ErrBaseline(core.CodeNotGitRepo,
				"batch requested isolation but the parent workspace is not a git repository")
		}
		baseline, err = isolation.CaptureBaseline(ctx, s.Git)
		if err != nil {
			return nil, core.Baseline{}, err
		}
	}

	return agent, baseline, nil
}
