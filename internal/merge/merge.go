// Package merge implements the Merge & Reconciliation component (§4.F):
// once every worker in a batch has returned, it applies their captured
// deltas to the parent workspace as a single atomic update, in either
// patch mode or branch mode depending on how the batch's worktrees were
// configured.
package merge

import (
	"context"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/isolation"
	"github.com/theerud/taskcore/internal/logging"
	"github.com/theerud/taskcore/internal/scheduler"
)

var _ scheduler.Reconciler = (*Merger)(nil)

// Merger reconciles a settled batch against the parent workspace. One
// Merger is bound to one parent repository.
type Merger struct {
	git    *isolation.GitClient
	mode   core.IsolationMode
	msgGen CommitMessageGenerator
	logger *logging.Logger
}

// New builds a Merger. msgGen may be nil, in which case branch-mode
// commits always fall back to the default task(<id>): <description>
// message.
func New(git *isolation.GitClient, mode core.IsolationMode, msgGen CommitMessageGenerator, logger *logging.Logger) *Merger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Merger{git: git, mode: mode, msgGen: msgGen, logger: logger}
}

// Reconcile applies tasks' deltas to the parent workspace per §4.F and
// reports whether the parent workspace now contains every intended
// change. It never modifies the baseline commit itself (invariant 1)
// and never attempts nested-repo application in the outer repo
// (invariant 2).
func (m *Merger) Reconcile(ctx context.Context, baseline core.Baseline, tasks []core.TaskItem, results []core.SingleResult) (bool, string, error) {
	if m.git == nil {
		return true, "no isolation configured, nothing to merge", nil
	}

	switch m.mode {
	case core.IsolationModeBranch:
		return m.reconcileBranch(ctx, baseline, tasks, results)
	default:
		return m.reconcilePatch(ctx, tasks, results)
	}
}
