package scheduler

import (
	"context"

	"github.com/theerud/taskcore/internal/core"
)

// Reconciler applies a settled batch's deltas to the parent workspace
// (§4.F). The scheduler depends on this narrow interface rather than
// importing the merge package directly, so the two packages can be
// built and tested independently of each other.
type Reconciler interface {
	// Reconcile applies every task's delta against baseline. tasks is
	// the batch's original input, in the same order as results, so a
	// commit-message generator can see each task's description.
	// Reconcile returns whether the parent workspace now contains
	// every intended change (applied) and a human-readable summary
	// line folded into the batch summary text. It never mutates
	// results; the scheduler owns result bookkeeping.
	Reconcile(ctx context.Context, baseline core.Baseline, tasks []core.TaskItem, results []core.SingleResult) (applied bool, summary string, err error)
}
