package core

import "time"

// Usage aggregates token and cost accounting for one task or a whole
// batch (§3, §6). CostUSD is populated from the model gateway's
// pricing table when available; it is left at zero if the gateway
// does not report cost.
type Usage struct {
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Add accumulates another Usage into the receiver, used when rolling
// per-task usage up into a BatchResult.
func (u *Usage) Add(other Usage) {
	u.TokensIn += other.TokensIn
	u.TokensOut += other.TokensOut
	u.CostUSD += other.CostUSD
}

// SingleResult is the outcome of one task once its worker has settled
// (§3). OutputPaths holds artifact-directory-relative paths surfaced to
// the caller through agent:// URLs (§6); StructuredOutput is the
// decoded submit_result payload when the agent definition declared an
// output schema.
type SingleResult struct {
	TaskID           string
	Agent            string
	Status           TaskStatus
	Summary          string
	StructuredOutput any
	OutputPaths      []string
	Usage            Usage
	ToolCount        int
	DurationMs       int64
	Error            string
	ErrorCategory    ErrorCategory
	Delta            *Delta
}

// BatchResult is the Scheduler's terminal output for one batch (§3):
// every task's SingleResult plus aggregated usage and a rendered
// human-readable summary (§6, batch summary text format).
type BatchResult struct {
	ArtifactID   string
	Agent        string
	Results      []SingleResult
	TotalUsage   Usage
	StartedAt    time.Time
	FinishedAt   time.Time
	Cancelled    bool
	Applied      bool   // true iff §4.F reconciled every intended change into the parent workspace
	MergeSummary string // human-readable merge outcome, folded into SummaryText
	SummaryText  string
	AsyncJobID   string // non-empty when this batch was dispatched in async mode
}

// Aggregate rolls per-task usage and status counts into the batch
// totals. Called once after every task has reached a terminal status.
func (b *BatchResult) Aggregate() {
	var total Usage
	for _, r := range b.Results {
		total.Add(r.Usage)
	}
	b.TotalUsage = total
}

// CountByStatus tallies results per TaskStatus, used when rendering the
// batch summary text (§6).
func (b *BatchResult) CountByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, r := range b.Results {
		counts[r.Status]++
	}
	return counts
}

// ExitCode maps the batch outcome to the process exit codes in §6: 0
// when every task completed, 1 when at least one task failed or the
// batch was cancelled, 2 when the batch was rejected before any task
// ran (validation failure, handled by the caller before a BatchResult
// even exists).
func (b *BatchResult) ExitCode() int {
	if b.Cancelled {
		return 1
	}
	for _, r := range b.Results {
		if r.Status == TaskStatusFailed || r.Status == TaskStatusAborted {
			return 1
		}
	}
	return 0
}
