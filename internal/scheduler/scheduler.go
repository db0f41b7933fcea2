// Package scheduler implements the Task Scheduler (§4.E): validating a
// batch, fanning its tasks out to bounded concurrent workers, and
// handing the settled deltas to a Reconciler for merge (§4.F).
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/executor"
	"github.com/theerud/taskcore/internal/isolation"
	"github.com/theerud/taskcore/internal/logging"
)

const skippedBeforeStart = "Skipped (cancelled before start)"

// Scheduler owns one run-loop's worth of collaborators. It is built
// once per process (or per run) and is safe for concurrent Execute
// calls: all per-batch state lives on the stack of one Execute
// invocation, never on the Scheduler itself.
type Scheduler struct {
	Registry core.AgentRegistryPort
	Git      *isolation.GitClient // nil when the parent workspace isn't a git repo
	Worktree core.WorktreeManager // nil disables isolation entirely
	Gateway  core.ModelGateway
	Tools    core.ToolRuntime
	Renderer core.PromptRenderer
	Exec     *executor.Executor
	Merger   Reconciler
	Async    *AsyncJobManager
	// Sessions persists the per-batch session artifact directory (§6);
	// nil disables artifact persistence entirely (agent:// URLs are
	// still emitted but never resolve).
	Sessions core.SessionStore

	// ToolSpecs is the static catalog of tools surfaced to every agent,
	// narrowed per-agent by AgentDefinition.AllowsTool.
	ToolSpecs []core.ToolSpec

	// SelfAgentName, when non-empty, is the agent name the current
	// process is itself running as; batches targeting it are rejected
	// as self-recursion (§4.E validation 2, §9 "ad-hoc recursion guard
	// via env var" replaced with an explicit configuration field).
	SelfAgentName string
	// ParentSpawns is the spawn policy of the agent issuing this batch;
	// nil/zero value denies everything, matching AgentDefinition.Spawns'
	// zero value.
	ParentSpawns core.SpawnPolicy

	MaxConcurrency int

	Logger *logging.Logger
}

// New builds a Scheduler with the given collaborators. Any zero-value
// field is acceptable except Registry, Gateway, Tools, Renderer, and
// Exec, which every batch needs; MaxConcurrency falls back to
// defaultMaxConcurrency when left at zero.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{Logger: logger}
}

func (s *Scheduler) maxConcurrency() int {
	if s.MaxConcurrency > 0 {
		return s.MaxConcurrency
	}
	return defaultMaxConcurrency()
}

// Execute runs batch to completion (or until cancel fires), returning a
// BatchResult that the caller renders as tool content. It never returns
// an error across this boundary: catastrophic internal faults are
// caught and rendered into the result itself (§7).
//
// When async is true and the target agent is non-blocking, Execute
// registers every task as a background job and returns immediately;
// the batch continues settling on its own goroutines, reporting
// through onProgress and through the AsyncJobManager tally.
func (s *Scheduler) Execute(ctx context.Context, batch core.TaskBatch, async bool, cancel *control.Token, onProgress func([]core.ProgressRecord)) (result core.BatchResult) {
	result.StartedAt = time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("scheduler caught a catastrophic fault", "panic", r)
			result = core.BatchResult{
				StartedAt:   result.StartedAt,
				FinishedAt:  time.Now(),
				SummaryText: fmt.Sprintf("Task execution failed: %v", r),
			}
		}
	}()

	agent, baseline, rejection := s.validate(ctx, batch)
	if rejection != nil {
		result.FinishedAt = time.Now()
		result.SummaryText = rejection.Error()
		return result
	}

	progress := make([]*core.ProgressRecord, len(batch.Tasks))
	for i, t := range batch.Tasks {
		progress[i] = core.NewProgressRecord(i, t.ID, agent.Name, t.Task, t.Description)
	}
	emit := func() {
		if onProgress == nil {
			return
		}
		snaps := make([]core.ProgressRecord, len(progress))
		for i, p := range progress {
			snaps[i] = p.Snapshot()
		}
		onProgress(snaps)
	}

	batchID := newArtifactID(batch.Agent)
	results := make([]core.SingleResult, len(batch.Tasks))
	toolSpecs := toolSpecsFor(agent, s.ToolSpecs)

	if s.Sessions != nil && strings.TrimSpace(batch.Context) != "" {
		if _, err := s.Sessions.WriteArtifact(batchID, "context.md", []byte(batch.Context)); err != nil {
			s.Logger.Warn("writing session context artifact", "batch_id", batchID, "error", err)
		}
	}

	if async && !agent.Blocking && s.Async != nil {
		for _, t := range batch.Tasks {
			jobID := asyncJobID(batchID, t.ID)
			if err := s.Async.Register(ctx, jobID, batchID, t.ID, agent.Name); err != nil {
				s.Logger.Warn("registering async job failed", "task_id", t.ID, "error", err)
			}
		}
		go s.run(ctx, batch, agent, baseline, progress, results, cancel, toolSpecs, emit, batchID)

		result.ArtifactID = batchID
		result.Agent = agent.Name
		result.AsyncJobID = batchID
		result.FinishedAt = time.Now()
		result.SummaryText = fmt.Sprintf("Started %d background tasks", len(batch.Tasks))
		return result
	}

	s.run(ctx, batch, agent, baseline, progress, results, cancel, toolSpecs, emit, batchID)

	result.ArtifactID = batchID
	result.Agent = agent.Name
	result.Results = results
	result.Cancelled = cancel.IsCancelled()
	result.Aggregate()
	result.FinishedAt = time.Now()

	if s.Merger != nil {
		applied, mergeSummary, err := s.Merger.Reconcile(ctx, baseline, batch.Tasks, results)
		if err != nil {
			s.Logger.Error("merge reconciliation failed", "error", err)
			result.MergeSummary = err.Error()
		} else {
			result.Applied = applied
			result.MergeSummary = mergeSummary
		}
	}

	if s.Sessions != nil && result.Applied {
		if err := s.Sessions.RemoveArtifactDir(batchID); err != nil {
			s.Logger.Warn("removing settled session artifact dir", "batch_id", batchID, "error", err)
		}
	}

	result.SummaryText = renderSummary(result)
	return result
}

// run fans batch's tasks out to bounded concurrent workers and writes
// each task's SingleResult into results at its input index, preserving
// order regardless of finish order (§5 ordering guarantee 2).
func (s *Scheduler) run(
	ctx context.Context,
	batch core.TaskBatch,
	agent *core.AgentDefinition,
	baseline core.Baseline,
	progress []*core.ProgressRecord,
	results []core.SingleResult,
	cancel *control.Token,
	toolSpecs []core.ToolSpec,
	emit func(),
	batchID string,
) {
	taskCtx, stop := contextFromToken(ctx, cancel)
	defer stop()

	sem := semaphore.NewWeighted(int64(s.maxConcurrency()))
	var g errgroup.Group

	for i, task := range batch.Tasks {
		i, task := i, task

		if cancel.IsCancelled() {
			results[i] = skippedResult(task, agent)
			progress[i].SetStatus(core.TaskStatusAborted)
			emit()
			continue
		}

		if err := sem.Acquire(taskCtx, 1); err != nil {
			results[i] = skippedResult(task, agent)
			progress[i].SetStatus(core.TaskStatusAborted)
			emit()
			continue
		}

		g.Go(func() (groupErr error) {
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					s.Logger.Error("worker panic", "task_id", task.ID, "panic", r)
					results[i] = core.SingleResult{
						TaskID:        task.ID,
						Agent:         agent.Name,
						Status:        core.TaskStatusFailed,
						ErrorCategory: core.ErrCatInternal,
						Error:         fmt.Sprintf("internal error: %v", r),
					}
					progress[i].SetStatus(core.TaskStatusFailed)
					groupErr = fmt.Errorf("task %s: %v", task.ID, r)
				}
			}()

			results[i] = s.runOne(taskCtx, batch, agent, baseline, task, progress[i], cancel, toolSpecs, batchID)
			emit()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.Logger.Error("scheduler fan-out reported an internal fault", "error", err)
	}
	if s.Async != nil {
		for _, r := range results {
			succeeded := r.Status == core.TaskStatusCompleted
			jobID := asyncJobID(batchID, r.TaskID)
			_ = s.Async.Settle(ctx, jobID, batchID, succeeded, r.Error)
		}
	}
}

func asyncJobID(batchID, taskID string) string {
	return batchID + "/" + taskID
}

// runOne executes exactly one task: preparing its isolated workspace
// (if requested), rendering its prompt, driving the turn loop, and
// capturing its delta before tearing the workspace down. The workspace
// is always cleaned up, on every exit path (§8 invariant 3).
func (s *Scheduler) runOne(
	ctx context.Context,
	batch core.TaskBatch,
	agent *core.AgentDefinition,
	baseline core.Baseline,
	task core.TaskItem,
	progress *core.ProgressRecord,
	cancel *control.Token,
	toolSpecs []core.ToolSpec,
	batchID string,
) core.SingleResult {
	artifactID := newArtifactID(task.ID)

	prompt, err := s.Renderer.Render(batch.Context, task)
	if err != nil {
		return failResult(task.ID, agent.Name, core.ErrCatValidation, "rendering prompt: "+err.Error())
	}

	var workDir string
	var info *core.WorktreeInfo
	if batch.Isolated && s.Worktree != nil {
		info, err = s.Worktree.Prepare(ctx, task.ID, baseline)
		if err != nil {
			return failResult(task.ID, agent.Name, core.ErrCatIsolation, "Isolated task execution not initialized")
		}
		workDir = info.Path
		defer func() {
			cctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancelFn()
			if cerr := s.Worktree.Cleanup(cctx, info); cerr != nil {
				s.Logger.Warn("worktree cleanup failed", "task_id", task.ID, "error", cerr)
			}
		}()
	}

	spec := executor.TaskSpec{
		TaskID:        task.ID,
		Description:   task.Description,
		Prompt:        prompt,
		Agent:         agent,
		ParentSpawns:  s.ParentSpawns,
		WorkDir:       workDir,
		ModelOverride: batch.ModelOverride,
		ToolSpecs:     toolSpecs,
		Gateway:       s.Gateway,
		Tools:         s.Tools,
		Progress:      progress,
		Cancel:        cancel,
		Logger:        s.Logger,
	}

	result := s.Exec.Run(ctx, spec)
	result.OutputPaths = []string{"agent://" + artifactID}

	if info != nil && result.Status != core.TaskStatusAborted {
		// The capture boundary is not interruptible: a worker that has
		// already started capturing completes it before returning,
		// since an interrupted capture would produce a corrupt patch
		// (§5 cancellation policy).
		delta, derr := s.Worktree.CaptureDelta(context.Background(), info)
		if derr != nil {
			result.Status = core.TaskStatusFailed
			result.ErrorCategory = core.ErrCatIsolation
			result.Error = "Isolated task execution not initialized"
		} else {
			result.Delta = delta
		}
	}

	s.writeSessionArtifacts(batchID, artifactID, result)

	return result
}

// writeSessionArtifacts persists one task's output-sink dump and, in
// patch mode, its patch (§6: "<id>.out" and "<id>.patch"). Failures are
// logged, never fatal: a missing artifact degrades agent:// link
// resolution but never the task's own result.
func (s *Scheduler) writeSessionArtifacts(batchID, artifactID string, result core.SingleResult) {
	if s.Sessions == nil {
		return
	}
	if _, err := s.Sessions.WriteArtifact(batchID, artifactID+".out", []byte(result.Summary)); err != nil {
		s.Logger.Warn("writing task output artifact", "artifact_id", artifactID, "error", err)
	}
	if result.Delta != nil && result.Delta.Mode == core.IsolationModePatch && result.Delta.Patch != "" {
		if _, err := s.Sessions.WriteArtifact(batchID, artifactID+".patch", []byte(result.Delta.Patch)); err != nil {
			s.Logger.Warn("writing task patch artifact", "artifact_id", artifactID, "error", err)
		}
	}
}

func failResult(taskID, agentName string, cat core.ErrorCategory, msg string) core.SingleResult {
	return core.SingleResult{
		TaskID:        taskID,
		Agent:         agentName,
		Status:        core.TaskStatusFailed,
		ErrorCategory: cat,
		Error:         msg,
	}
}

func skippedResult(task core.TaskItem, agent *core.AgentDefinition) core.SingleResult {
	return core.SingleResult{
		TaskID:        task.ID,
		Agent:         agent.Name,
		Status:        core.TaskStatusAborted,
		ErrorCategory: core.ErrCatCancellation,
		Error:         skippedBeforeStart,
	}
}

// toolSpecsFor narrows the full tool catalog to what agent's Tools
// allow-list permits, appending a synthesized submit_result tool when
// the agent declares an output schema (§4.D contract).
func toolSpecsFor(agent *core.AgentDefinition, catalog []core.ToolSpec) []core.ToolSpec {
	specs := make([]core.ToolSpec, 0, len(catalog)+1)
	for _, spec := range catalog {
		if agent.AllowsTool(spec.Name) {
			specs = append(specs, spec)
		}
	}
	if agent.Output != nil {
		specs = append(specs, core.ToolSpec{
			Name:        "submit_result",
			Description: "Submit the final structured result for this task.",
			InputSchema: *agent.Output,
		})
	}
	return specs
}

// contextFromToken derives a context cancelled when token fires, so
// blocking calls (semaphore acquire, git, model gateway) unblock
// promptly on a cooperative cancel signal instead of waiting for the
// parent ctx alone.
func contextFromToken(parent context.Context, token *control.Token) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if token == nil {
		return ctx, cancel
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
