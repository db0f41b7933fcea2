package merge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/isolation"
)

// reconcileBranch implements §4.F branch mode: merge each completed
// task's branch into the parent ref sequentially, in task-input order.
// The first failing merge halts the sequence; branches merged so far
// are deleted, and the failing branch plus every branch after it are
// retained for manual resolution (§8 scenario S4).
func (m *Merger) reconcileBranch(ctx context.Context, baseline core.Baseline, tasks []core.TaskItem, results []core.SingleResult) (bool, string, error) {
	descByID := make(map[string]string, len(tasks))
	for _, t := range tasks {
		descByID[t.ID] = t.Description
	}

	var merged []string
	var conflictBranch string
	var conflictErr error

	for _, r := range results {
		if conflictErr != nil {
			break
		}
		if r.Status != core.TaskStatusCompleted || r.Delta == nil || r.Delta.Branch == "" {
			continue
		}
		branch := r.Delta.Branch

		m.enrichCommitMessage(ctx, branch, r.TaskID, descByID[r.TaskID], baseline.HeadCommit)

		if err := m.git.Merge(ctx, branch); err != nil {
			conflictBranch = branch
			conflictErr = err
			continue
		}
		merged = append(merged, branch)
	}

	if conflictErr != nil {
		for _, b := range merged {
			if err := m.git.DeleteBranch(ctx, b, false); err != nil {
				m.logger.Warn("deleting merged task branch after conflict", "branch", b, "error", err)
			}
		}
		note := fmt.Sprintf("<system-notification>merge halted: branch %s failed to merge (%v); it and all subsequent task branches are retained for manual resolution</system-notification>",
			conflictBranch, conflictErr)
		return false, note, nil
	}

	if len(merged) == 0 {
		return true, "no task branches to merge", nil
	}

	for _, b := range merged {
		if err := m.git.DeleteBranch(ctx, b, false); err != nil {
			m.logger.Warn("deleting merged task branch", "branch", b, "error", err)
		}
	}
	return true, fmt.Sprintf("merged %d task branch(es): %s", len(merged), strings.Join(merged, ", ")), nil
}

// enrichCommitMessage rewrites a task branch's tip commit message before
// it gets merged, using a small model when configured, else the default
// task(<id>): <description> form. The model is given the branch's own
// diff against baseRef (the batch's parent baseline commit), computed
// fresh here since captureBranch never populates Delta.Patch in branch
// mode. It operates through a throwaway worktree so the caller's own
// checkout is never disturbed, and any failure here is swallowed: the
// branch keeps whatever message captureDelta already committed it with
// (§4.F: "failures in the message generator are non-fatal").
func (m *Merger) enrichCommitMessage(ctx context.Context, branch, taskID, description, baseRef string) {
	message := defaultCommitMessage(taskID, description)

	tmpDir, err := os.MkdirTemp("", "taskcore-amend-*")
	if err != nil {
		m.logger.Warn("preparing commit message amend worktree", "branch", branch, "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	if err := m.git.CreateWorktree(ctx, tmpDir, branch, ""); err != nil {
		m.logger.Warn("checking out branch to amend commit message", "branch", branch, "error", err)
		return
	}
	defer func() {
		if err := m.git.RemoveWorktree(ctx, tmpDir, true); err != nil {
			m.logger.Warn("removing commit message amend worktree", "branch", branch, "error", err)
		}
	}()

	branchGit, err := isolation.NewGitClient(tmpDir)
	if err != nil {
		m.logger.Warn("opening branch worktree for commit message amend", "branch", branch, "error", err)
		return
	}

	if m.msgGen != nil {
		diff, derr := branchGit.Diff(ctx, baseRef)
		if derr != nil {
			m.logger.Warn("diffing task branch against its base", "branch", branch, "error", derr)
		} else if generated, err := m.msgGen.Generate(ctx, taskID, description, diff); err != nil {
			m.logger.Warn("commit message generation failed, using default", "task_id", taskID, "error", err)
		} else {
			message = generated
		}
	}

	if _, err := branchGit.AmendCommitMessage(ctx, message); err != nil {
		m.logger.Warn("amending task branch commit message", "branch", branch, "error", err)
	}
}
