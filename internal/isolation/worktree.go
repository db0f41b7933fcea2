package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
)

var _ core.WorktreeManager = (*WorktreeManager)(nil)

const branchPrefix = "omp/task/"

// BranchFor returns the synthetic branch name a task's isolation commit
// lives on (§4.C: "a branch named omp/task/<id>").
func BranchFor(taskID string) string {
	return branchPrefix + taskID
}

// WorktreeManager materializes one isolated git worktree per task and
// captures that task's side effects back out as a patch or a commit on
// a task branch, per the configured core.IsolationMode.
type WorktreeManager struct {
	git     *GitClient
	baseDir string
	mode    core.IsolationMode
	logger  *logging.Logger

	mu      sync.Mutex
	cleaned map[string]bool // taskID -> Cleanup already ran
}

// NewWorktreeManager builds a manager rooted under baseDir (created
// lazily). mode selects whether CaptureDelta returns a patch or commits
// the delta to a task branch.
func NewWorktreeManager(git *GitClient, baseDir string, mode core.IsolationMode, logger *logging.Logger) *WorktreeManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WorktreeManager{
		git:     git,
		baseDir: baseDir,
		mode:    mode,
		logger:  logger,
		cleaned: make(map[string]bool),
	}
}

// CaptureBaseline snapshots the parent workspace's HEAD, dirty state,
// and untracked files, so every task in a batch starts from identical
// content (§4.C invariant 4).
func CaptureBaseline(ctx context.Context, git *GitClient) (core.Baseline, error) {
	head, err := git.HeadCommit(ctx)
	if err != nil {
		return core.Baseline{}, core.ErrBaseline("BASELINE_HEAD_FAILED", "reading HEAD commit").WithCause(err)
	}
	dirty, err := git.Diff(ctx, "HEAD")
	if err != nil {
		return core.Baseline{}, core.ErrBaseline("BASELINE_DIRTY_DIFF_FAILED", "diffing uncommitted changes").WithCause(err)
	}
	untracked, err := git.UntrackedFiles(ctx)
	if err != nil {
		return core.Baseline{}, core.ErrBaseline("BASELINE_UNTRACKED_FAILED", "listing untracked files").WithCause(err)
	}
	return core.Baseline{
		HeadCommit:     head,
		DirtyPatch:     dirty,
		UntrackedFiles: untracked,
		CapturedAt:     time.Now(),
	}, nil
}

// Prepare implements core.WorktreeManager: it creates a worktree on
// branch omp/task/<id> rooted at the baseline's HeadCommit, then
// replays the baseline's uncommitted state into it so the sub-agent
// sees exactly the workspace the scheduler captured.
func (m *WorktreeManager) Prepare(ctx context.Context, taskID string, baseline core.Baseline) (*core.WorktreeInfo, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, core.ErrIsolation("WORKTREE_BASEDIR_FAILED", "creating worktree base directory").WithCause(err)
	}

	path := filepath.Join(m.baseDir, taskID)
	if _, err := os.Stat(path); err == nil {
		return nil, core.ErrIsolation("WORKTREE_EXISTS", fmt.Sprintf("worktree for task %s already exists", taskID))
	}

	branch := BranchFor(taskID)
	if err := m.git.CreateWorktree(ctx, path, branch, baseline.HeadCommit); err != nil {
		return nil, core.ErrIsolation("WORKTREE_CREATE_FAILED", "creating isolated worktree").WithCause(err)
	}

	info := &core.WorktreeInfo{
		TaskID:    taskID,
		Path:      path,
		Branch:    branch,
		Backend:   core.BackendGitWorktree,
		CreatedAt: time.Now(),
		Status:    core.WorktreeStatusPrepared,
	}

	if err := m.applyBaseline(ctx, info, baseline); err != nil {
		_ = m.Cleanup(ctx, info)
		return nil, err
	}

	info.Status = core.WorktreeStatusRunning
	return info, nil
}

// applyBaseline replays the parent workspace's dirty patch and
// untracked files into a freshly created worktree, so an agent sees the
// parent's uncommitted work without that work ever being committed.
func (m *WorktreeManager) applyBaseline(ctx context.Context, info *core.WorktreeInfo, baseline core.Baseline) error {
	if strings.TrimSpace(baseline.DirtyPatch) == "" {
		return nil
	}
	worktreeGit, err := NewGitClient(info.Path)
	if err != nil {
		return core.ErrIsolation("WORKTREE_CLIENT_FAILED", "opening worktree git client").WithCause(err)
	}
	if err := worktreeGit.ApplyPatch(ctx, baseline.DirtyPatch); err != nil {
		return core.ErrBaseline("BASELINE_REPLAY_FAILED", "applying baseline dirty patch into worktree").WithCause(err)
	}
	return nil
}

// CaptureDelta implements core.WorktreeManager. In patch mode it
// returns a unified diff of the worktree against its baseline commit,
// walking one level into any nested repository. In branch mode it
// commits the worktree's state onto the task branch instead.
func (m *WorktreeManager) CaptureDelta(ctx context.Context, info *core.WorktreeInfo) (*core.Delta, error) {
	worktreeGit, err := NewGitClient(info.Path)
	if err != nil {
		return nil, core.ErrIsolation("WORKTREE_CLIENT_FAILED", "opening worktree git client").WithCause(err)
	}

	switch m.mode {
	case core.IsolationModeBranch:
		return m.captureBranch(ctx, info, worktreeGit)
	default:
		return m.capturePatch(ctx, info, worktreeGit)
	}
}

func (m *WorktreeManager) capturePatch(ctx context.Context, info *core.WorktreeInfo, worktreeGit *GitClient) (*core.Delta, error) {
	// Stage everything first: plain `git diff` never shows untracked
	// files, only tracked ones, so new files must enter the index
	// before they can appear in the root patch.
	if err := worktreeGit.Add(ctx, "."); err != nil {
		return nil, core.ErrIsolation("CAPTURE_ADD_FAILED", "staging worktree changes").WithCause(err)
	}
	rootPatch, err := worktreeGit.Diff(ctx, "HEAD")
	if err != nil {
		return nil, core.ErrIsolation("CAPTURE_DIFF_FAILED", "diffing worktree against baseline").WithCause(err)
	}

	nested, err := captureNestedPatches(ctx, info.Path)
	if err != nil {
		return nil, err
	}

	delta := &core.Delta{
		Mode:          core.IsolationModePatch,
		Patch:         rootPatch,
		NestedPatches: nested,
	}
	delta.Empty = delta.IsEmpty()
	info.Status = core.WorktreeStatusCaptured
	return delta, nil
}

func (m *WorktreeManager) captureBranch(ctx context.Context, info *core.WorktreeInfo, worktreeGit *GitClient) (*core.Delta, error) {
	if err := worktreeGit.Add(ctx, "."); err != nil {
		return nil, core.ErrIsolation("CAPTURE_ADD_FAILED", "staging worktree changes").WithCause(err)
	}
	message := fmt.Sprintf("task(%s): isolated changes", info.TaskID)
	if _, err := worktreeGit.Commit(ctx, message); err != nil {
		return nil, core.ErrIsolation("CAPTURE_COMMIT_FAILED", "committing worktree delta to task branch").WithCause(err)
	}

	delta := &core.Delta{
		Mode:   core.IsolationModeBranch,
		Branch: info.Branch,
	}
	delta.Empty = delta.IsEmpty()
	info.Status = core.WorktreeStatusCaptured
	return delta, nil
}

// captureNestedPatches walks one level into any directory under root
// that is itself a git repository (an embedded checkout the outer diff
// cannot cross) and produces a separate patch for each, per §4.C.
func captureNestedPatches(ctx context.Context, root string) ([]core.NestedPatch, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, core.ErrIsolation("CAPTURE_NESTED_SCAN_FAILED", "scanning for nested repositories").WithCause(err)
	}

	var nested []core.NestedPatch
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".git" {
			continue
		}
		nestedPath := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(nestedPath, ".git")); err != nil {
			continue // not a repository boundary
		}

		nestedGit, err := NewGitClient(nestedPath)
		if err != nil {
			continue
		}
		if err := nestedGit.Add(ctx, "."); err != nil {
			return nil, core.ErrIsolation("CAPTURE_NESTED_ADD_FAILED", "staging nested repository "+entry.Name()).WithCause(err)
		}
		patch, err := nestedGit.Diff(ctx, "HEAD")
		if err != nil {
			return nil, core.ErrIsolation("CAPTURE_NESTED_DIFF_FAILED", "diffing nested repository "+entry.Name()).WithCause(err)
		}
		if strings.TrimSpace(patch) == "" {
			continue
		}
		nested = append(nested, core.NestedPatch{
			RepoRelPath: entry.Name(),
			Patch:       patch,
		})
	}
	return nested, nil
}

// Cleanup implements core.WorktreeManager. It removes the task's
// worktree exactly once; the task branch is left in place until merge
// reconciliation has run (§4.C invariant 2).
func (m *WorktreeManager) Cleanup(ctx context.Context, info *core.WorktreeInfo) error {
	if info == nil {
		return nil
	}

	m.mu.Lock()
	if m.cleaned[info.TaskID] {
		m.mu.Unlock()
		return nil
	}
	m.cleaned[info.TaskID] = true
	m.mu.Unlock()

	if err := m.git.RemoveWorktree(ctx, info.Path, true); err != nil {
		m.logger.Warn("worktree removal failed, falling back to directory removal",
			"task_id", info.TaskID, "path", info.Path, "error", err)
		if rmErr := os.RemoveAll(info.Path); rmErr != nil {
			return core.ErrIsolation("CLEANUP_FAILED", "removing task worktree").WithCause(rmErr)
		}
	}
	info.Status = core.WorktreeStatusCleaned
	return nil
}

func validateTaskID(taskID string) error {
	trimmed := strings.TrimSpace(taskID)
	if trimmed == "" {
		return core.ErrValidation(core.CodeTaskIDRequired, "task id required for worktree")
	}
	if strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, "/\\") {
		return core.ErrValidation("WORKTREE_TASK_ID_INVALID", "task id contains invalid path characters")
	}
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return core.ErrValidation("WORKTREE_TASK_ID_INVALID", "task id contains invalid characters")
	}
	return nil
}
