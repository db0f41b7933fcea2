package core

import "time"

// IsolationMode selects how a worker's filesystem changes are captured
// from the parent workspace (§4.C). Patch mode diffs a git worktree;
// branch mode commits the worktree's changes onto a dedicated branch for
// later sequential merging.
type IsolationMode string

const (
	IsolationModePatch  IsolationMode = "patch"
	IsolationModeBranch IsolationMode = "branch"
)

// BackendKind selects the filesystem isolation mechanism a Worktree
// Manager uses to materialize an isolated workspace.
type BackendKind string

const (
	BackendGitWorktree BackendKind = "git_worktree"
	BackendOverlayFS   BackendKind = "overlay_fs"
)

// WorktreeStatus mirrors the teacher's worktree lifecycle labels, reused
// here for the isolated-workspace lifecycle (§4.C: uninitialized →
// prepared → running → captured → cleaned).
type WorktreeStatus string

const (
	WorktreeStatusUninitialized WorktreeStatus = "uninitialized"
	WorktreeStatusPrepared      WorktreeStatus = "prepared"
	WorktreeStatusRunning       WorktreeStatus = "running"
	WorktreeStatusCaptured      WorktreeStatus = "captured"
	WorktreeStatusCleaned       WorktreeStatus = "cleaned"
	WorktreeStatusStale         WorktreeStatus = "stale"
)

// Baseline is the snapshot of the parent workspace a task's isolated copy
// was materialized from: the commit it was forked from plus the
// uncommitted (staged + untracked) state layered on top, so that an
// isolated worker starts from exactly what the parent workspace looked
// like at dispatch time, not just its last commit (§4.C).
type Baseline struct {
	HeadCommit     string
	DirtyPatch     string // unified diff of the working tree against HeadCommit, empty if clean
	UntrackedFiles []string
	CapturedAt     time.Time
}

// WorktreeInfo is the live handle to one task's isolated workspace.
type WorktreeInfo struct {
	TaskID    string
	Path      string
	Branch    string
	Backend   BackendKind
	CreatedAt time.Time
	Status    WorktreeStatus
}

// NestedPatch is a diff captured from a git repository nested inside the
// isolated workspace (a submodule or an independently-initialized repo a
// sub-agent created). Nested patches apply independently of the root
// patch and of each other (§4.F, invariant on partial nested failure).
type NestedPatch struct {
	RepoRelPath string // path of the nested repo relative to the workspace root
	Patch       string
}

// Delta is everything a worker produced, captured once at the end of its
// run, before its isolated workspace is torn down. Exactly one of Patch
// or Branch is meaningful, selected by Mode.
type Delta struct {
	Mode          IsolationMode
	Patch         string // root-repo unified diff; empty means no changes
	NestedPatches []NestedPatch
	Branch        string // branch name holding the worker's commit, branch mode only
	Empty         bool
}

// IsEmpty reports whether the delta carries no changes to merge, in
// either mode.
func (d *Delta) IsEmpty() bool {
	if d == nil {
		return true
	}
	if d.Mode == IsolationModeBranch {
		return d.Branch == ""
	}
	return d.Patch == "" && len(d.NestedPatches) == 0
}
