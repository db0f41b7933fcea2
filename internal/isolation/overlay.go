//go:build linux

package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
)

var _ core.WorktreeManager = (*OverlayManager)(nil)

// OverlayManager materializes a task's isolated workspace as a Linux
// overlayfs mount: the parent workspace is the read-only lower layer,
// and the sub-agent writes land in a task-local upper layer (§4.C,
// mode "fuse-overlay"). Unlike worktree mode, the lower layer already
// reflects the parent's current state, so no baseline replay is
// needed: the mount starts empty.
type OverlayManager struct {
	lowerDir string
	baseDir  string
	logger   *logging.Logger

	mu      sync.Mutex
	mounted map[string]string // taskID -> merged mountpoint
	cleaned map[string]bool
}

// NewOverlayManager builds a manager layering new mounts on top of
// lowerDir (the parent workspace), staging upper/work/merged
// directories for each task under baseDir.
func NewOverlayManager(lowerDir, baseDir string, logger *logging.Logger) *OverlayManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OverlayManager{
		lowerDir: lowerDir,
		baseDir:  baseDir,
		logger:   logger,
		mounted:  make(map[string]string),
		cleaned:  make(map[string]bool),
	}
}

func newOverlayManager(lowerDir, baseDir string, logger *logging.Logger) (core.WorktreeManager, error) {
	return NewOverlayManager(lowerDir, baseDir, logger), nil
}

// Prepare implements core.WorktreeManager: mounts overlayfs for taskID
// and returns the merged view as the isolated workspace path. The
// baseline is accepted for interface conformance but unused: the lower
// layer is the live parent tree, which already reflects it.
func (m *OverlayManager) Prepare(_ context.Context, taskID string, _ core.Baseline) (*core.WorktreeInfo, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}

	taskRoot := filepath.Join(m.baseDir, taskID)
	upper := filepath.Join(taskRoot, "upper")
	work := filepath.Join(taskRoot, "work")
	merged := filepath.Join(taskRoot, "merged")

	for _, dir := range []string{upper, work, merged} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, core.ErrIsolation("OVERLAY_MKDIR_FAILED", "creating overlay layer directory "+dir).WithCause(err)
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", m.lowerDir, upper, work)
	if err := unix.Mount("overlay", merged, "overlay", 0, opts); err != nil {
		return nil, core.ErrIsolation("OVERLAY_MOUNT_FAILED", "mounting overlay for task "+taskID).WithCause(err)
	}

	m.mu.Lock()
	m.mounted[taskID] = merged
	m.mu.Unlock()

	return &core.WorktreeInfo{
		TaskID:    taskID,
		Path:      merged,
		Backend:   core.BackendOverlayFS,
		CreatedAt: time.Now(),
		Status:    core.WorktreeStatusRunning,
	}, nil
}

// CaptureDelta implements core.WorktreeManager: the upper layer *is*
// the delta, already isolated from the lower layer by construction, so
// capture reduces to diffing info.Path (the merged view the sub-agent
// actually wrote through) against the lower layer's HEAD commit. The
// diff runs with the lower repository's history but the merged
// directory as its work tree, so the lower layer's own checkout and
// index are never touched.
func (m *OverlayManager) CaptureDelta(ctx context.Context, info *core.WorktreeInfo) (*core.Delta, error) {
	mergedGit, err := NewGitClientWithWorkTree(m.lowerDir, info.Path)
	if err != nil {
		return nil, core.ErrIsolation("OVERLAY_CAPTURE_CLIENT_FAILED", "opening merged-view git client").WithCause(err)
	}

	scratchIndex, err := os.CreateTemp("", "taskcore-overlay-index-*")
	if err != nil {
		return nil, core.ErrIsolation("OVERLAY_CAPTURE_INDEX_FAILED", "creating scratch index file").WithCause(err)
	}
	scratchIndexPath := scratchIndex.Name()
	scratchIndex.Close()
	// git treats a missing GIT_INDEX_FILE as a fresh empty index but
	// errors on a zero-byte one, so the placeholder file is removed
	// before first use and cleaned up again once capture is done.
	os.Remove(scratchIndexPath)
	defer os.Remove(scratchIndexPath)
	mergedGit.WithScratchIndex(scratchIndexPath)

	if err := mergedGit.Add(ctx, "."); err != nil {
		return nil, core.ErrIsolation("OVERLAY_CAPTURE_ADD_FAILED", "staging overlay merged changes").WithCause(err)
	}

	patch, err := mergedGit.Diff(ctx, "HEAD")
	if err != nil {
		return nil, core.ErrIsolation("OVERLAY_CAPTURE_DIFF_FAILED", "diffing overlay merged view").WithCause(err)
	}

	delta := &core.Delta{Mode: core.IsolationModePatch, Patch: patch}
	delta.Empty = delta.IsEmpty()
	info.Status = core.WorktreeStatusCaptured
	return delta, nil
}

// Cleanup implements core.WorktreeManager: unmounts the overlay and
// removes its upper/work/merged scratch space exactly once.
func (m *OverlayManager) Cleanup(_ context.Context, info *core.WorktreeInfo) error {
	if info == nil {
		return nil
	}

	m.mu.Lock()
	if m.cleaned[info.TaskID] {
		m.mu.Unlock()
		return nil
	}
	m.cleaned[info.TaskID] = true
	merged, ok := m.mounted[info.TaskID]
	m.mu.Unlock()

	if ok {
		if err := unix.Unmount(merged, 0); err != nil {
			m.logger.Warn("overlay unmount failed", "task_id", info.TaskID, "path", merged, "error", err)
		}
	}

	taskRoot := filepath.Join(m.baseDir, info.TaskID)
	if err := os.RemoveAll(taskRoot); err != nil {
		return core.ErrIsolation("OVERLAY_CLEANUP_FAILED", "removing overlay scratch space").WithCause(err)
	}
	info.Status = core.WorktreeStatusCleaned
	return nil
}
