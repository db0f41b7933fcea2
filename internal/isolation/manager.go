package isolation

import (
	"context"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
)

// New builds the core.WorktreeManager configured for backend/mode. The
// git-worktree backend is available on every platform; the overlay-fs
// backend requires Linux.
func New(ctx context.Context, backend core.BackendKind, mode core.IsolationMode, git *GitClient, baseDir string, logger *logging.Logger) (core.WorktreeManager, error) {
	switch backend {
	case core.BackendOverlayFS:
		repoRoot, err := git.RepoRoot(ctx)
		if err != nil {
			return nil, err
		}
		return newOverlayManager(repoRoot, baseDir, logger)
	default:
		return NewWorktreeManager(git, baseDir, mode, logger), nil
	}
}
