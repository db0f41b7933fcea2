//go:build !linux

package isolation

import (
	"fmt"
	"runtime"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
)

// newOverlayManager is unavailable outside Linux: overlayfs is a Linux
// kernel filesystem. Callers configured for fuse-overlay isolation on
// another platform get a clear startup error instead of a silent
// worktree fallback.
func newOverlayManager(_, _ string, _ *logging.Logger) (core.WorktreeManager, error) {
	return nil, fmt.Errorf("overlay isolation backend is not available on %s", runtime.GOOS)
}
