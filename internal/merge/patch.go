package merge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/isolation"
)

// reconcilePatch implements §4.F patch mode: concatenate every
// non-empty root patch in task-input order, check it applies cleanly,
// then apply it; independently apply nested patches from successful
// non-aborted tasks. GitClient.ApplyPatchCheck/ApplyPatch own the temp
// patch file's lifecycle (invariant 3), so this function never touches
// a temp file itself.
func (m *Merger) reconcilePatch(ctx context.Context, _ []core.TaskItem, results []core.SingleResult) (bool, string, error) {
	var combined strings.Builder
	var patchedTasks []string

	for _, r := range results {
		if r.Delta == nil || r.Delta.Patch == "" {
			continue
		}
		p := r.Delta.Patch
		if !strings.HasSuffix(p, "\n") {
			p += "\n"
		}
		combined.WriteString(p)
		patchedTasks = append(patchedTasks, r.TaskID)
	}

	applied := true
	var notes []string

	switch {
	case combined.Len() == 0:
		notes = append(notes, "no root changes to apply")
	default:
		combinedPatch := combined.String()
		if err := m.git.ApplyPatchCheck(ctx, combinedPatch); err != nil {
			applied = false
			notes = append(notes, fmt.Sprintf("root patch does not apply cleanly: %v", err))
		} else if err := m.git.ApplyPatch(ctx, combinedPatch); err != nil {
			applied = false
			notes = append(notes, fmt.Sprintf("root patch apply failed: %v", err))
		} else {
			notes = append(notes, fmt.Sprintf("applied %d task patch(es): %s", len(patchedTasks), strings.Join(patchedTasks, ", ")))
		}
	}

	nestedOK, nestedNotes := m.applyNestedPatches(ctx, results)
	notes = append(notes, nestedNotes...)
	if !nestedOK {
		applied = false
	}

	return applied, strings.Join(notes, "; "), nil
}

// applyNestedPatches applies each successful task's nested-repo patches
// one at a time, against a GitClient bound to that nested repo rather
// than the outer one (invariant 2). A nested repo failing to apply does
// not block other nested repos or the root patch.
func (m *Merger) applyNestedPatches(ctx context.Context, results []core.SingleResult) (bool, []string) {
	var hasNested bool
	for _, r := range results {
		if r.Delta != nil && len(r.Delta.NestedPatches) > 0 {
			hasNested = true
			break
		}
	}
	if !hasNested {
		return true, nil
	}

	root, err := m.git.RepoRoot(ctx)
	if err != nil {
		return false, []string{fmt.Sprintf("resolving repo root for nested patches: %v", err)}
	}

	allOK := true
	var notes []string

	for _, r := range results {
		if r.Status != core.TaskStatusCompleted || r.Delta == nil {
			continue
		}
		for _, np := range r.Delta.NestedPatches {
			if np.Patch == "" {
				continue
			}
			patch := np.Patch
			if !strings.HasSuffix(patch, "\n") {
				patch += "\n"
			}

			nestedGit, err := isolation.NewGitClient(filepath.Join(root, np.RepoRelPath))
			if err != nil {
				allOK = false
				notes = append(notes, fmt.Sprintf("nested repo %s unavailable: %v", np.RepoRelPath, err))
				continue
			}
			if err := nestedGit.ApplyPatchCheck(ctx, patch); err != nil {
				allOK = false
				notes = append(notes, fmt.Sprintf("nested repo %s does not apply cleanly: %v", np.RepoRelPath, err))
				continue
			}
			if err := nestedGit.ApplyPatch(ctx, patch); err != nil {
				allOK = false
				notes = append(notes, fmt.Sprintf("nested repo %s apply failed: %v", np.RepoRelPath, err))
				continue
			}
			notes = append(notes, fmt.Sprintf("applied nested patch %s (task %s)", np.RepoRelPath, r.TaskID))
		}
	}

	return allOK, notes
}
