package isolation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/isolation"
)

func TestWorktreeManager_PatchMode_CaptureDeltaReflectsChanges(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("a.txt", "one\n")
	repo.commit("initial")

	client, err := isolation.NewGitClient(repo.Path)
	require.NoError(t, err)

	baseline, err := isolation.CaptureBaseline(context.Background(), client)
	require.NoError(t, err)

	mgr := isolation.NewWorktreeManager(client, t.TempDir(), core.IsolationModePatch, nil)

	info, err := mgr.Prepare(context.Background(), "task-1", baseline)
	require.NoError(t, err)
	require.Equal(t, core.WorktreeStatusRunning, info.Status)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "b.txt"), []byte("new file\n"), 0o644))

	delta, err := mgr.CaptureDelta(context.Background(), info)
	require.NoError(t, err)
	require.False(t, delta.Empty)
	require.Contains(t, delta.Patch, "b.txt")

	require.NoError(t, mgr.Cleanup(context.Background(), info))
	_, statErr := os.Stat(info.Path)
	require.True(t, os.IsNotExist(statErr))

	// Cleanup is idempotent (§4.C invariant 2).
	require.NoError(t, mgr.Cleanup(context.Background(), info))
}

func TestWorktreeManager_BranchMode_CommitsToTaskBranch(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("a.txt", "one\n")
	repo.commit("initial")

	client, err := isolation.NewGitClient(repo.Path)
	require.NoError(t, err)

	baseline, err := isolation.CaptureBaseline(context.Background(), client)
	require.NoError(t, err)

	mgr := isolation.NewWorktreeManager(client, t.TempDir(), core.IsolationModeBranch, nil)

	info, err := mgr.Prepare(context.Background(), "task-2", baseline)
	require.NoError(t, err)
	require.Equal(t, isolation.BranchFor("task-2"), info.Branch)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "c.txt"), []byte("branch mode\n"), 0o644))

	delta, err := mgr.CaptureDelta(context.Background(), info)
	require.NoError(t, err)
	require.Equal(t, core.IsolationModeBranch, delta.Mode)
	require.Equal(t, isolation.BranchFor("task-2"), delta.Branch)
	require.False(t, delta.Empty)

	require.NoError(t, mgr.Cleanup(context.Background(), info))

	exists, err := client.BranchExists(context.Background(), isolation.BranchFor("task-2"))
	require.NoError(t, err)
	require.True(t, exists, "task branch must survive cleanup until after merge reconciliation")
}

func TestWorktreeManager_Prepare_RejectsInvalidTaskID(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("a.txt", "one\n")
	repo.commit("initial")

	client, err := isolation.NewGitClient(repo.Path)
	require.NoError(t, err)
	baseline, err := isolation.CaptureBaseline(context.Background(), client)
	require.NoError(t, err)

	mgr := isolation.NewWorktreeManager(client, t.TempDir(), core.IsolationModePatch, nil)

	_, err = mgr.Prepare(context.Background(), "../escape", baseline)
	require.Error(t, err)
}

func TestWorktreeManager_ConcurrentTasksGetDistinctWorkspaces(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("a.txt", "one\n")
	repo.commit("initial")

	client, err := isolation.NewGitClient(repo.Path)
	require.NoError(t, err)
	baseline, err := isolation.CaptureBaseline(context.Background(), client)
	require.NoError(t, err)

	mgr := isolation.NewWorktreeManager(client, t.TempDir(), core.IsolationModePatch, nil)

	infoA, err := mgr.Prepare(context.Background(), "task-a", baseline)
	require.NoError(t, err)
	infoB, err := mgr.Prepare(context.Background(), "task-b", baseline)
	require.NoError(t, err)

	require.NotEqual(t, infoA.Path, infoB.Path)

	require.NoError(t, mgr.Cleanup(context.Background(), infoA))
	require.NoError(t, mgr.Cleanup(context.Background(), infoB))
}
