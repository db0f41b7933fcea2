package merge_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/isolation"
	"github.com/theerud/taskcore/internal/merge"
)

// testRepo is a throwaway git repository for merge package tests.
type testRepo struct {
	t    *testing.T
	Path string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	r := &testRepo{t: t, Path: dir}
	r.run("init")
	r.run("config", "user.email", "test@example.com")
	r.run("config", "user.name", "Test User")
	r.run("checkout", "-b", "main")
	return r
}

func (r *testRepo) run(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path
	out, err := cmd.CombinedOutput()
	require.NoErrorf(r.t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func (r *testRepo) writeFile(name, content string) {
	r.t.Helper()
	path := filepath.Join(r.Path, name)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

func (r *testRepo) readFile(name string) string {
	r.t.Helper()
	b, err := os.ReadFile(filepath.Join(r.Path, name))
	require.NoError(r.t, err)
	return string(b)
}

func (r *testRepo) commit(message string) string {
	r.t.Helper()
	r.run("add", "-A")
	r.run("commit", "-m", message, "--allow-empty")
	return r.run("rev-parse", "HEAD")
}

// diffAgainst returns a unified diff of the repo's current working tree
// against ref, after staging everything so untracked files show up too.
func (r *testRepo) diffAgainst(ref string) string {
	r.t.Helper()
	r.run("add", "-A")
	out, err := exec.Command("git", "-C", r.Path, "diff", "--binary", "--cached", ref).CombinedOutput()
	require.NoError(r.t, err)
	r.run("reset")
	return string(out)
}

func newClient(t *testing.T, repo *testRepo) *isolation.GitClient {
	t.Helper()
	c, err := isolation.NewGitClient(repo.Path)
	require.NoError(t, err)
	return c
}

// TestMerger_PatchMode_HappyPath mirrors S1: two completed tasks each
// editing a distinct file, concatenated and applied to the parent repo
// in one atomic update.
func TestMerger_PatchMode_HappyPath(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("base.txt", "base\n")
	head := repo.commit("initial")
	client := newClient(t, repo)

	repo.writeFile("a.txt", "task one\n")
	patchA := repo.diffAgainst(head)
	repo.run("checkout", "--", ".")
	require.NoError(t, os.Remove(filepath.Join(repo.Path, "a.txt")))

	repo.writeFile("b.txt", "task two\n")
	patchB := repo.diffAgainst(head)
	repo.run("checkout", "--", ".")
	require.NoError(t, os.Remove(filepath.Join(repo.Path, "b.txt")))

	m := merge.New(client, core.IsolationModePatch, nil, nil)

	tasks := []core.TaskItem{{ID: "t1", Description: "add a"}, {ID: "t2", Description: "add b"}}
	results := []core.SingleResult{
		{TaskID: "t1", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModePatch, Patch: patchA}},
		{TaskID: "t2", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModePatch, Patch: patchB}},
	}

	applied, summary, err := m.Reconcile(context.Background(), core.Baseline{HeadCommit: head}, tasks, results)
	require.NoError(t, err)
	require.True(t, applied)
	require.Contains(t, summary, "t1")
	require.Contains(t, summary, "t2")

	require.Equal(t, "task one\n", repo.readFile("a.txt"))
	require.Equal(t, "task two\n", repo.readFile("b.txt"))
}

// TestMerger_PatchMode_ConflictLeavesTreeUntouched exercises invariant 4:
// a patch that doesn't apply cleanly reports applied==false and the
// working tree is left exactly as it was.
func TestMerger_PatchMode_ConflictLeavesTreeUntouched(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("a.txt", "base\n")
	head := repo.commit("initial")
	client := newClient(t, repo)

	garbage := "--- a/a.txt\n+++ b/a.txt\n@@ -1,1 +1,1 @@\n-does not match\n+broken\n"

	m := merge.New(client, core.IsolationModePatch, nil, nil)
	tasks := []core.TaskItem{{ID: "t1", Description: "break a"}}
	results := []core.SingleResult{
		{TaskID: "t1", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModePatch, Patch: garbage}},
	}

	applied, summary, err := m.Reconcile(context.Background(), core.Baseline{HeadCommit: head}, tasks, results)
	require.NoError(t, err)
	require.False(t, applied)
	require.Contains(t, summary, "does not apply cleanly")
	require.Equal(t, "base\n", repo.readFile("a.txt"))
}

// TestMerger_BranchMode_ConflictRetainsFailingAndSubsequentBranches
// mirrors S4: two task branches, the second conflicting with the first.
// The first branch merges and is deleted; the second is retained along
// with every branch after it.
func TestMerger_BranchMode_ConflictRetainsFailingAndSubsequentBranches(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("shared.txt", "base\n")
	head := repo.commit("initial")
	client := newClient(t, repo)

	branch1 := isolation.BranchFor("t1")
	repo.run("checkout", "-b", branch1)
	repo.writeFile("shared.txt", "from t1\n")
	repo.commit("task(t1): edit shared")
	repo.run("checkout", "main")
	repo.run("reset", "--hard", head)

	branch2 := isolation.BranchFor("t2")
	repo.run("checkout", "-b", branch2, head)
	repo.writeFile("shared.txt", "from t2, conflicting\n")
	repo.commit("task(t2): edit shared")
	repo.run("checkout", "main")
	repo.run("reset", "--hard", head)

	m := merge.New(client, core.IsolationModeBranch, nil, nil)
	tasks := []core.TaskItem{{ID: "t1", Description: "edit shared"}, {ID: "t2", Description: "edit shared"}}
	results := []core.SingleResult{
		{TaskID: "t1", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModeBranch, Branch: branch1}},
		{TaskID: "t2", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModeBranch, Branch: branch2}},
	}

	applied, summary, err := m.Reconcile(context.Background(), core.Baseline{HeadCommit: head}, tasks, results)
	require.NoError(t, err)
	require.False(t, applied)
	require.Contains(t, summary, branch2)

	exists1, err := client.BranchExists(context.Background(), branch1)
	require.NoError(t, err)
	require.False(t, exists1, "merged branch should have been deleted")

	exists2, err := client.BranchExists(context.Background(), branch2)
	require.NoError(t, err)
	require.True(t, exists2, "conflicting branch should be retained")

	require.Equal(t, "from t1\n", repo.readFile("shared.txt"))
}

// TestMerger_BranchMode_HappyPath_DeletesAllBranches covers the full
// success path: every branch merges and is deleted, parent ref advances.
func TestMerger_BranchMode_HappyPath_DeletesAllBranches(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("base.txt", "base\n")
	head := repo.commit("initial")
	client := newClient(t, repo)

	branch1 := isolation.BranchFor("t1")
	repo.run("checkout", "-b", branch1)
	repo.writeFile("a.txt", "task one\n")
	repo.commit("task(t1): isolated changes")
	repo.run("checkout", "main")

	m := merge.New(client, core.IsolationModeBranch, nil, nil)
	tasks := []core.TaskItem{{ID: "t1", Description: "add a"}}
	results := []core.SingleResult{
		{TaskID: "t1", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModeBranch, Branch: branch1}},
	}

	applied, summary, err := m.Reconcile(context.Background(), core.Baseline{HeadCommit: head}, tasks, results)
	require.NoError(t, err)
	require.True(t, applied)
	require.Contains(t, summary, branch1)

	exists, err := client.BranchExists(context.Background(), branch1)
	require.NoError(t, err)
	require.False(t, exists)

	require.Equal(t, "task one\n", repo.readFile("a.txt"))
}

// capturingMessageGenerator records the diff it was given instead of
// calling a model, so tests can assert it reflects real branch content.
type capturingMessageGenerator struct {
	gotDiff string
}

func (g *capturingMessageGenerator) Generate(_ context.Context, taskID, _, diff string) (string, error) {
	g.gotDiff = diff
	return "generated: " + taskID, nil
}

// TestMerger_BranchMode_CommitMessageGeneratorSeesRealDiff covers §4.F's
// "commit message generated from the diff" in the only mode the
// generator runs in: branch mode, where captureBranch never populates
// Delta.Patch, so the diff has to be computed against the batch's
// baseline commit instead of read off the result.
func TestMerger_BranchMode_CommitMessageGeneratorSeesRealDiff(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile("base.txt", "base\n")
	head := repo.commit("initial")
	client := newClient(t, repo)

	branch1 := isolation.BranchFor("t1")
	repo.run("checkout", "-b", branch1)
	repo.writeFile("a.txt", "task one content\n")
	repo.commit("task(t1): isolated changes")
	repo.run("checkout", "main")

	gen := &capturingMessageGenerator{}
	m := merge.New(client, core.IsolationModeBranch, gen, nil)
	tasks := []core.TaskItem{{ID: "t1", Description: "add a"}}
	results := []core.SingleResult{
		{TaskID: "t1", Status: core.TaskStatusCompleted, Delta: &core.Delta{Mode: core.IsolationModeBranch, Branch: branch1}},
	}

	applied, _, err := m.Reconcile(context.Background(), core.Baseline{HeadCommit: head}, tasks, results)
	require.NoError(t, err)
	require.True(t, applied)

	require.Contains(t, gen.gotDiff, "a.txt")
	require.Contains(t, gen.gotDiff, "task one content")
}

// TestMerger_NoIsolationConfigured_IsANoOp covers a batch that never
// used isolation: there is nothing to reconcile, and Reconcile must not
// fail just because no git client is wired.
func TestMerger_NoIsolationConfigured_IsANoOp(t *testing.T) {
	m := merge.New(nil, core.IsolationModePatch, nil, nil)
	applied, _, err := m.Reconcile(context.Background(), core.Baseline{}, nil, nil)
	require.NoError(t, err)
	require.True(t, applied)
}
