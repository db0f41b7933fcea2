// Package isolation implements the Worktree/Overlay Manager (§4.C): it
// materializes an isolated filesystem for each task's sub-agent run,
// then captures that task's side effects back out as a patch or a
// branch, on top of a shell-exec git client.
package isolation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/theerud/taskcore/internal/core"
)

// Git operation sentinels callers can match with errors.Is.
var (
	ErrMergeConflict  = errors.New("merge conflict")
	ErrNothingToMerge = errors.New("nothing to merge")
)

var _ core.GitClient = (*GitClient)(nil)

// GitClient wraps the system git binary. One instance is bound to one
// repository root, optionally with its work tree detached from its
// .git directory (see NewGitClientWithWorkTree).
type GitClient struct {
	repoPath  string
	workTree  string // non-empty overrides the work tree git operates against
	indexFile string // non-empty overrides GIT_INDEX_FILE
	gitPath   string
	timeout   time.Duration
}

// NewGitClient resolves repoPath to an absolute path, locates a trusted
// git binary, and verifies the path is actually a git repository.
func NewGitClient(repoPath string) (*GitClient, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}

	gitPath, err := resolveGitBinaryPath(abs)
	if err != nil {
		return nil, err
	}

	c := &GitClient{repoPath: abs, gitPath: gitPath, timeout: 60 * time.Second}
	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, core.ErrValidation(core.CodeNotGitRepo, fmt.Sprintf("%s is not a git repository", abs))
	}
	return c, nil
}

// NewGitClientWithWorkTree builds a client whose .git directory is
// gitDir but whose work tree is workTree, via --git-dir/--work-tree on
// every invocation. Used to diff a directory that is not itself a
// checkout (an overlay's merged view) against a real repository's
// history without ever touching that repository's own working tree or
// index.
func NewGitClientWithWorkTree(gitDir, workTree string) (*GitClient, error) {
	absGitDir, err := filepath.Abs(gitDir)
	if err != nil {
		return nil, fmt.Errorf("resolving git dir: %w", err)
	}
	absWorkTree, err := filepath.Abs(workTree)
	if err != nil {
		return nil, fmt.Errorf("resolving work tree: %w", err)
	}

	gitPath, err := resolveGitBinaryPath(absGitDir)
	if err != nil {
		return nil, err
	}

	c := &GitClient{repoPath: absGitDir, workTree: absWorkTree, gitPath: gitPath, timeout: 60 * time.Second}
	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, core.ErrValidation(core.CodeNotGitRepo, fmt.Sprintf("%s is not a git repository", absGitDir))
	}
	return c, nil
}

// WithTimeout overrides the per-command timeout (default 60s).
func (c *GitClient) WithTimeout(d time.Duration) *GitClient {
	c.timeout = d
	return c
}

// WithScratchIndex directs every invocation at a dedicated index file
// instead of the repository's own .git/index. Used when a client
// shares a git-dir with a live repository (overlay capture) so staging
// for a diff never disturbs that repository's real staged state.
func (c *GitClient) WithScratchIndex(path string) *GitClient {
	c.indexFile = path
	return c
}

func (c *GitClient) run(ctx context.Context, args ...string) (string, error) {
	out, _, err := c.runCapture(ctx, args...)
	return out, err
}

// runCapture executes a git command in repoPath and returns both
// streams even on failure, since some commands (merge, apply --check)
// carry the information callers need in stdout.
func (c *GitClient) runCapture(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.workTree != "" {
		args = append([]string{
			"--git-dir=" + filepath.Join(c.repoPath, ".git"),
			"--work-tree=" + c.workTree,
		}, args...)
	}

	// exec.CommandContext never invokes a shell, so these args are not
	// subject to shell interpolation; caller-controlled strings (branch
	// names, paths) are still validated before reaching here.
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	if c.workTree != "" {
		cmd.Dir = c.workTree
	} else {
		cmd.Dir = c.repoPath
	}
	if c.indexFile != "" {
		cmd.Env = append(os.Environ(), "GIT_INDEX_FILE="+c.indexFile)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stdout, stderr, core.ErrIsolation("GIT_TIMEOUT", "git "+strings.Join(args, " ")+" timed out")
		}
		return stdout, stderr, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), runErr, stderr)
	}
	return stdout, stderr, nil
}

// RepoRoot implements core.GitClient.
func (c *GitClient) RepoRoot(_ context.Context) (string, error) {
	return c.repoPath, nil
}

// CurrentBranch implements core.GitClient.
func (c *GitClient) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadCommit implements core.GitClient.
func (c *GitClient) HeadCommit(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

// BranchExists implements core.GitClient.
func (c *GitClient) BranchExists(ctx context.Context, name string) (bool, error) {
	if err := validateBranchName(name); err != nil {
		return false, err
	}
	_, _, err := c.runCapture(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 1") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateBranch implements core.GitClient.
func (c *GitClient) CreateBranch(ctx context.Context, name, base string) error {
	if err := validateBranchName(name); err != nil {
		return err
	}
	args := []string{"branch", name}
	if base != "" {
		if err := validateRev(base); err != nil {
			return err
		}
		args = append(args, base)
	}
	_, err := c.run(ctx, args...)
	return err
}

// DeleteBranch implements core.GitClient.
func (c *GitClient) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := validateBranchName(name); err != nil {
		return err
	}
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := c.run(ctx, "branch", flag, name)
	return err
}

// CreateWorktree implements core.GitClient. It creates branch from base
// if the branch does not already exist.
func (c *GitClient) CreateWorktree(ctx context.Context, path, branch, base string) error {
	if err := validateBranchName(branch); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating worktree parent directory: %w", err)
	}

	exists, err := c.BranchExists(ctx, branch)
	if err != nil {
		return err
	}

	var args []string
	switch {
	case exists:
		args = []string{"worktree", "add", path, branch}
	case base != "":
		if err := validateRev(base); err != nil {
			return err
		}
		args = []string{"worktree", "add", "-b", branch, path, base}
	default:
		args = []string{"worktree", "add", "-b", branch, path}
	}

	_, err = c.run(ctx, args...)
	return err
}

// RemoveWorktree implements core.GitClient.
func (c *GitClient) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := c.run(ctx, args...)
	return err
}

// ListWorktrees implements core.GitClient.
func (c *GitClient) ListWorktrees(ctx context.Context) ([]core.WorktreeInfo, error) {
	output, err := c.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(output), nil
}

func parseWorktreeList(output string) []core.WorktreeInfo {
	var worktrees []core.WorktreeInfo
	var current *core.WorktreeInfo

	flush := func() {
		if current != nil {
			worktrees = append(worktrees, *current)
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &core.WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case current != nil && strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()
	return worktrees
}

// Diff implements core.GitClient: the unified diff of the working tree
// (including untracked, via intent-to-add) against ref.
func (c *GitClient) Diff(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return c.run(ctx, "diff", "--binary", ref)
}

// UntrackedFiles implements core.GitClient.
func (c *GitClient) UntrackedFiles(ctx context.Context) ([]string, error) {
	output, err := c.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}

// Add implements core.GitClient.
func (c *GitClient) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := c.run(ctx, args...)
	return err
}

// Commit implements core.GitClient.
func (c *GitClient) Commit(ctx context.Context, message string) (string, error) {
	if _, err := c.run(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return c.HeadCommit(ctx)
}

// AmendCommitMessage rewrites HEAD's commit message in place, keeping
// its tree and author. Used by merge's commit-message enrichment step,
// run against a throwaway worktree checked out onto the branch being
// amended so the caller's own checkout is never touched.
func (c *GitClient) AmendCommitMessage(ctx context.Context, message string) (string, error) {
	if _, err := c.run(ctx, "commit", "--amend", "-m", message); err != nil {
		return "", err
	}
	return c.HeadCommit(ctx)
}

// Merge implements core.GitClient.
func (c *GitClient) Merge(ctx context.Context, branch string) error {
	if err := validateBranchName(branch); err != nil {
		return err
	}
	stdout, stderr, err := c.runCapture(ctx, "merge", "--no-edit", branch)
	if err != nil {
		if strings.Contains(stdout, "CONFLICT") || strings.Contains(stderr, "CONFLICT") ||
			strings.Contains(stdout, "Automatic merge failed") {
			return fmt.Errorf("%w: %s", ErrMergeConflict, firstLine(stdout))
		}
		if strings.Contains(stdout, "Already up to date") {
			return nil
		}
		return err
	}
	return nil
}

// ApplyPatchCheck implements core.GitClient: `git apply --check --binary`.
func (c *GitClient) ApplyPatchCheck(ctx context.Context, patch string) error {
	return c.applyPatch(ctx, patch, true)
}

// ApplyPatch implements core.GitClient: `git apply --binary`.
func (c *GitClient) ApplyPatch(ctx context.Context, patch string) error {
	return c.applyPatch(ctx, patch, false)
}

func (c *GitClient) applyPatch(ctx context.Context, patch string, checkOnly bool) error {
	f, err := os.CreateTemp("", "taskcore-patch-*.diff")
	if err != nil {
		return fmt.Errorf("creating temp patch file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(patch); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing temp patch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp patch file: %w", err)
	}

	args := []string{"apply", "--binary"}
	if checkOnly {
		args = append(args, "--check")
	}
	args = append(args, f.Name())

	_, stderr, err := c.runCapture(ctx, args...)
	if err != nil {
		return fmt.Errorf("git apply: %w: %s", err, stderr)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func resolveGitBinaryPath(repoAbs string) (string, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return "", fmt.Errorf("git not found in PATH: %w", err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving git path: %w", err)
	}
	real := abs
	if rr, err := filepath.EvalSymlinks(abs); err == nil {
		real = rr
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("stat git binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("git binary is not a regular file: %s", real)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("git binary is not executable: %s", real)
	}
	if isPathWithinDir(repoAbs, real) {
		return "", fmt.Errorf("refusing to execute git from within repository: %s", real)
	}
	return real, nil
}

func isPathWithinDir(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

func validateBranchName(name string) error {
	if name == "" {
		return core.ErrValidation("INVALID_BRANCH", "branch name must not be empty")
	}
	if strings.HasPrefix(name, "-") {
		return core.ErrValidation("INVALID_BRANCH", "branch name must not start with '-'")
	}
	if strings.ContainsAny(name, " \t\n\r") || strings.Contains(name, "..") ||
		strings.Contains(name, "@{") || strings.Contains(name, "//") {
		return core.ErrValidation("INVALID_BRANCH", "branch name contains a forbidden sequence")
	}
	for _, r := range name {
		switch r {
		case '~', '^', ':', '?', '*', '[', '\\':
			return core.ErrValidation("INVALID_BRANCH", fmt.Sprintf("branch name contains forbidden character %q", r))
		}
		if r < 0x20 || r == 0x7f {
			return core.ErrValidation("INVALID_BRANCH", "branch name contains a control character")
		}
	}
	return nil
}

func validateRev(rev string) error {
	if strings.HasPrefix(rev, "-") {
		return core.ErrValidation("INVALID_BRANCH", "revision must not start with '-'")
	}
	return nil
}
