package core

import "context"

// GitClient is the shell-exec contract every isolation backend builds
// on (§4.C). Implementations shell out to the system git binary; see
// the isolation package's git adapter.
type GitClient interface {
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (string, error)

	BranchExists(ctx context.Context, name string) (bool, error)
	CreateBranch(ctx context.Context, name, base string) error
	DeleteBranch(ctx context.Context, name string, force bool) error

	CreateWorktree(ctx context.Context, path, branch, base string) error
	RemoveWorktree(ctx context.Context, path string, force bool) error
	ListWorktrees(ctx context.Context) ([]WorktreeInfo, error)

	// Diff returns a unified diff of the working tree against ref,
	// including binary markers so it survives ApplyPatch round-trips.
	Diff(ctx context.Context, ref string) (string, error)
	UntrackedFiles(ctx context.Context) ([]string, error)

	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) (string, error)
	Merge(ctx context.Context, branch string) error

	// ApplyPatchCheck dry-runs a patch (git apply --check --binary).
	ApplyPatchCheck(ctx context.Context, patch string) error
	// ApplyPatch applies a patch for real (git apply --binary).
	ApplyPatch(ctx context.Context, patch string) error
}

// WorktreeManager materializes and tears down one task's isolated
// workspace, in either git-worktree or overlay-fs backend mode (§4.C).
type WorktreeManager interface {
	// Prepare captures the baseline and materializes an isolated
	// workspace rooted at the returned WorktreeInfo.Path.
	Prepare(ctx context.Context, taskID string, baseline Baseline) (*WorktreeInfo, error)

	// CaptureDelta diffs the isolated workspace against its baseline
	// and returns the result in the isolation mode the manager was
	// configured with. Called once, after the worker's last write.
	CaptureDelta(ctx context.Context, info *WorktreeInfo) (*Delta, error)

	// Cleanup removes the isolated workspace. Safe to call after a
	// failed Prepare or a cancelled run; idempotent.
	Cleanup(ctx context.Context, info *WorktreeInfo) error
}

// ModelGateway is the boundary to whatever LLM backend a sub-agent
// turn-loop talks to (§4.D). One Send call is one model turn.
type ModelGateway interface {
	Send(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ModelRequest is one turn's input: accumulated conversation plus the
// tool surface available to the agent this turn.
type ModelRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	Model        string
	Thinking     ThinkingLevel
}

// Message is one entry in a sub-agent's conversation transcript.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolName   string
}

// ToolSpec describes one callable tool surfaced to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema JSONSchema
}

// ModelResponse is one turn's output: assistant text plus any tool
// calls the model asked to make.
type ModelResponse struct {
	Text      string
	ToolCalls []ModelToolCall
	Usage     Usage
	Stopped   bool // true when the model ended its turn without a tool call
}

// ModelToolCall is one tool invocation requested by the model.
type ModelToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolRuntime executes tool calls a sub-agent's model turn requested,
// inside the task's isolated workspace (§4.D).
type ToolRuntime interface {
	Execute(ctx context.Context, workDir string, call ModelToolCall) (ToolResult, error)
}

// ToolResult is the outcome of one tool execution, captured through
// the Output Sink (§4.A) and truncated to its preview bounds.
type ToolResult struct {
	Output    string
	Truncated bool
	SpillPath string
	IsError   bool
}

// SessionStore persists the per-batch session artifact directory (§6):
// transcripts, spilled tool output, and the final batch summary.
type SessionStore interface {
	ArtifactDir(artifactID string) (string, error)
	WriteArtifact(artifactID, relPath string, data []byte) (string, error)
	ReadArtifact(artifactID, relPath string) ([]byte, error)
	// RemoveArtifactDir deletes a batch's artifact directory outright.
	// Called once a batch's changes have been applied to the parent
	// workspace and the artifacts are no longer needed for recovery.
	RemoveArtifactDir(artifactID string) error
}

// PromptRenderer renders a batch's context template into one task's
// sub-agent prompt (§3's Task Batch "context" field). Template syntax
// and rendering semantics are explicitly out of scope for this
// subsystem; the scheduler only consumes the rendered string.
type PromptRenderer interface {
	Render(contextTemplate string, task TaskItem) (string, error)
}

// AgentRegistryPort is the subset of the registry package's behavior
// the scheduler depends on, kept narrow so the scheduler package
// doesn't import registry's file-loading machinery directly.
type AgentRegistryPort interface {
	Get(name string) (*AgentDefinition, error)
	List() []*AgentDefinition
	Suggest(name string) []string
}
