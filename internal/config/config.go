// Package config loads the settings the rest of this module runs with:
// scheduler concurrency, isolation mode/backend, merge mode, agent
// directories, and the HTTP control API's listen address. Mirrors the
// teacher's internal/config package (a viper-backed Loader producing a
// plain struct, never a package-level global).
package config

import "github.com/theerud/taskcore/internal/core"

// Settings holds every externally-tunable knob this module reads at
// startup.
type Settings struct {
	Log       LogSettings       `mapstructure:"log"`
	Scheduler SchedulerSettings `mapstructure:"scheduler"`
	Isolation IsolationSettings `mapstructure:"isolation"`
	Merge     MergeSettings     `mapstructure:"merge"`
	Agents    AgentsSettings    `mapstructure:"agents"`
	Async     AsyncSettings     `mapstructure:"async"`
	Server    ServerSettings    `mapstructure:"server"`
	Model     ModelSettings     `mapstructure:"model"`
}

// ModelSettings configures the Model Gateway. The API key is
// deliberately not a settings field: it is read from the
// ANTHROPIC_API_KEY environment variable at startup, the one place
// this module touches a model credential.
type ModelSettings struct {
	DefaultModel string `mapstructure:"default_model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// LogSettings configures the structured logger (internal/logging).
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SchedulerSettings configures the Task Scheduler (§4.E).
type SchedulerSettings struct {
	// MaxConcurrency bounds the number of sub-agent turns run at once.
	// Zero means "pick from host CPU count" (scheduler.defaultMaxConcurrency).
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// SelfAgentName names the agent the current process is itself
	// running as, so a batch targeting it is rejected as self-recursion
	// (§9: an explicit field replacing the "ad-hoc recursion guard via
	// env var" the original relied on).
	SelfAgentName string `mapstructure:"self_agent_name"`
	// SessionDir is where per-batch session artifact directories (§6)
	// are written: <id>.out, <id>.patch, context.md.
	SessionDir string `mapstructure:"session_dir"`
}

// IsolationSettings configures the Worktree/Overlay Manager (§4.C).
type IsolationSettings struct {
	// Mode is "patch" or "branch" (core.IsolationMode).
	Mode string `mapstructure:"mode"`
	// Backend is "git_worktree" or "overlay_fs" (core.BackendKind).
	Backend string `mapstructure:"backend"`
	// BaseDir is where isolated worktrees/overlays are materialized.
	BaseDir string `mapstructure:"base_dir"`
}

// IsolationModeValue converts Mode to its typed form, defaulting to
// patch mode for an empty or unrecognized value.
func (s IsolationSettings) IsolationModeValue() core.IsolationMode {
	if s.Mode == string(core.IsolationModeBranch) {
		return core.IsolationModeBranch
	}
	return core.IsolationModePatch
}

// BackendKindValue converts Backend to its typed form, defaulting to
// the git-worktree backend for an empty or unrecognized value.
func (s IsolationSettings) BackendKindValue() core.BackendKind {
	if s.Backend == string(core.BackendOverlayFS) {
		return core.BackendOverlayFS
	}
	return core.BackendGitWorktree
}

// MergeSettings configures Merge & Reconciliation (§4.F).
type MergeSettings struct {
	// CommitMessageModel, when set, names the model used to generate
	// branch-mode commit messages from a task's diff. Empty disables
	// generation; merge always falls back to task(<id>): <description>.
	CommitMessageModel string `mapstructure:"commit_message_model"`
}

// AgentsSettings configures the Agent Registry (§4.B).
type AgentsSettings struct {
	BundledDir     string   `mapstructure:"bundled_dir"`
	UserDir        string   `mapstructure:"user_dir"`
	ProjectDir     string   `mapstructure:"project_dir"`
	DisabledAgents []string `mapstructure:"disabled_agents"`
}

// AsyncSettings configures the Task Scheduler's async-mode job store.
type AsyncSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// ServerSettings configures the HTTP control API (cmd/taskcore serve).
type ServerSettings struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
