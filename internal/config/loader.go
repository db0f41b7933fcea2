package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Loader handles settings loading from multiple sources, mirroring the
// teacher's internal/config.Loader: defaults, then project config file,
// then environment variables, then anything the caller binds directly
// onto the underlying viper instance (e.g. CLI flags).
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string

	mu sync.Mutex
}

// NewLoader creates a loader with the module's default environment
// prefix (TASKCORE_*).
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "TASKCORE"}
}

// NewLoaderWithViper builds a loader on top of an existing viper
// instance, for callers that need to bind CLI flags before Load runs.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "TASKCORE"}
}

// WithConfigFile pins an explicit settings file path, bypassing search.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads settings from, in ascending precedence: defaults, a
// project .taskcore.yaml (or explicit WithConfigFile path), then
// TASKCORE_* environment variables, then anything already bound onto
// the viper instance (e.g. CLI flags set via BindPFlag before Load).
func (l *Loader) Load() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".taskcore")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "taskcore"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// no config file present; defaults + env stand alone
		case errors.Is(err, os.ErrNotExist):
			// explicit config file path doesn't exist
		default:
			return nil, fmt.Errorf("reading settings: %w", err)
		}
	}

	var cfg Settings
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	if cfg.Isolation.BaseDir != "" {
		cfg.Isolation.BaseDir = resolvePathRelativeToCWD(cfg.Isolation.BaseDir)
	}
	if cfg.Scheduler.SessionDir != "" {
		cfg.Scheduler.SessionDir = resolvePathRelativeToCWD(cfg.Scheduler.SessionDir)
	}
	if cfg.Async.DBPath != "" && cfg.Async.DBPath != ":memory:" {
		cfg.Async.DBPath = resolvePathRelativeToCWD(cfg.Async.DBPath)
	}

	return &cfg, nil
}

func resolvePathRelativeToCWD(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("scheduler.max_concurrency", 0)
	l.v.SetDefault("scheduler.self_agent_name", "")
	l.v.SetDefault("scheduler.session_dir", ".taskcore/sessions")

	l.v.SetDefault("isolation.mode", "patch")
	l.v.SetDefault("isolation.backend", "git_worktree")
	l.v.SetDefault("isolation.base_dir", ".taskcore/worktrees")

	l.v.SetDefault("merge.commit_message_model", "")

	l.v.SetDefault("agents.bundled_dir", "")
	l.v.SetDefault("agents.user_dir", "")
	l.v.SetDefault("agents.project_dir", ".taskcore/agents")
	l.v.SetDefault("agents.disabled_agents", []string{})

	l.v.SetDefault("async.enabled", false)
	l.v.SetDefault("async.db_path", ".taskcore/async_jobs.db")

	l.v.SetDefault("server.addr", "127.0.0.1:8787")
	l.v.SetDefault("server.allowed_origins", []string{})

	l.v.SetDefault("model.default_model", "claude-sonnet-4-5-20250929")
	l.v.SetDefault("model.max_tokens", 8192)
}

// ConfigFile returns the settings file path actually used, if any.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}

// Validate checks settings consistency beyond what unmarshaling alone
// can catch, so misconfiguration fails fast at startup rather than
// surfacing as an opaque scheduler validation error mid-batch.
func Validate(cfg *Settings) error {
	switch cfg.Isolation.Mode {
	case "patch", "branch":
	default:
		return fmt.Errorf("isolation.mode must be %q or %q, got %q", "patch", "branch", cfg.Isolation.Mode)
	}

	switch cfg.Isolation.Backend {
	case "git_worktree", "overlay_fs":
	default:
		return fmt.Errorf("isolation.backend must be %q or %q, got %q", "git_worktree", "overlay_fs", cfg.Isolation.Backend)
	}

	if cfg.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("scheduler.max_concurrency must be >= 0, got %d", cfg.Scheduler.MaxConcurrency)
	}

	if cfg.Async.Enabled && strings.TrimSpace(cfg.Async.DBPath) == "" {
		return fmt.Errorf("async.db_path is required when async.enabled is true")
	}

	return nil
}
