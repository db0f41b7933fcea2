package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/theerud/taskcore/internal/config"
	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/executor"
	"github.com/theerud/taskcore/internal/isolation"
	"github.com/theerud/taskcore/internal/logging"
	"github.com/theerud/taskcore/internal/merge"
	"github.com/theerud/taskcore/internal/modelgateway"
	"github.com/theerud/taskcore/internal/promptrender"
	"github.com/theerud/taskcore/internal/registry"
	"github.com/theerud/taskcore/internal/scheduler"
	"github.com/theerud/taskcore/internal/sessionstore"
	"github.com/theerud/taskcore/internal/toolruntime"
)

// deps bundles every collaborator a Scheduler needs, built once per
// process invocation from loaded Settings.
type deps struct {
	cfg       *config.Settings
	logger    *logging.Logger
	scheduler *scheduler.Scheduler
	async     *scheduler.AsyncJobManager // non-nil iff cfg.Async.Enabled
}

// buildDeps loads settings and constructs every collaborator the
// scheduler needs. Missing optional collaborators (no git repo, no
// API key) degrade gracefully the way the teacher's runWorkflow does
// for its own optional git/GitHub clients, logging a warning instead
// of failing outright, since not every invocation needs isolation or
// a live model.
func buildDeps(ctx context.Context) (*deps, error) {
	loader := config.NewLoaderWithViper(rootViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})

	reg, err := registry.New(registry.Sources{
		BundledDir: cfg.Agents.BundledDir,
		UserDir:    cfg.Agents.UserDir,
		ProjectDir: cfg.Agents.ProjectDir,
	}, cfg.Agents.DisabledAgents, logger)
	if err != nil {
		return nil, fmt.Errorf("loading agent registry: %w", err)
	}

	gitClient, gitErr := isolation.NewGitClient(".")
	if gitErr != nil {
		logger.Warn("no git repository detected, isolation and merge disabled", "error", gitErr)
	}

	var worktreeMgr core.WorktreeManager
	if gitClient != nil {
		worktreeMgr, err = isolation.New(ctx, cfg.Isolation.BackendKindValue(), cfg.Isolation.IsolationModeValue(), gitClient, cfg.Isolation.BaseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("building worktree manager: %w", err)
		}
	}

	gateway, gwErr := buildGateway(cfg)
	if gwErr != nil {
		logger.Warn("model gateway unavailable, batches will fail at submission", "error", gwErr)
	}

	var msgGen merge.CommitMessageGenerator
	if cfg.Merge.CommitMessageModel != "" && gateway != nil {
		msgGen = merge.NewModelCommitMessageGenerator(gateway, cfg.Merge.CommitMessageModel)
	}
	merger := merge.New(gitClient, cfg.Isolation.IsolationModeValue(), msgGen, logger)

	sched := scheduler.New(logger)
	sched.Registry = reg
	sched.Git = gitClient
	sched.Worktree = worktreeMgr
	sched.Gateway = gateway
	sched.Tools = toolruntime.New(cfg.Isolation.BaseDir)
	sched.Renderer = promptrender.New()
	sched.Exec = executor.New(logger)
	sched.Merger = merger
	sched.ToolSpecs = toolruntime.Specs()
	sched.Sessions = sessionstore.New(cfg.Scheduler.SessionDir)
	sched.SelfAgentName = cfg.Scheduler.SelfAgentName
	sched.ParentSpawns = core.SpawnAny
	sched.MaxConcurrency = cfg.Scheduler.MaxConcurrency
	sched.Logger = logger

	d := &deps{cfg: cfg, logger: logger, scheduler: sched}

	if cfg.Async.Enabled {
		asyncMgr, asyncErr := scheduler.NewAsyncJobManager(cfg.Async.DBPath)
		if asyncErr != nil {
			return nil, fmt.Errorf("opening async job store: %w", asyncErr)
		}
		sched.Async = asyncMgr
		d.async = asyncMgr
	}

	return d, nil
}

func buildGateway(cfg *config.Settings) (core.ModelGateway, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	gw, err := modelgateway.NewFromAPIKey(apiKey, cfg.Model.DefaultModel)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func (d *deps) Close() {
	if d.async != nil {
		_ = d.async.Close()
	}
}
