// Package toolruntime implements core.ToolRuntime: the file I/O and
// shell tools a sub-agent's model turn can call, executed with the
// task's isolated workDir as the working directory and its output
// captured through the Output Sink (§4.A), the same way the teacher's
// CLI adapters shell out to external processes (internal/adapters/cli)
// and wrap their stdout for the caller.
package toolruntime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/outputsink"
)

const (
	toolReadFile  = "read_file"
	toolWriteFile = "write_file"
	toolRunShell  = "run_shell"
)

// Specs returns the ToolSpec catalog this runtime serves, for the
// scheduler to surface on every ModelRequest.
func Specs() []core.ToolSpec {
	return []core.ToolSpec{
		{
			Name:        toolReadFile,
			Description: "Read a UTF-8 text file relative to the task workspace.",
			InputSchema: core.JSONSchema{
				"type":                 "object",
				"properties":           map[string]any{"path": map[string]any{"type": "string"}},
				"required":             []any{"path"},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolWriteFile,
			Description: "Write a UTF-8 text file relative to the task workspace, creating parent directories as needed.",
			InputSchema: core.JSONSchema{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required":             []any{"path", "content"},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolRunShell,
			Description: "Run a shell command inside the task workspace and capture its combined output.",
			InputSchema: core.JSONSchema{
				"type":                 "object",
				"properties":           map[string]any{"command": map[string]any{"type": "string"}},
				"required":             []any{"command"},
				"additionalProperties": false,
			},
		},
	}
}

// Runtime is the default core.ToolRuntime: a fixed set of file and
// shell tools, sandboxed only by workDir (the caller is responsible
// for that directory being an isolated worktree or overlay mount).
type Runtime struct {
	SpillDir     string
	ShellCommand []string // defaults to {"sh", "-c"}
}

// New builds a Runtime that spills oversized shell output under spillDir.
func New(spillDir string) *Runtime {
	return &Runtime{SpillDir: spillDir}
}

// Execute implements core.ToolRuntime.
func (r *Runtime) Execute(ctx context.Context, workDir string, call core.ModelToolCall) (core.ToolResult, error) {
	switch call.Name {
	case toolReadFile:
		return r.readFile(workDir, call)
	case toolWriteFile:
		return r.writeFile(workDir, call)
	case toolRunShell:
		return r.runShell(ctx, workDir, call)
	default:
		return core.ToolResult{Output: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}, nil
	}
}

func (r *Runtime) readFile(workDir string, call core.ModelToolCall) (core.ToolResult, error) {
	path, ok := call.Arguments["path"].(string)
	if !ok || path == "" {
		return core.ToolResult{Output: "read_file requires a non-empty \"path\" argument", IsError: true}, nil
	}
	resolved, err := resolveWithinWorkDir(workDir, path)
	if err != nil {
		return core.ToolResult{Output: err.Error(), IsError: true}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return core.ToolResult{Output: fmt.Sprintf("reading %s: %v", path, err), IsError: true}, nil
	}
	return core.ToolResult{Output: string(data)}, nil
}

func (r *Runtime) writeFile(workDir string, call core.ModelToolCall) (core.ToolResult, error) {
	path, ok := call.Arguments["path"].(string)
	if !ok || path == "" {
		return core.ToolResult{Output: "write_file requires a non-empty \"path\" argument", IsError: true}, nil
	}
	content, _ := call.Arguments["content"].(string)

	resolved, err := resolveWithinWorkDir(workDir, path)
	if err != nil {
		return core.ToolResult{Output: err.Error(), IsError: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return core.ToolResult{Output: fmt.Sprintf("creating parent directories for %s: %v", path, err), IsError: true}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return core.ToolResult{Output: fmt.Sprintf("writing %s: %v", path, err), IsError: true}, nil
	}
	return core.ToolResult{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

func (r *Runtime) runShell(ctx context.Context, workDir string, call core.ModelToolCall) (core.ToolResult, error) {
	command, ok := call.Arguments["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return core.ToolResult{Output: "run_shell requires a non-empty \"command\" argument", IsError: true}, nil
	}

	shell := r.ShellCommand
	if len(shell) == 0 {
		shell = []string{"sh", "-c"}
	}
	args := append(append([]string{}, shell[1:]...), command)
	cmd := exec.CommandContext(ctx, shell[0], args...)
	cmd.Dir = workDir

	sink := outputsink.New(r.SpillDir, call.ID)
	cmd.Stdout = sink
	cmd.Stderr = sink

	runErr := cmd.Run()
	summary, dumpErr := sink.Dump("")
	if dumpErr != nil {
		return core.ToolResult{Output: fmt.Sprintf("capturing shell output: %v", dumpErr), IsError: true}, nil
	}

	result := core.ToolResult{Output: summary.PreviewText, Truncated: summary.Truncated, SpillPath: summary.SpillPath}
	if runErr != nil {
		result.IsError = true
		result.Output += fmt.Sprintf("\ncommand failed: %v", runErr)
	}
	return result, nil
}

// resolveWithinWorkDir rejects paths that would escape workDir via
// "..", keeping a task's file tools confined to its own isolated
// workspace even if the model requests an absolute or traversal path.
func resolveWithinWorkDir(workDir, path string) (string, error) {
	joined := filepath.Join(workDir, path)
	rel, err := filepath.Rel(workDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the task workspace", path)
	}
	return joined, nil
}
