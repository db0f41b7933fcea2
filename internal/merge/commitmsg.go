package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/theerud/taskcore/internal/core"
)

// CommitMessageGenerator produces a short commit message summarizing a
// task branch's diff (§4.F "Commit messages"). Implementations wrapping
// a small model are a best-effort enhancement; any failure here is
// non-fatal and falls back to defaultCommitMessage.
type CommitMessageGenerator interface {
	Generate(ctx context.Context, taskID, description, diff string) (string, error)
}

// defaultCommitMessage builds the fallback synthetic-commit message
// (§4.F: "task(<id>): <description>").
func defaultCommitMessage(taskID, description string) string {
	if description == "" {
		return fmt.Sprintf("task(%s): isolated changes", taskID)
	}
	return fmt.Sprintf("task(%s): %s", taskID, description)
}

// modelCommitMessageGenerator generates a commit message by sending the
// task's diff through the same core.ModelGateway used for sub-agent
// turns, as a one-shot, non-agentic call rather than a full turn loop.
type modelCommitMessageGenerator struct {
	gateway core.ModelGateway
	model   string
}

// NewModelCommitMessageGenerator wraps gateway as a CommitMessageGenerator.
// model may be empty to let the gateway pick its own default.
func NewModelCommitMessageGenerator(gateway core.ModelGateway, model string) CommitMessageGenerator {
	return &modelCommitMessageGenerator{gateway: gateway, model: model}
}

func (g *modelCommitMessageGenerator) Generate(ctx context.Context, taskID, description, diff string) (string, error) {
	if g.gateway == nil {
		return "", fmt.Errorf("no model gateway configured")
	}

	var prompt strings.Builder
	prompt.WriteString("Write a single-line git commit message, under 72 characters, summarizing this diff. ")
	prompt.WriteString("Respond with the message only, no quotes, no trailing period.\n\n")
	fmt.Fprintf(&prompt, "task: %s\n", description)
	prompt.WriteString("diff:\n")
	prompt.WriteString(diff)

	resp, err := g.gateway.Send(ctx, core.ModelRequest{
		SystemPrompt: "You write terse, conventional git commit messages from diffs.",
		Messages:     []core.Message{{Role: "user", Content: prompt.String()}},
		Model:        g.model,
	})
	if err != nil {
		return "", err
	}

	msg := strings.TrimSpace(strings.SplitN(resp.Text, "\n", 2)[0])
	if msg == "" {
		return "", fmt.Errorf("model returned an empty commit message")
	}
	return msg, nil
}
