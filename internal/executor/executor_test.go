package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/executor"
)

// scriptedGateway replays one core.ModelResponse per Send call, in order.
type scriptedGateway struct {
	turns []core.ModelResponse
	n     int
}

func (g *scriptedGateway) Send(_ context.Context, _ core.ModelRequest) (core.ModelResponse, error) {
	if g.n >= len(g.turns) {
		return core.ModelResponse{Stopped: true}, nil
	}
	resp := g.turns[g.n]
	g.n++
	return resp, nil
}

type noopTools struct{}

func (noopTools) Execute(_ context.Context, _ string, call core.ModelToolCall) (core.ToolResult, error) {
	return core.ToolResult{Output: "ok: " + call.Name}, nil
}

func newAgent(output *core.JSONSchema) *core.AgentDefinition {
	return &core.AgentDefinition{
		Name:         "reviewer",
		Description:  "reviews things",
		SystemPrompt: "you review things",
		Output:       output,
	}
}

func newSpec(agent *core.AgentDefinition, gw core.ModelGateway) executor.TaskSpec {
	return executor.TaskSpec{
		TaskID:       "task-1",
		Prompt:       "review this",
		Agent:        agent,
		ParentSpawns: core.SpawnAny,
		Gateway:      gw,
		Tools:        noopTools{},
		Progress:     core.NewProgressRecord(0, "task-1", agent.Name, "review this", "review"),
		Cancel:       control.NewToken(),
	}
}

func TestExecutor_SchemaLess_CollectsFinalText(t *testing.T) {
	gw := &scriptedGateway{turns: []core.ModelResponse{
		{Text: "done reviewing", Stopped: true},
	}}

	e := executor.New(nil)
	result := e.Run(context.Background(), newSpec(newAgent(nil), gw))

	require.Equal(t, core.TaskStatusCompleted, result.Status)
	require.Equal(t, "done reviewing", result.Summary)
	require.Nil(t, result.StructuredOutput)
}

func TestExecutor_SubmitResult_SchemaValid_Completes(t *testing.T) {
	schema := core.JSONSchema{
		"type":     "object",
		"required": []any{"verdict"},
		"properties": map[string]any{
			"verdict": map[string]any{"type": "string"},
		},
	}
	gw := &scriptedGateway{turns: []core.ModelResponse{
		{
			ToolCalls: []core.ModelToolCall{
				{ID: "1", Name: "submit_result", Arguments: map[string]any{"verdict": "looks good"}},
			},
		},
	}}

	e := executor.New(nil)
	result := e.Run(context.Background(), newSpec(newAgent(&schema), gw))

	require.Equal(t, core.TaskStatusCompleted, result.Status)
	out, ok := result.StructuredOutput.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "looks good", out["verdict"])
}

func TestExecutor_SubmitResult_SchemaInvalid_RetriesWithoutCountingReminder(t *testing.T) {
	schema := core.JSONSchema{
		"type":     "object",
		"required": []any{"verdict"},
		"properties": map[string]any{
			"verdict": map[string]any{"type": "string"},
		},
	}
	gw := &scriptedGateway{turns: []core.ModelResponse{
		{ToolCalls: []core.ModelToolCall{
			{ID: "1", Name: "submit_result", Arguments: map[string]any{}},
		}},
		{ToolCalls: []core.ModelToolCall{
			{ID: "2", Name: "submit_result", Arguments: map[string]any{"verdict": "fixed"}},
		}},
	}}

	e := executor.New(nil)
	result := e.Run(context.Background(), newSpec(newAgent(&schema), gw))

	require.Equal(t, core.TaskStatusCompleted, result.Status)
	out, ok := result.StructuredOutput.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "fixed", out["verdict"])
}

func TestExecutor_StopsWithoutSubmitResult_AbortsAfterReminderCap(t *testing.T) {
	schema := core.JSONSchema{"type": "object"}
	turns := make([]core.ModelResponse, 0, 5)
	for i := 0; i < 5; i++ {
		turns = append(turns, core.ModelResponse{Text: "thinking...", Stopped: true})
	}
	gw := &scriptedGateway{turns: turns}

	e := executor.New(nil)
	result := e.Run(context.Background(), newSpec(newAgent(&schema), gw))

	require.Equal(t, core.TaskStatusAborted, result.Status)
	require.Equal(t, core.ErrCatSubmitResult, result.ErrorCategory)
	require.Equal(t, "Subagent stopped without submit_result.", result.Error)
}

func TestExecutor_SpawnDenied_SynthesizesFailureWithoutStartingSession(t *testing.T) {
	gw := &scriptedGateway{turns: []core.ModelResponse{{Text: "should never be called", Stopped: true}}}
	spec := newSpec(newAgent(nil), gw)
	spec.ParentSpawns = core.SpawnNone

	e := executor.New(nil)
	result := e.Run(context.Background(), spec)

	require.Equal(t, core.TaskStatusFailed, result.Status)
	require.Equal(t, core.ErrCatValidation, result.ErrorCategory)
	require.Equal(t, 0, gw.n, "gateway must never be called when spawn is denied")
}

func TestExecutor_OrdinaryToolCalls_FeedBackIntoConversation(t *testing.T) {
	gw := &scriptedGateway{turns: []core.ModelResponse{
		{ToolCalls: []core.ModelToolCall{{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}}}},
		{Text: "all good", Stopped: true},
	}}

	e := executor.New(nil)
	spec := newSpec(newAgent(nil), gw)
	result := e.Run(context.Background(), spec)

	require.Equal(t, core.TaskStatusCompleted, result.Status)
	require.Equal(t, "all good", result.Summary)
	require.Equal(t, 1, result.ToolCount)
}

func TestExecutor_Cancelled_AbortsBeforeSending(t *testing.T) {
	gw := &scriptedGateway{turns: []core.ModelResponse{{Text: "unreachable", Stopped: true}}}
	spec := newSpec(newAgent(nil), gw)
	spec.Cancel.Cancel()

	e := executor.New(nil)
	result := e.Run(context.Background(), spec)

	require.Equal(t, core.TaskStatusAborted, result.Status)
	require.Equal(t, core.ErrCatCancellation, result.ErrorCategory)
	require.Equal(t, 0, gw.n)
}
