package scheduler_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/executor"
	"github.com/theerud/taskcore/internal/scheduler"
	"github.com/theerud/taskcore/internal/sessionstore"
)

type fakeRegistry struct {
	agents map[string]*core.AgentDefinition
}

func (f *fakeRegistry) Get(name string) (*core.AgentDefinition, error) {
	a, ok := f.agents[name]
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownAgent, "unknown agent: "+name)
	}
	if a.Disabled {
		return nil, core.ErrValidation(core.CodeDisabledAgent, "agent is disabled: "+name)
	}
	return a, nil
}

func (f *fakeRegistry) List() []*core.AgentDefinition { return nil }
func (f *fakeRegistry) Suggest(string) []string       { return nil }

func newReviewer() *core.AgentDefinition {
	return &core.AgentDefinition{Name: "reviewer", Description: "reviews", SystemPrompt: "review"}
}

type passthroughRenderer struct{}

func (passthroughRenderer) Render(tmpl string, task core.TaskItem) (string, error) {
	return tmpl + ": " + task.Task, nil
}

// trackingGateway stops every turn immediately with fixed text, while
// tracking the peak number of concurrently in-flight Send calls.
type trackingGateway struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	delay    time.Duration
}

func (g *trackingGateway) Send(ctx context.Context, _ core.ModelRequest) (core.ModelResponse, error) {
	cur := atomic.AddInt32(&g.inFlight, 1)
	defer atomic.AddInt32(&g.inFlight, -1)

	g.mu.Lock()
	if cur > g.peak {
		g.peak = cur
	}
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return core.ModelResponse{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	return core.ModelResponse{Text: "done", Stopped: true}, nil
}

type noopTools struct{}

func (noopTools) Execute(context.Context, string, core.ModelToolCall) (core.ToolResult, error) {
	return core.ToolResult{}, nil
}

func newScheduler(gw core.ModelGateway, maxConcurrency int) *scheduler.Scheduler {
	s := scheduler.New(nil)
	s.Registry = &fakeRegistry{agents: map[string]*core.AgentDefinition{"reviewer": newReviewer()}}
	s.Gateway = gw
	s.Tools = noopTools{}
	s.Renderer = passthroughRenderer{}
	s.Exec = executor.New(nil)
	s.ParentSpawns = core.SpawnAny
	s.MaxConcurrency = maxConcurrency
	return s
}

func tasks(n int) []core.TaskItem {
	out := make([]core.TaskItem, n)
	for i := range out {
		out[i] = core.TaskItem{ID: fmt.Sprintf("t%d", i+1), Task: "do work", Description: "desc"}
	}
	return out
}

func TestScheduler_DuplicateTaskIDs_RejectsAtomicallyWithoutStartingWorkers(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)

	batch := core.TaskBatch{
		Agent: "reviewer",
		Tasks: []core.TaskItem{{ID: "a"}, {ID: "A"}},
	}

	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Empty(t, result.Results)
	require.Contains(t, result.SummaryText, "Duplicate task ids")
	require.Equal(t, int32(0), atomic.LoadInt32(&gw.inFlight))
}

func TestScheduler_UnknownAgent_RejectsAtomically(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)

	batch := core.TaskBatch{Agent: "ghost", Tasks: tasks(1)}
	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Empty(t, result.Results)
	require.Contains(t, result.SummaryText, "unknown agent")
}

func TestScheduler_SelfRecursion_RejectsBatchTargetingItself(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)
	s.SelfAgentName = "reviewer"

	batch := core.TaskBatch{Agent: "reviewer", Tasks: tasks(1)}
	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Empty(t, result.Results)
	require.Contains(t, result.SummaryText, "currently running agent")
}

func TestScheduler_HappyPath_RunsEveryTaskAndPreservesInputOrder(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)

	batch := core.TaskBatch{Agent: "reviewer", Context: "ctx", Tasks: tasks(3)}
	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Len(t, result.Results, 3)
	for i, r := range result.Results {
		require.Equal(t, fmt.Sprintf("t%d", i+1), r.TaskID)
		require.Equal(t, core.TaskStatusCompleted, r.Status)
		require.Len(t, r.OutputPaths, 1)
		require.Contains(t, r.OutputPaths[0], "agent://")
	}
}

func TestScheduler_ConcurrencyCap_BoundsInFlightWorkers(t *testing.T) {
	gw := &trackingGateway{delay: 20 * time.Millisecond}
	s := newScheduler(gw, 2)

	batch := core.TaskBatch{Agent: "reviewer", Tasks: tasks(8)}
	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Len(t, result.Results, 8)
	require.LessOrEqual(t, gw.peak, int32(2))
}

func TestScheduler_CancelledBeforeExecute_MarksEveryTaskAborted(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)

	cancel := control.NewToken()
	cancel.Cancel()

	batch := core.TaskBatch{Agent: "reviewer", Tasks: tasks(3)}
	result := s.Execute(context.Background(), batch, false, cancel, nil)

	require.Len(t, result.Results, 3)
	for _, r := range result.Results {
		require.Equal(t, core.TaskStatusAborted, r.Status)
		require.Equal(t, "Skipped (cancelled before start)", r.Error)
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&gw.inFlight))
}

// TestScheduler_SessionsConfigured_PersistsPerTaskOutputAndBatchContext
// covers §6: each task's output-sink dump lands at <id>.out under the
// batch's artifact directory, and the batch's context lands at
// context.md once, so the agent:// URLs summary.go emits actually
// resolve to something.
func TestScheduler_SessionsConfigured_PersistsPerTaskOutputAndBatchContext(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)
	store := sessionstore.New(t.TempDir())
	s.Sessions = store

	batch := core.TaskBatch{Agent: "reviewer", Context: "batch context", Tasks: tasks(2)}
	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Len(t, result.Results, 2)
	require.NotEmpty(t, result.ArtifactID)

	ctxData, err := store.ReadArtifact(result.ArtifactID, "context.md")
	require.NoError(t, err)
	require.Equal(t, "batch context", string(ctxData))

	for _, r := range result.Results {
		require.Len(t, r.OutputPaths, 1)
		artifactID := strings.TrimPrefix(r.OutputPaths[0], "agent://")
		data, err := store.ReadArtifact(result.ArtifactID, artifactID+".out")
		require.NoError(t, err)
		require.Equal(t, r.Summary, string(data))
	}
}

func TestScheduler_EmptyTasks_ReturnsValidationResultWithoutWorkers(t *testing.T) {
	gw := &trackingGateway{}
	s := newScheduler(gw, 4)

	batch := core.TaskBatch{Agent: "reviewer", Tasks: nil}
	result := s.Execute(context.Background(), batch, false, control.NewToken(), nil)

	require.Empty(t, result.Results)
}
