package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/executor"
	"github.com/theerud/taskcore/internal/httpapi"
	"github.com/theerud/taskcore/internal/scheduler"
)

type fakeRegistry struct{ agents map[string]*core.AgentDefinition }

func (f *fakeRegistry) Get(name string) (*core.AgentDefinition, error) {
	a, ok := f.agents[name]
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownAgent, "unknown agent: "+name)
	}
	return a, nil
}
func (f *fakeRegistry) List() []*core.AgentDefinition { return nil }
func (f *fakeRegistry) Suggest(string) []string       { return nil }

type passthroughRenderer struct{}

func (passthroughRenderer) Render(tmpl string, task core.TaskItem) (string, error) {
	return tmpl + ": " + task.Task, nil
}

type instantGateway struct{}

func (instantGateway) Send(context.Context, core.ModelRequest) (core.ModelResponse, error) {
	return core.ModelResponse{Text: "done", Stopped: true}, nil
}

type noopTools struct{}

func (noopTools) Execute(context.Context, string, core.ModelToolCall) (core.ToolResult, error) {
	return core.ToolResult{}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	sched := scheduler.New(nil)
	sched.Registry = &fakeRegistry{agents: map[string]*core.AgentDefinition{
		"reviewer": {Name: "reviewer", Description: "reviews", SystemPrompt: "review"},
	}}
	sched.Gateway = instantGateway{}
	sched.Tools = noopTools{}
	sched.Renderer = passthroughRenderer{}
	sched.Exec = executor.New(nil)
	sched.ParentSpawns = core.SpawnAny
	sched.MaxConcurrency = 2

	srv := httpapi.NewServer(sched)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPAPI_Health(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPAPI_CreateAndGetBatch_RunsToCompletion(t *testing.T) {
	ts := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"batch": core.TaskBatch{
			Agent: "reviewer",
			Tasks: []core.TaskItem{{ID: "t1", Task: "do work"}},
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/v1/batches/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/v1/batches/" + created.ID + "/")
		require.NoError(t, err)
		defer r.Body.Close()

		var got struct {
			Status string           `json:"status"`
			Result *core.BatchResult `json:"result"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		return got.Status == "completed" && got.Result != nil && len(got.Result.Results) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPAPI_GetUnknownBatch_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/batches/does-not-exist/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPAPI_CreateBatch_RejectsMissingAgent(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/batches/", "application/json", bytes.NewReader([]byte(`{"batch":{}}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
