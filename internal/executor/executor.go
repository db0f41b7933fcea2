package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
)

const (
	submitResultTool   = "submit_result"
	maxSubmitReminders = 3

	reminderMessage = "You stopped without calling submit_result."
	abortMessage    = "Subagent stopped without submit_result."
)

// TaskSpec is one task's input to the turn loop: the agent to run, the
// rendered prompt, the isolated workspace (if any), and the
// collaborator ports it drives (§4.D contract: run(taskSpec,
// isolationHandle?, progressChan) -> SingleResult).
type TaskSpec struct {
	TaskID        string
	Description   string
	Prompt        string
	Agent         *core.AgentDefinition
	ParentSpawns  core.SpawnPolicy
	WorkDir       string
	ModelOverride string
	ToolSpecs     []core.ToolSpec

	Gateway  core.ModelGateway
	Tools    core.ToolRuntime
	Progress *core.ProgressRecord
	Cancel   *control.Token
	Logger   *logging.Logger
}

// turnOutcome is what one "advance session until stop" pass produced:
// either the model stopped on its own, or it attempted submit_result
// (successfully or not).
type turnOutcome struct {
	finalText    string
	submitCalled bool
	submitErrMsg string
	structured   map[string]any
	usage        core.Usage
}

// Executor drives one task's turn loop per §4.D.
type Executor struct {
	logger *logging.Logger
}

// New builds an Executor. A nil logger is replaced with a no-op one.
func New(logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{logger: logger}
}

// Run executes spec to completion and returns its SingleResult. It
// never panics on a missing collaborator: spec.Agent, spec.Gateway and
// spec.Progress are required by contract, and a nil value there is a
// caller bug the scheduler's validation pass (§4.E) is meant to catch
// before a worker ever reaches here.
func (e *Executor) Run(ctx context.Context, spec TaskSpec) core.SingleResult {
	start := time.Now()
	result := core.SingleResult{TaskID: spec.TaskID, Agent: spec.Agent.Name}

	if !spec.ParentSpawns.Allows(spec.Agent.Name) {
		e.logger.Warn("spawn denied", "task_id", spec.TaskID, "agent", spec.Agent.Name)
		result.Status = core.TaskStatusFailed
		result.ErrorCategory = core.ErrCatValidation
		result.Error = fmt.Sprintf("agent %q is not permitted by the parent agent's spawn policy", spec.Agent.Name)
		return result
	}

	schema, err := compileSchema(spec.Agent.Output)
	if err != nil {
		result.Status = core.TaskStatusFailed
		result.ErrorCategory = core.ErrCatInternal
		result.Error = err.Error()
		return result
	}

	req := core.ModelRequest{
		SystemPrompt: spec.Agent.SystemPrompt,
		Messages:     []core.Message{{Role: "user", Content: spec.Prompt}},
		Tools:        spec.ToolSpecs,
		Model:        modelFor(spec),
		Thinking:     spec.Agent.ThinkingLevel,
	}

	spec.Progress.SetStatus(core.TaskStatusRunning)

	var (
		finalText  string
		structured map[string]any
		reminders  int
		usage      core.Usage
	)

runLoop:
	for {
		if spec.Cancel.IsCancelled() {
			result.Status = core.TaskStatusAborted
			result.ErrorCategory = core.ErrCatCancellation
			result.Error = "cancelled before task completed"
			break runLoop
		}

		out, advErr := e.advanceUntilStop(ctx, spec, &req, schema)
		usage.Add(out.usage)
		if advErr != nil {
			if spec.Cancel.IsCancelled() {
				result.Status = core.TaskStatusAborted
				result.ErrorCategory = core.ErrCatCancellation
				result.Error = "cancelled before task completed"
			} else {
				e.logger.Warn("turn failed", "task_id", spec.TaskID, "error", advErr)
				result.Status = core.TaskStatusFailed
				result.ErrorCategory = core.GetCategory(advErr)
				result.Error = advErr.Error()
			}
			break runLoop
		}

		if schema == nil {
			finalText = out.finalText
			result.Status = core.TaskStatusCompleted
			break runLoop
		}

		switch {
		case out.submitCalled:
			structured = out.structured
			result.Status = core.TaskStatusCompleted
			break runLoop
		case out.submitErrMsg != "":
			// Schema rejection: the error was already fed back as the
			// tool's result message, so the model sees it as its next
			// turn's input. Does not count against the reminder cap.
			continue runLoop
		default:
			reminders++
			if reminders > maxSubmitReminders {
				e.logger.Warn("submit_result reminder cap exceeded", "task_id", spec.TaskID)
				result.Status = core.TaskStatusAborted
				result.ErrorCategory = core.ErrCatSubmitResult
				result.Error = abortMessage
				break runLoop
			}
			req.Messages = append(req.Messages, core.Message{Role: "user", Content: reminderMessage})
		}
	}

	result.Summary = finalText
	if structured != nil {
		result.StructuredOutput = structured
		spec.Progress.SetExtractedToolData(structured)
	}
	result.Usage = usage
	result.ToolCount = spec.Progress.Snapshot().ToolCount
	result.DurationMs = time.Since(start).Milliseconds()

	spec.Progress.SetDuration(result.DurationMs)
	spec.Progress.SetStatus(result.Status)
	return result
}

// advanceUntilStop drives the model, executing ordinary tool calls and
// feeding their results back, until it either ends its turn without a
// tool call or attempts submit_result (§4.D: "advance session until
// stop"). A submit_result attempt, successful or not, always ends the
// pass immediately so the caller's state machine can decide whether to
// retry, accept, or count a reminder.
func (e *Executor) advanceUntilStop(ctx context.Context, spec TaskSpec, req *core.ModelRequest, schema *compiledSchema) (turnOutcome, error) {
	var out turnOutcome

	for {
		if spec.Cancel.IsCancelled() {
			return out, core.ErrCancellation("session cancelled mid-turn")
		}

		resp, err := spec.Gateway.Send(ctx, *req)
		if err != nil {
			return out, core.ErrWorker("MODEL_SEND_FAILED", "sending model turn").WithCause(err)
		}
		out.usage.Add(resp.Usage)
		spec.Progress.AddTokens(resp.Usage.TokensIn + resp.Usage.TokensOut)

		if resp.Text != "" {
			req.Messages = append(req.Messages, core.Message{Role: "assistant", Content: resp.Text})
			spec.Progress.PushOutputPreview(resp.Text)
			out.finalText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			return out, nil
		}

		for _, call := range resp.ToolCalls {
			spec.Progress.PushTool(call.Name)

			if schema != nil && call.Name == submitResultTool {
				if msg := schema.validate(call.Arguments); msg != "" {
					out.submitErrMsg = msg
					req.Messages = append(req.Messages, toolMessage(call, msg, true))
				} else {
					out.submitCalled = true
					out.structured = call.Arguments
					req.Messages = append(req.Messages, toolMessage(call, "submit_result accepted", false))
				}
				return out, nil
			}

			if spec.Cancel.IsCancelled() {
				return out, core.ErrCancellation("session cancelled mid-turn")
			}

			toolRes, err := spec.Tools.Execute(ctx, spec.WorkDir, call)
			if err != nil {
				req.Messages = append(req.Messages, toolMessage(call, err.Error(), true))
				continue
			}
			spec.Progress.PushOutputPreview(toolRes.Output)
			req.Messages = append(req.Messages, toolMessage(call, toolRes.Output, toolRes.IsError))
		}
	}
}

func toolMessage(call core.ModelToolCall, content string, isErr bool) core.Message {
	if isErr {
		content = "Error: " + content
	}
	return core.Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, Content: content}
}

func modelFor(spec TaskSpec) string {
	if spec.ModelOverride != "" {
		return spec.ModelOverride
	}
	return spec.Agent.Model
}
