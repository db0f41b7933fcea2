// Package modelgateway implements core.ModelGateway on top of the
// Anthropic Messages API. It translates the scheduler's generic
// ModelRequest/ModelResponse shapes into SDK calls and back, the way
// the pack's goa-ai anthropic adapter translates its own planner
// request/response types.
package modelgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/theerud/taskcore/internal/core"
)

// MessagesClient is the subset of the Anthropic SDK client this
// gateway depends on, letting tests substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicGateway sends one sub-agent turn per Send call to Claude.
type AnthropicGateway struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// Options configures an AnthropicGateway.
type Options struct {
	// DefaultModel is used when a ModelRequest/AgentDefinition leaves
	// Model empty.
	DefaultModel string
	// MaxTokens caps every completion; the Messages API requires it.
	MaxTokens int
}

// New builds a gateway around an already-constructed SDK client,
// letting callers supply their own option.RequestOption chain (proxy,
// base URL, retry policy, etc).
func New(msg MessagesClient, opts Options) (*AnthropicGateway, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	return &AnthropicGateway{msg: msg, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens}, nil
}

// NewFromAPIKey builds a gateway from a raw API key, the minimal
// amount of model authentication this module concerns itself with:
// no credential storage, no OAuth dance, just the header the Messages
// API expects.
func NewFromAPIKey(apiKey, defaultModel string) (*AnthropicGateway, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, Options{DefaultModel: defaultModel})
}

// Send implements core.ModelGateway.
func (g *AnthropicGateway) Send(ctx context.Context, req core.ModelRequest) (core.ModelResponse, error) {
	params, err := g.buildParams(req)
	if err != nil {
		return core.ModelResponse{}, err
	}

	msg, err := g.msg.New(ctx, params)
	if err != nil {
		return core.ModelResponse{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

func (g *AnthropicGateway) buildParams(req core.ModelRequest) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(g.maxTokens),
		Messages:  msgs,
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if budget := thinkingBudget(req.Thinking); budget > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// thinkingBudget maps a §3 ThinkingLevel to an approximate Anthropic
// extended-thinking token budget. ThinkingOff and the empty value
// disable it.
func thinkingBudget(level core.ThinkingLevel) int64 {
	switch level {
	case core.ThinkingMinimal:
		return 1024
	case core.ThinkingLow:
		return 4096
	case core.ThinkingMedium:
		return 16384
	case core.ThinkingHigh:
		return 32768
	case core.ThinkingXHigh:
		return 65536
	default:
		return 0
	}
}

// encodeMessages turns a Message transcript into Anthropic message
// params. "tool" messages become tool_result blocks attached to a
// user turn, matching how Claude expects tool output to be threaded
// back into the conversation.
func encodeMessages(msgs []core.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case "tool":
			if m.ToolCallID == "" {
				return nil, fmt.Errorf("modelgateway: tool message missing tool_call_id")
			}
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return nil, fmt.Errorf("modelgateway: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("modelgateway: at least one message is required")
	}
	return out, nil
}

func encodeTools(specs []core.ToolSpec) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema, err := encodeSchema(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("modelgateway: tool %q schema: %w", spec.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, spec.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeSchema(schema core.JSONSchema) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateMessage(msg *sdk.Message) core.ModelResponse {
	resp := core.ModelResponse{
		Usage: core.Usage{
			TokensIn:  int(msg.Usage.InputTokens),
			TokensOut: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			resp.ToolCalls = append(resp.ToolCalls, core.ModelToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	resp.Stopped = len(resp.ToolCalls) == 0
	return resp
}
