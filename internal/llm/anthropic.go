package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicClient adapts the Anthropic Messages API to Client.
type AnthropicClient struct {
	name   string
	model  string
	client anthropic.Client
}

// NewAnthropicClient creates an Anthropic provider. An empty apiKey defers
// to the SDK's ANTHROPIC_API_KEY lookup.
func NewAnthropicClient(name, model, apiKey, baseURL string) *AnthropicClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if name == "" {
		name = "anthropic"
	}
	return &AnthropicClient{
		name:   name,
		model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (c *AnthropicClient) Name() string { return c.name }

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return nil, c.wrapErr(err)
	}
	resp := c.toResponse(msg)
	resp.Duration = time.Since(start)
	return resp, nil
}

func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 32)
	params := c.params(req)

	go func() {
		defer close(out)
		start := time.Now()

		stream := c.client.Messages.NewStreaming(ctx, params)
		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- errorEvent(c.wrapErr(err))
				return
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text != "" {
						out <- StreamEvent{Type: EventDelta, Content: d.Text}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- errorEvent(c.wrapErr(err))
			return
		}

		resp := c.toResponse(&message)
		resp.Duration = time.Since(start)
		out <- StreamEvent{Type: EventDone, Response: resp}
	}()

	return out, nil
}

func (c *AnthropicClient) modelFor(req CompletionRequest) string {
	if c.model != "" {
		return c.model
	}
	return req.Model
}

func (c *AnthropicClient) params(req CompletionRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelFor(req)),
		Messages:  anthropicMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	system := req.System
	for _, m := range req.Messages {
		if m.Role == RoleSystem && m.Content != "" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}
	return params
}

// anthropicMessages converts turns to Messages API params. Consecutive tool
// turns collapse into one user message of tool_result blocks.
func anthropicMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
			continue
		}
		flush()

		switch m.Role {
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if tc.Input != "" {
					if err := json.Unmarshal([]byte(tc.Input), &input); err != nil {
						input = tc.Input
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	flush()
	return out
}

func anthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if parsed := parseJSONSchema(d.InputSchema); parsed != nil {
			if props, ok := parsed["properties"]; ok {
				schema.Properties = props
			}
			schema.Required = requiredFields(parsed)
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, d.Name)
		if tools[i].OfTool != nil && d.Description != "" {
			tools[i].OfTool.Description = anthropic.String(d.Description)
		}
	}
	return tools
}

func (c *AnthropicClient) toResponse(msg *anthropic.Message) *CompletionResponse {
	var content strings.Builder
	var calls []ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			input := "{}"
			if raw, err := json.Marshal(tu.Input); err == nil && len(raw) > 0 && string(raw) != "null" {
				input = string(raw)
			}
			calls = append(calls, ToolCall{ID: tu.ID, Name: tu.Name, Input: input})
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: string(msg.StopReason),
		ToolCalls:  calls,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}
}

func (c *AnthropicClient) wrapErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, Code: apiErr.StatusCode, Message: http.StatusText(apiErr.StatusCode), Err: err}
	}
	return &ProviderError{Provider: c.name, Message: err.Error(), Err: err}
}
