package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient adapts the OpenAI Chat Completions API to Client.
type OpenAIClient struct {
	name   string
	model  string
	client openai.Client
}

// NewOpenAIClient creates an OpenAI provider. An empty apiKey defers to the
// SDK's OPENAI_API_KEY lookup; baseURL targets compatible gateways.
func NewOpenAIClient(name, model, apiKey, baseURL string) *OpenAIClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAIClient{
		name:   name,
		model:  model,
		client: openai.NewClient(opts...),
	}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, c.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.name, Message: "no choices returned"}
	}

	ch0 := resp.Choices[0]
	out := &CompletionResponse{
		Content:    ch0.Message.Content,
		StopReason: ch0.FinishReason,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		Model:    resp.Model,
		Duration: time.Since(start),
	}
	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}
	return out, nil
}

// aggCall reassembles a tool call from streamed fragments.
type aggCall struct{ id, name, args string }

func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 32)
	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	go func() {
		defer close(out)
		start := time.Now()

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		var text strings.Builder
		agg := map[int64]*aggCall{}
		resp := &CompletionResponse{Model: params.Model}

		for stream.Next() {
			ck := stream.Current()
			if ck.Model != "" {
				resp.Model = ck.Model
			}
			if ck.Usage.TotalTokens > 0 {
				resp.Usage = Usage{
					InputTokens:  int(ck.Usage.PromptTokens),
					OutputTokens: int(ck.Usage.CompletionTokens),
				}
			}
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					text.WriteString(ch.Delta.Content)
					out <- StreamEvent{Type: EventDelta, Content: ch.Delta.Content}
				}
				for _, tc := range ch.Delta.ToolCalls {
					ac, ok := agg[tc.Index]
					if !ok {
						ac = &aggCall{}
						agg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}
				if ch.FinishReason != "" {
					resp.StopReason = ch.FinishReason
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- errorEvent(c.wrapErr(err))
			return
		}

		indexes := make([]int64, 0, len(agg))
		for i := range agg {
			indexes = append(indexes, i)
		}
		sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
		for _, i := range indexes {
			ac := agg[i]
			args := ac.args
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: ac.id, Name: ac.name, Input: args})
		}

		resp.Content = text.String()
		resp.Duration = time.Since(start)
		out <- StreamEvent{Type: EventDone, Response: resp}
	}()

	return out, nil
}

func (c *OpenAIClient) params(req CompletionRequest) openai.ChatCompletionNewParams {
	model := c.model
	if model == "" {
		model = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages: openaiMessages(req.System, req.Messages),
		Model:    model,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, d := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        d.Name,
					Description: openai.String(d.Description),
					Parameters:  parseJSONSchema(d.InputSchema),
				},
			}
		}
		params.Tools = tools
	}
	return params
}

func openaiMessages(system string, msgs []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Input,
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *OpenAIClient) wrapErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, Code: apiErr.StatusCode, Message: http.StatusText(apiErr.StatusCode), Err: err}
	}
	return &ProviderError{Provider: c.name, Message: fmt.Sprint(err), Err: err}
}
