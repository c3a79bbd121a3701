package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockClient{ProviderName: "test-provider"}
	reg.Register("test-provider", mock)

	client, err := reg.Resolve("test-provider")
	require.NoError(t, err)
	assert.Equal(t, "test-provider", client.Name())
}

func TestRegistryAlias(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("claude", &MockClient{ProviderName: "claude"})
	reg.Alias("sonnet", "claude")
	reg.Alias("opus", "claude")

	client, err := reg.Resolve("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude", client.Name())

	client, err = reg.Resolve("opus")
	require.NoError(t, err)
	assert.Equal(t, "claude", client.Name())
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("default-llm", &MockClient{ProviderName: "default-llm"})
	reg.SetFallback("default-llm")

	client, err := reg.Resolve("unknown-model-xyz")
	require.NoError(t, err)
	assert.Equal(t, "default-llm", client.Name())
}

func TestRegistryNoMatch(t *testing.T) {
	reg := NewRegistry(silentLog())

	_, err := reg.Resolve("nothing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no model provider for "nothing"`)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("zeta", &MockClient{ProviderName: "zeta"})
	reg.Register("alpha", &MockClient{ProviderName: "alpha"})

	assert.Equal(t, []string{"alpha", "zeta"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.ModelsConfig{
		Primary: "main",
		Providers: map[string]config.ModelProviderEntry{
			"main":   {API: "mock", Model: "mock-large", Aliases: []string{"big"}},
			"claude": {API: "anthropic", Model: "claude-sonnet-4-5", APIKey: "sk-test"},
			"gpt":    {API: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"},
		},
	}

	reg, err := NewRegistryFromConfig(cfg, silentLog())
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "gpt", "main"}, reg.List())

	c, err := reg.Resolve("big")
	require.NoError(t, err)
	assert.Equal(t, "main", c.Name())

	c, err = reg.Resolve("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	c, err = reg.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = reg.Resolve("unconfigured")
	require.NoError(t, err)
	assert.Equal(t, "main", c.Name())
}

func TestNewRegistryFromConfigUnsupported(t *testing.T) {
	cfg := config.ModelsConfig{
		Providers: map[string]config.ModelProviderEntry{
			"g": {API: "google-generative-ai", Model: "gemini"},
		},
	}
	_, err := NewRegistryFromConfig(cfg, silentLog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported api")
}

// --- Mock tests ---

func TestMockClientDefaults(t *testing.T) {
	m := &MockClient{ProviderName: "mock"}

	resp, err := m.Complete(context.Background(), CompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, "m", resp.Model)

	ch, err := m.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	var deltas string
	var done *CompletionResponse
	for ev := range ch {
		switch ev.Type {
		case EventDelta:
			deltas += ev.Content
		case EventDone:
			done = ev.Response
		}
	}
	assert.Equal(t, "mock stream response", deltas)
	require.NotNil(t, done)
	assert.Equal(t, "mock stream response", done.Content)
	assert.Equal(t, int64(2), m.Calls())
}

func TestStreamText(t *testing.T) {
	ch := StreamText(&CompletionResponse{Content: "ab"}, "a", "b")

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, EventDelta, events[0].Type)
	assert.Equal(t, "b", events[1].Content)
	assert.Equal(t, EventDone, events[2].Type)
	assert.Equal(t, "ab", events[2].Response.Content)
}

// --- Failover tests ---

func TestFailoverFallsBackOnRetryable(t *testing.T) {
	reg := NewRegistry(silentLog())
	primary := &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "primary", Code: 529, Message: "overloaded"}
		},
	}
	backup := &MockClient{ProviderName: "backup"}
	reg.Register("primary", primary)
	reg.Register("backup", backup)

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	assert.Equal(t, "failover:primary", fc.Name())

	resp, err := fc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Model)
	assert.Equal(t, int64(1), primary.Calls())
	assert.Equal(t, int64(1), backup.Calls())
}

func TestFailoverStopsOnPermanentError(t *testing.T) {
	reg := NewRegistry(silentLog())
	primary := &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "primary", Code: 400, Message: "bad request"}
		},
	}
	backup := &MockClient{ProviderName: "backup"}
	reg.Register("primary", primary)
	reg.Register("backup", backup)

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	_, err := fc.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, int64(0), backup.Calls())
}

func TestFailoverAllFail(t *testing.T) {
	reg := NewRegistry(silentLog())
	fail := func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		return nil, &ProviderError{Provider: req.Model, Code: 503, Message: "unavailable"}
	}
	reg.Register("a", &MockClient{ProviderName: "a", CompleteFunc: fail})
	reg.Register("b", &MockClient{ProviderName: "b", CompleteFunc: fail})

	fc := NewFailoverClient(reg, "a", []string{"b"}, silentLog())
	_, err := fc.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "b", pe.Provider)
}

func TestFailoverRequestedModelFirst(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("a", &MockClient{ProviderName: "a"})
	reg.Register("b", &MockClient{ProviderName: "b"})

	fc := NewFailoverClient(reg, "a", []string{"b", "a"}, silentLog())
	assert.Equal(t, []string{"b", "a"}, fc.chain("b"))
	assert.Equal(t, []string{"a", "b"}, fc.chain(""))
}

func TestFailoverStream(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{
		ProviderName: "primary",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			return nil, &ProviderError{Provider: "primary", Code: 429, Message: "rate limited"}
		},
	})
	reg.Register("backup", &MockClient{ProviderName: "backup"})

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	ch, err := fc.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	var last StreamEvent
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, EventDone, last.Type)
}

func TestFailoverStreamInBandError(t *testing.T) {
	inBand := func(ev StreamEvent) func(context.Context, CompletionRequest) (<-chan StreamEvent, error) {
		return func(context.Context, CompletionRequest) (<-chan StreamEvent, error) {
			ch := make(chan StreamEvent, 1)
			ch <- ev
			close(ch)
			return ch, nil
		}
	}
	tests := []struct {
		name        string
		first       StreamEvent
		backupCalls int64
		wantType    string
		wantContent string
	}{
		{
			name:        "rate limit",
			first:       StreamEvent{Type: EventError, Error: "p: 429 rate limit"},
			backupCalls: 1,
			wantType:    EventDone,
			wantContent: "mock stream response",
		},
		{
			name:        "typed overload",
			first:       errorEvent(&ProviderError{Provider: "p", Code: 529, Message: "Overloaded"}),
			backupCalls: 1,
			wantType:    EventDone,
			wantContent: "mock stream response",
		},
		{
			name:        "permanent error",
			first:       errorEvent(&ProviderError{Provider: "p", Code: 400, Message: "Bad Request"}),
			backupCalls: 0,
			wantType:    EventError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(silentLog())
			primary := &MockClient{ProviderName: "primary", StreamFunc: inBand(tt.first)}
			backup := &MockClient{ProviderName: "backup"}
			reg.Register("primary", primary)
			reg.Register("backup", backup)

			fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
			ch, err := fc.Stream(context.Background(), CompletionRequest{})
			require.NoError(t, err)

			var last StreamEvent
			for ev := range ch {
				last = ev
			}
			assert.Equal(t, int64(1), primary.Calls())
			assert.Equal(t, tt.backupCalls, backup.Calls())
			assert.Equal(t, tt.wantType, last.Type)
			if tt.wantContent != "" {
				require.NotNil(t, last.Response)
				assert.Equal(t, tt.wantContent, last.Response.Content)
			}
		})
	}
}

func TestFailoverStreamErrorAfterDeltaIsFinal(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{
		ProviderName: "primary",
		StreamFunc: func(context.Context, CompletionRequest) (<-chan StreamEvent, error) {
			ch := make(chan StreamEvent, 2)
			ch <- StreamEvent{Type: EventDelta, Content: "par"}
			ch <- StreamEvent{Type: EventError, Error: "p: 503 Service Unavailable"}
			close(ch)
			return ch, nil
		},
	})
	backup := &MockClient{ProviderName: "backup"}
	reg.Register("backup", backup)

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	ch, err := fc.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "par", events[0].Content)
	assert.Equal(t, EventError, events[1].Type)
	assert.Zero(t, backup.Calls())
}

func TestFailoverStreamAllInBandErrors(t *testing.T) {
	reg := NewRegistry(silentLog())
	limited := func(_ context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
		ch := make(chan StreamEvent, 1)
		ch <- errorEvent(&ProviderError{Provider: req.Model, Code: 429, Message: "Too Many Requests"})
		close(ch)
		return ch, nil
	}
	reg.Register("a", &MockClient{ProviderName: "a", StreamFunc: limited})
	reg.Register("b", &MockClient{ProviderName: "b", StreamFunc: limited})

	fc := NewFailoverClient(reg, "a", []string{"b"}, silentLog())
	_, err := fc.Stream(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "b", pe.Provider)
	assert.Equal(t, 429, pe.Code)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&ProviderError{Code: 401}, true},
		{&ProviderError{Code: 429}, true},
		{&ProviderError{Code: 500}, true},
		{&ProviderError{Code: 529}, true},
		{&ProviderError{Code: 400, Message: "invalid"}, false},
		{fmt.Errorf("wrapped: %w", &ProviderError{Code: 503}), true},
		{errors.New("server overloaded"), true},
		{errors.New("Rate Limit reached"), true},
		{errors.New("dial timeout"), true},
		{errors.New("bad input"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestProviderError(t *testing.T) {
	inner := errors.New("boom")
	e := &ProviderError{Provider: "claude", Code: 429, Message: "Too Many Requests", Err: inner}
	assert.Equal(t, "claude: 429 Too Many Requests", e.Error())
	assert.ErrorIs(t, e, inner)

	e = &ProviderError{Provider: "gpt", Message: "no choices returned"}
	assert.Equal(t, "gpt: no choices returned", e.Error())
}

// --- Conversion tests ---

func TestAnthropicMessagesMergesToolResults(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "what time is it?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "t1", Name: "current_time", Input: `{}`},
			{ID: "t2", Name: "usage_report", Input: ``},
		}},
		{Role: RoleTool, ToolCallID: "t1", Content: "12:00"},
		{Role: RoleTool, ToolCallID: "t2", Content: "oops", IsError: true},
		{Role: RoleAssistant, Content: "It is noon."},
	}

	out := anthropicMessages(msgs)
	require.Len(t, out, 4)
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "assistant", string(out[1].Role))
	require.Len(t, out[1].Content, 2)
	assert.NotNil(t, out[1].Content[0].OfToolUse)

	assert.Equal(t, "user", string(out[2].Role))
	require.Len(t, out[2].Content, 2)
	require.NotNil(t, out[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", out[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "t2", out[2].Content[1].OfToolResult.ToolUseID)

	assert.Equal(t, "assistant", string(out[3].Role))
}

func TestAnthropicParamsMergeSystem(t *testing.T) {
	c := NewAnthropicClient("claude", "claude-sonnet-4-5", "sk-test", "")
	p := c.params(CompletionRequest{
		Model:    "ignored",
		System:   "base",
		Messages: []Message{{Role: RoleSystem, Content: "extra"}, {Role: RoleUser, Content: "hi"}},
	})

	assert.Equal(t, "claude-sonnet-4-5", string(p.Model))
	assert.Equal(t, int64(defaultAnthropicMaxTokens), p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.Equal(t, "base\n\nextra", p.System[0].Text)
	assert.Len(t, p.Messages, 1)
}

func TestAnthropicTools(t *testing.T) {
	tools := anthropicTools([]ToolDefinition{{
		Name:        "usage_report",
		Description: "Report usage",
		InputSchema: `{"type":"object","properties":{"day":{"type":"string"}},"required":["day"]}`,
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "usage_report", tools[0].OfTool.Name)
	assert.Equal(t, []string{"day"}, tools[0].OfTool.InputSchema.Required)
}

func TestOpenAIMessages(t *testing.T) {
	out := openaiMessages("sys", []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "current_time", Input: "{}"}}},
		{Role: RoleTool, ToolCallID: "c1", Content: "noon"},
		{Role: RoleAssistant, Content: "noon"},
	})
	require.Len(t, out, 5)
	assert.NotNil(t, out[0].OfSystem)
	assert.NotNil(t, out[1].OfUser)
	require.NotNil(t, out[2].OfAssistant)
	require.Len(t, out[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", out[2].OfAssistant.ToolCalls[0].ID)
	require.NotNil(t, out[3].OfTool)
	assert.Equal(t, "c1", out[3].OfTool.ToolCallID)
	assert.NotNil(t, out[4].OfAssistant)
}

func TestOpenAIParams(t *testing.T) {
	temp := 0.2
	c := NewOpenAIClient("gpt", "", "sk-test", "")
	p := c.params(CompletionRequest{
		Model:       "gpt-4o-mini",
		MaxTokens:   128,
		Temperature: &temp,
		Tools:       []ToolDefinition{{Name: "current_time", InputSchema: `{"type":"object"}`}},
	})
	assert.Equal(t, "gpt-4o-mini", p.Model)
	assert.Equal(t, int64(128), p.MaxCompletionTokens.Value)
	assert.Equal(t, 0.2, p.Temperature.Value)
	require.Len(t, p.Tools, 1)
	assert.Equal(t, "current_time", p.Tools[0].Function.Name)
}

// --- Helpers ---

func TestParseJSONSchema(t *testing.T) {
	assert.Nil(t, parseJSONSchema(""))
	assert.Nil(t, parseJSONSchema("{not json"))

	s := parseJSONSchema(`{"type":"object","required":["a","b"]}`)
	require.NotNil(t, s)
	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []string{"a", "b"}, requiredFields(s))
	assert.Nil(t, requiredFields(map[string]any{}))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 2, EstimateTokens("日本"))
}
