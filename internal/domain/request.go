package domain

// AdvanceRequest is one client turn against a session.
type AdvanceRequest struct {
	SessionID   string       `json:"session_id"`
	RequestID   string       `json:"request_id"`
	UserID      string       `json:"user_id"`
	Message     string       `json:"message"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	ForceSummary    bool     `json:"force_summary,omitempty"`
}

// ToolResult is client-side tool output sent back with a turn. Output is a
// JSON document.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error,omitempty"`
}

// AdvanceResult is the materialized response of a completed turn. Its JSON
// encoding is what the idempotency record replays.
type AdvanceResult struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	State     State           `json:"state"`
	Content   string          `json:"content"`
	ToolCalls []ToolCallState `json:"tool_calls,omitempty"`
	Usage     UsageTotals     `json:"usage"`
	Model     string          `json:"model,omitempty"`
	Resumed   bool            `json:"resumed,omitempty"`
}

// UsageTotals is the token spend of one turn across all model calls.
type UsageTotals struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}
