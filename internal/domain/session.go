package domain

import "time"

// State is a step of the per-session request lifecycle.
type State string

const (
	StateInit        State = "INIT"
	StateThinking    State = "THINKING"
	StateGenerating  State = "GENERATING"
	StateToolCalling State = "TOOL_CALLING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Terminal reports whether the state ends a request.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateInit, StateThinking, StateGenerating, StateToolCalling, StateDone, StateFailed:
		return true
	}
	return false
}

// SessionState is the persisted FSM record for one session.
type SessionState struct {
	SessionID            string          `json:"session_id"`
	State                State           `json:"state"`
	Details              string          `json:"details,omitempty"`
	RequestID            string          `json:"request_id,omitempty"`
	UserID               string          `json:"user_id,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
	LastProcessedMessage string          `json:"last_processed_message,omitempty"`
	AccumulatedResponse  string          `json:"accumulated_response,omitempty"`
	ToolCallsInProgress  []ToolCallState `json:"tool_calls_in_progress,omitempty"`
	Version              int64           `json:"version"`
}

// NewSessionState returns the INIT record for a never-seen session.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{SessionID: sessionID, State: StateInit}
}

// Resumable reports whether s is a non-terminal checkpoint left by the
// same request for the same message.
func (s *SessionState) Resumable(requestID, message string) bool {
	return !s.State.Terminal() &&
		s.State != StateInit &&
		s.RequestID == requestID &&
		s.LastProcessedMessage == message
}

// ToolCallState tracks one tool invocation inside a request.
type ToolCallState struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Done   bool   `json:"done"`
}

// Snapshot is the read-only view of a session used by operators.
type Snapshot struct {
	SessionID    string        `json:"session_id"`
	CurrentState State         `json:"current_state"`
	LastUpdate   time.Time     `json:"last_update"`
	Details      string        `json:"details,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	TTLRemaining time.Duration `json:"ttl_remaining"`
	LockHolder   string        `json:"lock_holder,omitempty"`
}
