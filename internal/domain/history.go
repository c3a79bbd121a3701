package domain

import "time"

// Role constants for history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// HistoryEntry is a single turn in a session's conversation history.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary replaces a prefix of history with one compressed string.
type Summary struct {
	SessionID    string    `json:"session_id"`
	Content      string    `json:"content"`
	EntriesCount int       `json:"entries_count"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SummaryJob is a unit of work on the summarization queue.
type SummaryJob struct {
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id"`
	Entries    []HistoryEntry `json:"entries"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// SummaryAudit is one row of the rolling summarization log.
type SummaryAudit struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	EntriesCount int       `json:"entries_count"`
	SummaryLen   int       `json:"summary_len"`
	Attempts     int       `json:"attempts"`
	Tokens       int       `json:"tokens"`
	CreatedAt    time.Time `json:"created_at"`
}
