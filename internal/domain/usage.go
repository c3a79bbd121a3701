package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord is one model call's accounting, stored in the per-user daily
// detail list. EventID is unique per recording; a retried request produces
// a second record with the same RequestID and a new EventID.
type UsageRecord struct {
	EventID          string          `json:"event_id"`
	UserID           string          `json:"user_id"`
	SessionID        string          `json:"session_id"`
	RequestID        string          `json:"request_id"`
	Model            string          `json:"model"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
	Timestamp        time.Time       `json:"timestamp"`
}

// TotalTokens is the sum of prompt and completion tokens.
func (u UsageRecord) TotalTokens() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// BillingRecord is pushed to the durable billing queue for relational
// persistence.
type BillingRecord struct {
	EventID          string          `json:"event_id"`
	UserID           string          `json:"user_id"`
	SessionID        string          `json:"session_id"`
	RequestID        string          `json:"request_id"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Model            string          `json:"model"`
	Cost             decimal.Decimal `json:"cost"`
	Timestamp        time.Time       `json:"timestamp"`
}

// BillingRecordFrom converts a usage record into its billing form.
func BillingRecordFrom(u UsageRecord) BillingRecord {
	return BillingRecord{
		EventID:          u.EventID,
		UserID:           u.UserID,
		SessionID:        u.SessionID,
		RequestID:        u.RequestID,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Model:            u.Model,
		Cost:             u.Cost,
		Timestamp:        u.Timestamp,
	}
}

// QuotaVerdict is the result of a daily quota check.
type QuotaVerdict struct {
	WithinQuota bool    `json:"within_quota"`
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	Remaining   int64   `json:"remaining"`
	UsageRate   float64 `json:"usage_rate"`
	Estimated   int64   `json:"estimated,omitempty"`
}

// DailyUsage aggregates the counters for one user and day.
type DailyUsage struct {
	UserID   string `json:"user_id"`
	Day      string `json:"day"`
	Tokens   int64  `json:"tokens"`
	Requests int64  `json:"requests"`
}
