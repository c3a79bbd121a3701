package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/turnstile/internal/hooks"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// auditedEvents are the hook events written to the audit log.
var auditedEvents = []string{
	hooks.EventRequestCompleted,
	hooks.EventRequestFailed,
	hooks.EventSummaryWritten,
}

// RegisterHooks subscribes the audit log to request and summary events.
func (s *Sink) RegisterHooks(m *hooks.Manager) {
	if m == nil {
		return
	}
	for _, ev := range auditedEvents {
		m.On(ev, "billing.audit", s.audit)
	}
}

func (s *Sink) audit(ctx context.Context, p hooks.Payload) error {
	entry := AuditEntry{
		ID:        uuid.New().String(),
		Event:     p.Event,
		SessionID: stringField(p.Data, "session_id"),
		RequestID: stringField(p.Data, "request_id"),
		UserID:    stringField(p.Data, "user_id"),
		Data:      p.Data,
		CreatedAt: p.Time,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	return s.WriteAudit(ctx, entry)
}

// WriteAudit inserts an audit entry. An empty ID is filled with a new UUID.
func (s *Sink) WriteAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var data []byte
	if len(e.Data) > 0 {
		var err error
		if data, err = json.Marshal(e.Data); err != nil {
			return fmt.Errorf("encode audit data: %w", err)
		}
	}
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO audit_log (id, event, session_id, request_id, user_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Event, e.SessionID, e.RequestID, e.UserID, nullable(data), e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Audit returns the newest audit entries for a session, newest first. An
// empty sessionID lists all sessions.
func (s *Sink) Audit(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, event, session_id, request_id, user_id, data, created_at FROM audit_log`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var data *string
		var created string
		if err := rows.Scan(&e.ID, &e.Event, &e.SessionID, &e.RequestID, &e.UserID, &data, &created); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if data != nil {
			if err := json.Unmarshal([]byte(*data), &e.Data); err != nil {
				s.log.Warn().Err(err).Str("id", e.ID).Msg("unreadable audit data")
			}
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func nullable(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
