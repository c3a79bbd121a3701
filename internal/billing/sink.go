// Package billing persists usage records from the billing queue into
// SQLite and keeps an audit log of request lifecycle events.
//
// The queue is drained at least once: a record whose insert fails is pushed
// back to the head of the queue and retried after a backoff. Inserts are keyed
// on the record's event id, so a redelivered record is ignored while a retried
// request that was billed again is kept.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/logging"
)

// Stats are in-process sink counters.
type Stats struct {
	Inserted   int64 `json:"inserted"`
	Duplicates int64 `json:"duplicates"`
	Malformed  int64 `json:"malformed"`
	Failed     int64 `json:"failed"`
}

// Totals aggregates the persisted records for one user and day.
type Totals struct {
	UserID           string          `json:"user_id"`
	Day              string          `json:"day"`
	Requests         int64           `json:"requests"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
}

// Sink drains the billing queue into the database.
type Sink struct {
	db    *DB
	store coord.Store
	keys  coord.Keyspace
	cfg   config.BillingConfig
	log   *logging.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	inserted   atomic.Int64
	duplicates atomic.Int64
	malformed  atomic.Int64
	failed     atomic.Int64
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the clock stamped on audit entries.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithSleep overrides the backoff wait after a failed insert.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sink) { s.sleep = sleep }
}

// NewSink creates a Sink.
func NewSink(db *DB, store coord.Store, keys coord.Keyspace, cfg config.BillingConfig, log *logging.Logger, opts ...Option) *Sink {
	s := &Sink{
		db:    db,
		store: store,
		keys:  keys,
		cfg:   cfg,
		log:   log.Sub("billing"),
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drains the queue until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	s.log.Info().Str("queue", s.keys.BillingQueue()).Msg("billing sink starting")
	for ctx.Err() == nil {
		raw, err := s.store.BLPop(ctx, s.keys.BillingQueue(), s.cfg.PopTimeout())
		if errors.Is(err, coord.ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn().Err(err).Msg("billing queue pop failed")
			if s.sleep(ctx, s.cfg.Backoff()) != nil {
				break
			}
			continue
		}
		if err := s.consume(ctx, raw); err != nil {
			s.requeue(ctx, raw, err)
			if s.sleep(ctx, s.cfg.Backoff()) != nil {
				break
			}
		}
	}
	s.log.Info().Msg("billing sink stopped")
	return ctx.Err()
}

// DrainOnce consumes everything currently queued without waiting. It stops
// at the first failed insert, leaving that record at the queue head.
func (s *Sink) DrainOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		raw, err := s.store.LPop(ctx, s.keys.BillingQueue())
		if errors.Is(err, coord.ErrNotFound) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("pop billing record: %w", err)
		}
		if err := s.consume(ctx, raw); err != nil {
			s.requeue(ctx, raw, err)
			return n, err
		}
		n++
	}
}

func (s *Sink) requeue(ctx context.Context, raw []byte, cause error) {
	s.failed.Add(1)
	s.log.Warn().Err(cause).Msg("billing insert failed, requeueing")
	if err := s.store.LPush(context.WithoutCancel(ctx), s.keys.BillingQueue(), raw); err != nil {
		s.log.Error().Err(err).RawJSON("record", raw).Msg("billing record lost: requeue failed")
	}
}

// consume inserts one queued record. Malformed records are logged and
// dropped; only insert failures are returned.
func (s *Sink) consume(ctx context.Context, raw []byte) error {
	var rec domain.BillingRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.SessionID == "" || rec.RequestID == "" {
		s.malformed.Add(1)
		s.log.Error().Err(err).Str("raw", string(raw)).Msg("dropping malformed billing record")
		return nil
	}
	_, err := s.Insert(ctx, rec)
	return err
}

// eventKey is the dedupe key of rec. Records queued without an event id
// fall back to one per session and request.
func eventKey(rec domain.BillingRecord) string {
	if rec.EventID != "" {
		return rec.EventID
	}
	return rec.SessionID + ":" + rec.RequestID
}

// Insert stores rec. It reports false when a record with the same event id
// already exists.
func (s *Sink) Insert(ctx context.Context, rec domain.BillingRecord) (bool, error) {
	ts := rec.Timestamp.UTC()
	res, err := s.db.sql.ExecContext(ctx, `
		INSERT OR IGNORE INTO billing_records
			(event_id, user_id, session_id, request_id, model, prompt_tokens, completion_tokens, cost, day, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventKey(rec), rec.UserID, rec.SessionID, rec.RequestID, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.Cost.String(),
		coord.Day(ts), ts.Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert billing record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert billing record: %w", err)
	}
	if n == 0 {
		s.duplicates.Add(1)
		s.log.Debug().Str("event", eventKey(rec)).Str("session", rec.SessionID).Str("request", rec.RequestID).Msg("duplicate billing record ignored")
		return false, nil
	}
	s.inserted.Add(1)
	return true, nil
}

// Totals sums a user's persisted records for day (yyyymmdd, UTC).
// An empty day means today.
func (s *Sink) Totals(ctx context.Context, userID, day string) (Totals, error) {
	if day == "" {
		day = coord.Day(s.now())
	}
	out := Totals{UserID: userID, Day: day, Cost: decimal.Zero}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT prompt_tokens, completion_tokens, cost FROM billing_records WHERE user_id = ? AND day = ?`,
		userID, day)
	if err != nil {
		return out, fmt.Errorf("query billing totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var prompt, completion int64
		var cost string
		if err := rows.Scan(&prompt, &completion, &cost); err != nil {
			return out, fmt.Errorf("scan billing row: %w", err)
		}
		c, err := decimal.NewFromString(cost)
		if err != nil {
			return out, fmt.Errorf("parse cost %q: %w", cost, err)
		}
		out.Requests++
		out.PromptTokens += prompt
		out.CompletionTokens += completion
		out.Cost = out.Cost.Add(c)
	}
	return out, rows.Err()
}

// Records returns the persisted records for a request in insert order.
// A request that failed and was retried has one record per attempt.
func (s *Sink) Records(ctx context.Context, sessionID, requestID string) ([]domain.BillingRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT event_id, user_id, session_id, request_id, model, prompt_tokens, completion_tokens, cost, recorded_at
		FROM billing_records WHERE session_id = ? AND request_id = ? ORDER BY id`,
		sessionID, requestID)
	if err != nil {
		return nil, fmt.Errorf("query billing records: %w", err)
	}
	defer rows.Close()

	var out []domain.BillingRecord
	for rows.Next() {
		var rec domain.BillingRecord
		var cost, recorded string
		if err := rows.Scan(&rec.EventID, &rec.UserID, &rec.SessionID, &rec.RequestID, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &cost, &recorded); err != nil {
			return nil, fmt.Errorf("scan billing row: %w", err)
		}
		if rec.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parse cost %q: %w", cost, err)
		}
		if rec.Timestamp, err = time.Parse(timeLayout, recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats returns the sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Inserted:   s.inserted.Load(),
		Duplicates: s.duplicates.Load(),
		Malformed:  s.malformed.Load(),
		Failed:     s.failed.Load(),
	}
}
