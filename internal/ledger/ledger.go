// Package ledger tracks token usage per user, session and model and
// answers daily quota checks.
//
// Usage is recorded as increment-only counters in the coordination store
// plus a capped per-user daily detail list and a billing record pushed to
// the durable queue. Recording never fails from the caller's view: writes
// that do not land are parked in an in-process retry buffer that Run
// drains in the background.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/logging"
)

// maxWriteAttempts bounds how often a parked write is retried.
const maxWriteAttempts = 10

// UsageInput describes one model call to be recorded.
type UsageInput struct {
	UserID           string
	SessionID        string
	RequestID        string
	Model            string
	PromptTokens     int64
	CompletionTokens int64

	// Cost overrides the price table when non-nil.
	Cost *decimal.Decimal
}

type writeKind int

const (
	writeIncr writeKind = iota
	writePush
)

// write is a single store mutation that can be replayed.
type write struct {
	kind     writeKind
	key      string
	delta    int64
	ttl      time.Duration
	limit    int64
	value    []byte
	attempts int
}

// Stats are in-process ledger counters.
type Stats struct {
	Recorded int64 `json:"recorded"`
	Retried  int64 `json:"retried"`
	Dropped  int64 `json:"dropped"`
	Pending  int   `json:"pending"`
}

// Ledger records usage and checks quotas.
type Ledger struct {
	store      coord.Store
	keys       coord.Keyspace
	cfg        config.LedgerConfig
	sessionTTL time.Duration
	prices     PriceTable
	log        *logging.Logger
	now        func() time.Time

	retry    chan write
	recorded atomic.Int64
	retried  atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for day buckets.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger. Session counters expire with sessionTTL.
func New(store coord.Store, keys coord.Keyspace, cfg config.LedgerConfig, sessionTTL time.Duration, log *logging.Logger, opts ...Option) *Ledger {
	buf := cfg.RetryBuffer
	if buf <= 0 {
		buf = 1
	}
	l := &Ledger{
		store:      store,
		keys:       keys,
		cfg:        cfg,
		sessionTTL: sessionTTL,
		prices:     NewPriceTable(cfg.Pricing),
		log:        log.Sub("ledger"),
		now:        time.Now,
		retry:      make(chan write, buf),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DailyLimit returns the configured per-user daily token limit.
func (l *Ledger) DailyLimit() int64 { return l.cfg.DailyTokenLimit }

// Prices returns the price table.
func (l *Ledger) Prices() PriceTable { return l.prices }

// RecordUsage increments the user, request, session and model counters,
// appends a detail record and enqueues a billing record. It returns the
// stored record; store failures are parked for retry and never surface.
func (l *Ledger) RecordUsage(ctx context.Context, in UsageInput) domain.UsageRecord {
	now := l.now().UTC()
	cost := l.prices.EstimateCost(in.Model, in.PromptTokens, in.CompletionTokens)
	if in.Cost != nil {
		cost = *in.Cost
	}
	rec := domain.UsageRecord{
		EventID:          uuid.New().String(),
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		RequestID:        in.RequestID,
		Model:            in.Model,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		Cost:             cost,
		Timestamp:        now,
	}

	day := coord.Day(now)
	dailyTTL := coord.UntilEndOfDay(now) + l.cfg.Retention()
	total := rec.TotalTokens()

	writes := []write{
		{kind: writeIncr, key: l.keys.UserTokens(in.UserID, day), delta: total, ttl: dailyTTL},
		{kind: writeIncr, key: l.keys.UserRequests(in.UserID, day), delta: 1, ttl: dailyTTL},
		{kind: writeIncr, key: l.keys.SessionTokens(in.SessionID), delta: total, ttl: l.sessionTTL},
	}
	if in.Model != "" {
		writes = append(writes, write{kind: writeIncr, key: l.keys.ModelTokens(in.Model, day), delta: total, ttl: dailyTTL})
	}

	if detail, err := json.Marshal(rec); err == nil {
		writes = append(writes, write{
			kind: writePush, key: l.keys.UsageDetail(in.UserID, day),
			limit: int64(l.cfg.DetailCap), ttl: dailyTTL, value: detail,
		})
	}
	if billing, err := json.Marshal(domain.BillingRecordFrom(rec)); err == nil {
		writes = append(writes, write{kind: writePush, key: l.keys.BillingQueue(), value: billing})
	}

	for _, w := range writes {
		if err := l.apply(ctx, w); err != nil {
			l.log.Warn().Str("key", w.key).Err(err).Msg("usage write failed, parking for retry")
			l.park(w)
		}
	}

	l.recorded.Add(1)
	l.log.Debug().
		Str("user", in.UserID).
		Str("session", in.SessionID).
		Int64("tokens", total).
		Str("cost", cost.String()).
		Msg("usage recorded")
	return rec
}

func (l *Ledger) apply(ctx context.Context, w write) error {
	switch w.kind {
	case writeIncr:
		_, err := l.store.IncrBy(ctx, w.key, w.delta, w.ttl)
		return err
	case writePush:
		return l.store.RPush(ctx, w.key, w.limit, w.ttl, w.value)
	default:
		return fmt.Errorf("unknown write kind %d", w.kind)
	}
}

func (l *Ledger) park(w write) {
	select {
	case l.retry <- w:
	default:
		l.dropped.Add(1)
		l.log.Error().Str("key", w.key).Msg("usage retry buffer full, dropping write")
	}
}

// Run drains the retry buffer until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context) error {
	interval := l.cfg.RetryInterval()
	if interval <= 0 {
		interval = time.Second
	}
	for {
		var w write
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w = <-l.retry:
		}

		w.attempts++
		l.retried.Add(1)
		err := l.apply(ctx, w)
		if err == nil {
			continue
		}
		if w.attempts >= maxWriteAttempts {
			l.dropped.Add(1)
			l.log.Error().Str("key", w.key).Int("attempts", w.attempts).Err(err).Msg("giving up on usage write")
			continue
		}

		l.park(w)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval * time.Duration(w.attempts)):
		}
	}
}

// Stats returns in-process counters.
func (l *Ledger) Stats() Stats {
	return Stats{
		Recorded: l.recorded.Load(),
		Retried:  l.retried.Load(),
		Dropped:  l.dropped.Load(),
		Pending:  len(l.retry),
	}
}

// CheckQuota reads today's token counter for userID and reports whether
// estimated more tokens fit under dailyLimit.
func (l *Ledger) CheckQuota(ctx context.Context, userID string, dailyLimit, estimated int64) (domain.QuotaVerdict, error) {
	used, err := l.counter(ctx, l.keys.UserTokens(userID, coord.Day(l.now())))
	if err != nil {
		return domain.QuotaVerdict{}, err
	}
	return Verdict(used, dailyLimit, estimated), nil
}

// Verdict computes a quota verdict. A non-positive limit admits nothing.
func Verdict(used, limit, estimated int64) domain.QuotaVerdict {
	v := domain.QuotaVerdict{
		WithinQuota: limit > 0 && used+estimated <= limit,
		Used:        used,
		Limit:       limit,
		Remaining:   max(limit-used, 0),
		Estimated:   estimated,
	}
	if limit > 0 {
		v.UsageRate = float64(used) / float64(limit)
	}
	return v
}

// Usage returns one user's counters for day (yyyymmdd). An empty day means
// today.
func (l *Ledger) Usage(ctx context.Context, userID, day string) (domain.DailyUsage, error) {
	if day == "" {
		day = coord.Day(l.now())
	}
	tokens, err := l.counter(ctx, l.keys.UserTokens(userID, day))
	if err != nil {
		return domain.DailyUsage{}, err
	}
	requests, err := l.counter(ctx, l.keys.UserRequests(userID, day))
	if err != nil {
		return domain.DailyUsage{}, err
	}
	return domain.DailyUsage{UserID: userID, Day: day, Tokens: tokens, Requests: requests}, nil
}

// SessionUsage returns the cumulative tokens for a session.
func (l *Ledger) SessionUsage(ctx context.Context, sessionID string) (int64, error) {
	return l.counter(ctx, l.keys.SessionTokens(sessionID))
}

// ModelUsage returns a model's tokens for day. An empty day means today.
func (l *Ledger) ModelUsage(ctx context.Context, model, day string) (int64, error) {
	if day == "" {
		day = coord.Day(l.now())
	}
	return l.counter(ctx, l.keys.ModelTokens(model, day))
}

// Details returns up to limit of the newest detail records for a user and
// day, oldest first. A limit of zero returns the whole list.
func (l *Ledger) Details(ctx context.Context, userID, day string, limit int) ([]domain.UsageRecord, error) {
	if day == "" {
		day = coord.Day(l.now())
	}
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := l.store.LRange(ctx, l.keys.UsageDetail(userID, day), start, -1)
	if err != nil {
		return nil, fmt.Errorf("read usage details: %w", err)
	}
	out := make([]domain.UsageRecord, 0, len(raw))
	for _, b := range raw {
		var rec domain.UsageRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			l.log.Warn().Err(err).Msg("skipping malformed usage detail")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *Ledger) counter(ctx context.Context, key string) (int64, error) {
	b, err := l.store.Get(ctx, key)
	if errors.Is(err, coord.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %s: %w", key, err)
	}
	return n, nil
}
