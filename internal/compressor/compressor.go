// Package compressor keeps the context handed to the model bounded.
//
// Short histories pass through verbatim, medium ones are windowed, and long
// ones are reduced to a fresh tail plus a cached summary produced by the
// summarization consumer. A missing summary never blocks: the compressor
// enqueues one job and falls back to the tail.
package compressor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/logging"
)

// Pruned is the bounded view of a session's history.
type Pruned struct {
	Entries  []domain.HistoryEntry
	Summary  *domain.Summary
	Total    int  // full history length
	Enqueued bool // a summarization job was queued by this call
}

// Compressor reads and appends session history.
type Compressor struct {
	store      coord.Store
	keys       coord.Keyspace
	cfg        config.CompressorConfig
	historyTTL time.Duration
	log        *logging.Logger
	now        func() time.Time
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithClock overrides the clock stamped on enqueued jobs.
func WithClock(now func() time.Time) Option {
	return func(c *Compressor) { c.now = now }
}

// New creates a Compressor. History lists expire after historyTTL of
// inactivity, matching the session state.
func New(store coord.Store, keys coord.Keyspace, cfg config.CompressorConfig, historyTTL time.Duration, log *logging.Logger, opts ...Option) *Compressor {
	c := &Compressor{
		store:      store,
		keys:       keys,
		cfg:        cfg,
		historyTTL: historyTTL,
		log:        log.Sub("compressor"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds entries to the session history, trimming the list to the
// configured cap and refreshing its TTL.
func (c *Compressor) Append(ctx context.Context, sessionID string, entries ...domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = c.now().UTC()
		}
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		values = append(values, b)
	}
	if err := c.store.RPush(ctx, c.keys.History(sessionID), int64(c.cfg.HistoryCap), c.historyTTL, values...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the full stored history, oldest first.
func (c *Compressor) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	raw, err := c.store.LRange(ctx, c.keys.History(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, b := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal(b, &e); err != nil {
			c.log.Warn().Str("session", sessionID).Err(err).Msg("skipping malformed history entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// PrunedHistory returns a bounded view of the session's history.
//
// Up to MaxHistory entries are returned verbatim. Up to SummaryThreshold,
// the newest MaxHistory are returned. Beyond that, or when forceSummary is
// set, the newest TailSize entries are returned with the cached summary; on
// a cache miss one job covering the older entries is enqueued and the
// summary is nil.
func (c *Compressor) PrunedHistory(ctx context.Context, sessionID, userID string, forceSummary bool) (*Pruned, error) {
	entries, err := c.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	n := len(entries)
	out := &Pruned{Total: n}

	if !forceSummary {
		switch {
		case n <= c.cfg.MaxHistory:
			out.Entries = entries
			return out, nil
		case n <= c.cfg.SummaryThreshold:
			out.Entries = entries[n-c.cfg.MaxHistory:]
			return out, nil
		}
	}

	split := max(n-c.cfg.TailSize, 0)
	out.Entries = entries[split:]

	summary, err := c.Summary(ctx, sessionID)
	if err != nil {
		c.log.Warn().Str("session", sessionID).Err(err).Msg("summary lookup failed, using tail only")
		return out, nil
	}
	if summary != nil {
		out.Summary = summary
		return out, nil
	}

	if split == 0 {
		return out, nil
	}
	job := domain.SummaryJob{
		SessionID:  sessionID,
		UserID:     userID,
		Entries:    entries[:split],
		EnqueuedAt: c.now().UTC(),
	}
	queued, err := c.Enqueue(ctx, job)
	if err != nil {
		c.log.Warn().Str("session", sessionID).Err(err).Msg("summary enqueue failed")
		return out, nil
	}
	out.Enqueued = queued
	return out, nil
}

// Summary returns the cached summary, or nil when there is none.
func (c *Compressor) Summary(ctx context.Context, sessionID string) (*domain.Summary, error) {
	b, err := c.store.Get(ctx, c.keys.Summary(sessionID))
	if errors.Is(err, coord.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	var s domain.Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}

// Enqueue pushes a summarization job unless one is already pending for the
// session. It reports whether the job was queued.
func (c *Compressor) Enqueue(ctx context.Context, job domain.SummaryJob) (bool, error) {
	pending := c.keys.SummaryPending(job.SessionID)
	ok, err := c.store.SetNX(ctx, pending, []byte(job.EnqueuedAt.Format(time.RFC3339Nano)), c.cfg.PendingTTL())
	if err != nil {
		return false, fmt.Errorf("mark summary pending: %w", err)
	}
	if !ok {
		c.log.Debug().Str("session", job.SessionID).Msg("summary already pending")
		return false, nil
	}

	b, err := json.Marshal(job)
	if err != nil {
		_ = c.store.Del(ctx, pending)
		return false, fmt.Errorf("encode summary job: %w", err)
	}
	if err := c.store.RPush(ctx, c.keys.SummaryQueue(), 0, 0, b); err != nil {
		_ = c.store.Del(ctx, pending)
		return false, fmt.Errorf("enqueue summary job: %w", err)
	}

	c.log.Info().
		Str("session", job.SessionID).
		Int("entries", len(job.Entries)).
		Msg("summary job enqueued")
	return true, nil
}

// ClearSummary drops the cached summary and any pending marker so the next
// long read starts a fresh compression cycle.
func (c *Compressor) ClearSummary(ctx context.Context, sessionID string) error {
	if err := c.store.Del(ctx, c.keys.Summary(sessionID), c.keys.SummaryPending(sessionID)); err != nil {
		return fmt.Errorf("clear summary: %w", err)
	}
	return nil
}

// QueueDepth returns the number of jobs waiting for a summarizer.
func (c *Compressor) QueueDepth(ctx context.Context) (int64, error) {
	return c.store.LLen(ctx, c.keys.SummaryQueue())
}
