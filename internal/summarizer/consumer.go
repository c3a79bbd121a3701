// Package summarizer drains the summarization queue in the background,
// compressing old history into a cached summary the compressor can use.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/hooks"
	"github.com/soyeahso/turnstile/internal/llm"
	"github.com/soyeahso/turnstile/internal/logging"
)

const systemPrompt = `You compress conversation transcripts. Write a short, dense summary of the
conversation below. Keep names, numbers, decisions and open questions. Do not
add commentary or address the reader.`

// attemptResult is the outcome of one summarization attempt.
type attemptResult struct {
	summary string
	usage   llm.Usage
	reason  string // why the attempt was rejected
	ok      bool
}

// Stats are the consumer's in-process counters.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Attempts  int64 `json:"attempts"`
	Workers   int   `json:"workers"`
}

// Consumer pops summarization jobs and writes summaries.
type Consumer struct {
	store  coord.Store
	keys   coord.Keyspace
	client llm.Client
	cfg    config.SummarizerConfig
	hooks  *hooks.Manager
	log    *logging.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	attempts  atomic.Int64
	workers   atomic.Int32
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithClock overrides the clock stamped on summaries and audit rows.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) { c.now = now }
}

// WithSleep overrides the wait between attempts and idle polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Consumer) { c.sleep = sleep }
}

// New creates a Consumer. hooks may be nil.
func New(store coord.Store, keys coord.Keyspace, client llm.Client, cfg config.SummarizerConfig, hk *hooks.Manager, log *logging.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		store:  store,
		keys:   keys,
		client: client,
		cfg:    cfg,
		hooks:  hk,
		log:    log.Sub("summarizer"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
		Attempts:  c.attempts.Load(),
		Workers:   int(c.workers.Load()),
	}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled and every worker has returned.
func (c *Consumer) Run(ctx context.Context) error {
	n := max(c.cfg.Workers, 1)
	c.log.Info().Int("workers", n).Msg("summarizer starting")

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.workers.Add(1)
			defer c.workers.Add(-1)
			c.work(ctx, c.log.With("worker", strconv.Itoa(id)))
		}(i)
	}
	wg.Wait()

	c.log.Info().Msg("summarizer stopped")
	return ctx.Err()
}

func (c *Consumer) work(ctx context.Context, log *logging.Logger) {
	for ctx.Err() == nil {
		n := c.drain(ctx, log)
		if n > 0 {
			continue
		}
		if err := c.sleep(ctx, c.cfg.IdleInterval()); err != nil {
			return
		}
	}
}

// RunOnce pops and processes a single batch. It returns the number of jobs
// handled.
func (c *Consumer) RunOnce(ctx context.Context) int {
	return c.drain(ctx, c.log)
}

func (c *Consumer) drain(ctx context.Context, log *logging.Logger) int {
	batch := c.popBatch(ctx, log)
	for _, job := range batch {
		c.process(ctx, log, job)
	}
	return len(batch)
}

// popBatch waits up to PopTimeout for the first job and then takes whatever
// else is already queued, up to BatchSize.
func (c *Consumer) popBatch(ctx context.Context, log *logging.Logger) []domain.SummaryJob {
	size := max(c.cfg.BatchSize, 1)
	queue := c.keys.SummaryQueue()

	var jobs []domain.SummaryJob
	for len(jobs) < size {
		var (
			raw []byte
			err error
		)
		if len(jobs) == 0 {
			raw, err = c.store.BLPop(ctx, queue, c.cfg.PopTimeout())
		} else {
			raw, err = c.store.LPop(ctx, queue)
		}
		if errors.Is(err, coord.ErrNotFound) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("queue pop failed")
			}
			break
		}

		var job domain.SummaryJob
		if err := json.Unmarshal(raw, &job); err != nil || job.SessionID == "" {
			c.failed.Add(1)
			log.Error().Err(err).Msg("dropping malformed summary job")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (c *Consumer) process(ctx context.Context, log *logging.Logger, job domain.SummaryJob) {
	log = log.With("session", job.SessionID)

	if _, err := c.store.Get(ctx, c.keys.Summary(job.SessionID)); err == nil {
		c.skipped.Add(1)
		log.Debug().Msg("summary already cached, skipping job")
		return
	} else if !errors.Is(err, coord.ErrNotFound) {
		log.Warn().Err(err).Msg("summary lookup failed, summarizing anyway")
	}

	entries := job.Entries
	if n := c.cfg.MaxEntries; n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	prompt := buildPrompt(entries)

	var (
		res      attemptResult
		attempts int
	)
	limit := max(c.cfg.MaxAttempts, 1)
	for attempts = 1; attempts <= limit; attempts++ {
		c.attempts.Add(1)
		res = c.attempt(ctx, prompt)
		if res.ok {
			break
		}
		log.Warn().Int("attempt", attempts).Str("reason", res.reason).Msg("summary attempt rejected")
		if attempts == limit {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempts)*c.cfg.Backoff()); err != nil {
			c.failed.Add(1)
			return
		}
	}
	if !res.ok {
		c.failed.Add(1)
		log.Error().Int("attempts", attempts).Str("reason", res.reason).Msg("summarization failed")
		return
	}

	now := c.now().UTC()
	summary := domain.Summary{
		SessionID:    job.SessionID,
		Content:      res.summary,
		EntriesCount: len(job.Entries),
		Model:        c.cfg.Model,
		CreatedAt:    now,
	}
	if err := c.writeSummary(ctx, summary); err != nil {
		c.failed.Add(1)
		log.Error().Err(err).Msg("persist summary failed")
		return
	}

	audit := domain.SummaryAudit{
		SessionID:    job.SessionID,
		UserID:       job.UserID,
		EntriesCount: len(job.Entries),
		SummaryLen:   utf8.RuneCountInString(res.summary),
		Attempts:     attempts,
		Tokens:       res.usage.Total(),
		CreatedAt:    now,
	}
	if b, err := json.Marshal(audit); err == nil {
		if err := c.store.RPush(ctx, c.keys.SummaryAudit(), int64(c.cfg.AuditCap), 0, b); err != nil {
			log.Warn().Err(err).Msg("audit append failed")
		}
	}

	c.processed.Add(1)
	log.Info().Int("entries", len(job.Entries)).Int("attempts", attempts).Msg("summary written")
	c.hooks.EmitAsync(ctx, hooks.EventSummaryWritten, map[string]any{
		"session_id": job.SessionID,
		"user_id":    job.UserID,
		"entries":    len(job.Entries),
		"attempts":   attempts,
		"tokens":     res.usage.Total(),
	})
}

func (c *Consumer) attempt(ctx context.Context, prompt string) attemptResult {
	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Model:     c.cfg.Model,
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return attemptResult{reason: "model error: " + err.Error()}
	}

	text := strings.TrimSpace(resp.Content)
	if n := utf8.RuneCountInString(text); n < c.cfg.MinLength {
		return attemptResult{usage: resp.Usage, reason: fmt.Sprintf("summary too short (%d < %d)", n, c.cfg.MinLength)}
	}
	return attemptResult{summary: text, usage: resp.Usage, ok: true}
}

func (c *Consumer) writeSummary(ctx context.Context, s domain.Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := c.store.Set(ctx, c.keys.Summary(s.SessionID), b, c.cfg.SummaryTTL()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := c.store.Del(ctx, c.keys.SummaryPending(s.SessionID)); err != nil {
		c.log.Warn().Str("session", s.SessionID).Err(err).Msg("clear pending marker failed")
	}
	return nil
}

// AuditLog returns up to limit of the newest audit rows, oldest first.
func (c *Consumer) AuditLog(ctx context.Context, limit int) ([]domain.SummaryAudit, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := c.store.LRange(ctx, c.keys.SummaryAudit(), start, -1)
	if err != nil {
		return nil, fmt.Errorf("read summary audit: %w", err)
	}
	out := make([]domain.SummaryAudit, 0, len(raw))
	for _, b := range raw {
		var a domain.SummaryAudit
		if json.Unmarshal(b, &a) == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func buildPrompt(entries []domain.HistoryEntry) string {
	var b strings.Builder
	b.WriteString("Conversation:\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return b.String()
}
