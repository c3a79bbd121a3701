package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/logging"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() config.LedgerConfig {
	return config.LedgerConfig{
		DailyTokenLimit: 100000,
		RetentionHours:  1,
		DetailCap:       3,
		RetryBuffer:     16,
		RetryIntervalMs: 1,
		Pricing: map[string]config.PriceEntry{
			"claude-sonnet": {InputPerMillion: 3, OutputPerMillion: 15},
		},
	}
}

func newTestLedger(t *testing.T, cfg config.LedgerConfig) (*Ledger, coord.Store, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := coord.NewMemoryStore(clk.Now)
	l := New(store, coord.NewKeyspace("t:"), cfg, time.Hour, logging.New(nil, "silent"), WithClock(clk.Now))
	return l, store, clk
}

func TestRecordUsageIncrementsCounters(t *testing.T) {
	l, store, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	rec := l.RecordUsage(ctx, UsageInput{
		UserID: "u1", SessionID: "s1", RequestID: "r1",
		Model: "claude-sonnet", PromptTokens: 1000, CompletionTokens: 500,
	})
	assert.Equal(t, int64(1500), rec.TotalTokens())
	assert.True(t, decimal.RequireFromString("0.0105").Equal(rec.Cost), rec.Cost.String())

	l.RecordUsage(ctx, UsageInput{UserID: "u1", SessionID: "s1", RequestID: "r2", Model: "claude-sonnet", PromptTokens: 10, CompletionTokens: 5})

	usage, err := l.Usage(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DailyUsage{UserID: "u1", Day: "20260314", Tokens: 1515, Requests: 2}, usage)

	sess, err := l.SessionUsage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1515), sess)

	model, err := l.ModelUsage(ctx, "claude-sonnet", "20260314")
	require.NoError(t, err)
	assert.Equal(t, int64(1515), model)

	n, err := store.LLen(ctx, coord.NewKeyspace("t:").BillingQueue())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, int64(2), l.Stats().Recorded)
}

func TestRecordUsageStampsEventIDs(t *testing.T) {
	l, store, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	in := UsageInput{UserID: "u1", SessionID: "s1", RequestID: "r1", Model: "m", PromptTokens: 5}
	first := l.RecordUsage(ctx, in)
	second := l.RecordUsage(ctx, in)
	require.NotEmpty(t, first.EventID)
	assert.NotEqual(t, first.EventID, second.EventID)

	keys := coord.NewKeyspace("t:")
	queued, err := store.LRange(ctx, keys.BillingQueue(), 0, -1)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	var rec domain.BillingRecord
	require.NoError(t, json.Unmarshal(queued[0], &rec))
	assert.Equal(t, first.EventID, rec.EventID)
}

func TestRecordUsageCounterTTLs(t *testing.T) {
	l, store, _ := newTestLedger(t, testConfig())
	ctx := context.Background()
	keys := coord.NewKeyspace("t:")

	l.RecordUsage(ctx, UsageInput{UserID: "u1", SessionID: "s1", RequestID: "r1", Model: "m", PromptTokens: 1})

	// 12:00 UTC: 12h to midnight plus 1h retention.
	ttl, err := store.TTL(ctx, keys.UserTokens("u1", "20260314"))
	require.NoError(t, err)
	assert.Equal(t, 13*time.Hour, ttl)

	ttl, err = store.TTL(ctx, keys.SessionTokens("s1"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	ttl, err = store.TTL(ctx, keys.ModelTokens("m", "20260314"))
	require.NoError(t, err)
	assert.Equal(t, 13*time.Hour, ttl)
}

func TestRecordUsageCostOverride(t *testing.T) {
	l, _, _ := newTestLedger(t, testConfig())
	cost := decimal.RequireFromString("1.25")

	rec := l.RecordUsage(context.Background(), UsageInput{UserID: "u", SessionID: "s", Model: "claude-sonnet", PromptTokens: 10, Cost: &cost})
	assert.True(t, cost.Equal(rec.Cost))
}

func TestDetailsCapped(t *testing.T) {
	l, _, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		l.RecordUsage(ctx, UsageInput{UserID: "u1", SessionID: "s1", PromptTokens: i})
	}

	all, err := l.Details(ctx, "u1", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].PromptTokens)
	assert.Equal(t, int64(5), all[2].PromptTokens)

	last, err := l.Details(ctx, "u1", "", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, int64(5), last[0].PromptTokens)
}

func TestCheckQuotaAtLimit(t *testing.T) {
	l, store, _ := newTestLedger(t, testConfig())
	ctx := context.Background()
	keys := coord.NewKeyspace("t:")

	_, err := store.IncrBy(ctx, keys.UserTokens("u1", "20260314"), 99999, 0)
	require.NoError(t, err)

	v, err := l.CheckQuota(ctx, "u1", 100000, 50)
	require.NoError(t, err)
	assert.False(t, v.WithinQuota)
	assert.Equal(t, int64(99999), v.Used)
	assert.Equal(t, int64(1), v.Remaining)
	assert.InDelta(t, 0.99999, v.UsageRate, 1e-9)

	v, err = l.CheckQuota(ctx, "u1", 100000, 1)
	require.NoError(t, err)
	assert.True(t, v.WithinQuota)
}

func TestQuotaMonotonicWithinDayAndResets(t *testing.T) {
	l, _, clk := newTestLedger(t, testConfig())
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		l.RecordUsage(ctx, UsageInput{UserID: "u1", SessionID: "s1", PromptTokens: 100})
		v, err := l.CheckQuota(ctx, "u1", 100000, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v.Used, last)
		last = v.Used
		clk.Advance(time.Minute)
	}
	assert.Equal(t, int64(500), last)

	clk.Advance(12 * time.Hour)
	v, err := l.CheckQuota(ctx, "u1", 100000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Used)
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		name                  string
		used, limit, estimate int64
		within                bool
		remaining             int64
		rate                  float64
	}{
		{"empty", 0, 1000, 10, true, 1000, 0},
		{"exact fit", 990, 1000, 10, true, 10, 0.99},
		{"over", 990, 1000, 11, false, 10, 0.99},
		{"already over", 1200, 1000, 0, false, 0, 1.2},
		{"zero limit", 0, 0, 1, false, 0, 0},
		{"one third", 1, 3, 0, true, 2, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verdict(tt.used, tt.limit, tt.estimate)
			assert.Equal(t, tt.within, v.WithinQuota)
			assert.Equal(t, tt.remaining, v.Remaining)
			assert.InDelta(t, tt.rate, v.UsageRate, 1e-9)
		})
	}
}

func TestEstimateCost(t *testing.T) {
	prices := NewPriceTable(map[string]config.PriceEntry{
		"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	})

	got := prices.EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.True(t, decimal.RequireFromString("0.75").Equal(got), got.String())

	assert.True(t, prices.EstimateCost("unknown", 1000, 1000).IsZero())
	assert.True(t, prices.EstimateCost("gpt-4o-mini", 0, 0).IsZero())
}

// flakyStore fails IncrBy while failing is set.
type flakyStore struct {
	coord.Store
	failing atomic.Bool
}

func (f *flakyStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if f.failing.Load() {
		return 0, errors.New("connection refused")
	}
	return f.Store.IncrBy(ctx, key, delta, ttl)
}

func TestRecordUsageRetriesOutOfBand(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := &flakyStore{Store: coord.NewMemoryStore(clk.Now)}
	store.failing.Store(true)
	l := New(store, coord.NewKeyspace("t:"), testConfig(), time.Hour, logging.New(nil, "silent"), WithClock(clk.Now))
	ctx := context.Background()

	l.RecordUsage(ctx, UsageInput{UserID: "u1", SessionID: "s1", Model: "m", PromptTokens: 42})
	assert.Equal(t, 4, l.Stats().Pending)

	usage, err := l.Usage(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Tokens)

	store.failing.Store(false)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- l.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		u, err := l.Usage(ctx, "u1", "")
		if err != nil || u.Tokens != 42 || u.Requests != 1 {
			return false
		}
		m, err := l.ModelUsage(ctx, "m", "")
		return err == nil && m == 42
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, l.Stats().Pending)
}

func TestRetryBufferOverflowDrops(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBuffer = 2
	clk := &clock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := &flakyStore{Store: coord.NewMemoryStore(clk.Now)}
	store.failing.Store(true)
	l := New(store, coord.NewKeyspace("t:"), cfg, time.Hour, logging.New(nil, "silent"), WithClock(clk.Now))

	l.RecordUsage(context.Background(), UsageInput{UserID: "u1", SessionID: "s1", Model: "m", PromptTokens: 1})

	s := l.Stats()
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, int64(2), s.Dropped)
}
