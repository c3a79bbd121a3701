package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/ledger"
	"github.com/soyeahso/turnstile/internal/logging"
)

type fakeQuota struct {
	used  int64
	err   error
	calls int
}

func (f *fakeQuota) CheckQuota(_ context.Context, _ string, limit, estimated int64) (domain.QuotaVerdict, error) {
	f.calls++
	if f.err != nil {
		return domain.QuotaVerdict{}, f.err
	}
	return ledger.Verdict(f.used, limit, estimated), nil
}

func testConfig() config.ValidatorConfig {
	return config.ValidatorConfig{
		MinMessageLength: 1,
		MaxMessageLength: 100,
		MaxToolPayload:   64,
		MaxToolResults:   2,
		MaxOutputTokens:  4096,
	}
}

func newValidator(q QuotaChecker) *Validator {
	return New(testConfig(), q, 100000, logging.New(nil, "silent"))
}

func validRequest() domain.AdvanceRequest {
	return domain.AdvanceRequest{
		SessionID: "sess-1",
		RequestID: "req:2026.03.14_01",
		UserID:    "user_42",
		Message:   "What is my usage today?",
	}
}

func field(t *testing.T, err error) string {
	t.Helper()
	var de *domain.Error
	require.True(t, errors.As(err, &de), "want *domain.Error, got %v", err)
	assert.Equal(t, domain.KindValidation, de.Kind)
	return de.Field
}

func TestValidRequestPasses(t *testing.T) {
	q := &fakeQuota{}
	c, err := newValidator(q).Validate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "What is my usage today?", c.Message)
	assert.Equal(t, int64(6), c.EstimatedTokens)
	assert.Equal(t, 1, q.calls)
}

func TestIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*domain.AdvanceRequest)
		field string
	}{
		{"missing session", func(r *domain.AdvanceRequest) { r.SessionID = "" }, "session_id"},
		{"bad session chars", func(r *domain.AdvanceRequest) { r.SessionID = "a b" }, "session_id"},
		{"missing request", func(r *domain.AdvanceRequest) { r.RequestID = "" }, "request_id"},
		{"slash in request", func(r *domain.AdvanceRequest) { r.RequestID = "r/1" }, "request_id"},
		{"long user", func(r *domain.AdvanceRequest) { r.UserID = strings.Repeat("u", 129) }, "user_id"},
		{"unicode user", func(r *domain.AdvanceRequest) { r.UserID = "jürgen" }, "user_id"},
	}
	v := newValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mod(&req)
			_, err := v.ValidateStructure(req)
			require.Error(t, err)
			assert.Equal(t, tt.field, field(t, err))
		})
	}

	req := validRequest()
	req.UserID = strings.Repeat("u", 128)
	_, err := v.ValidateStructure(req)
	assert.NoError(t, err)
}

func TestCleanMessage(t *testing.T) {
	assert.Equal(t, "hello world", CleanMessage("  hello\t\x00\x07 \n world  "))
	assert.Equal(t, "a b", CleanMessage("a\r\nb"))
	assert.Equal(t, "", CleanMessage("\x01\x02 \n"))
	assert.Equal(t, "héllo wörld", CleanMessage("héllo   wörld"))
}

func TestMessageLength(t *testing.T) {
	v := newValidator(nil)

	req := validRequest()
	req.Message = " \n\t "
	_, err := v.ValidateStructure(req)
	assert.Equal(t, "message", field(t, err))

	req.Message = strings.Repeat("ü", 101)
	_, err = v.ValidateStructure(req)
	assert.Equal(t, "message", field(t, err))

	// Length counts runes after collapsing whitespace.
	req.Message = strings.Repeat("ü", 50) + "      " + strings.Repeat("ü", 49)
	_, err = v.ValidateStructure(req)
	assert.NoError(t, err)
}

func TestUnsafePatterns(t *testing.T) {
	bad := []string{
		"<script>alert(1)</script>",
		"< SCRIPT src=x>",
		"click javascript:alert(1)",
		`<img src=x onerror="alert(1)">`,
		"<iframe src=evil>",
		"1 UNION SELECT password FROM users",
		"'; DROP TABLE users; --",
		"admin' OR '1'='1",
		"x or 1=1",
		"name; -- comment",
		"exec xp_cmdshell 'dir'",
	}
	v := newValidator(nil)
	for _, msg := range bad {
		req := validRequest()
		req.Message = msg
		_, err := v.ValidateStructure(req)
		require.Error(t, err, msg)
		assert.Equal(t, "message", field(t, err), msg)
	}

	good := []string{
		"Please select a union representative for the meeting",
		"Turn the light on = off? once=twice",
		"I want to drop the table lamp",
		"Is 1 = 1 in math?",
	}
	for _, msg := range good {
		req := validRequest()
		req.Message = msg
		_, err := v.ValidateStructure(req)
		assert.NoError(t, err, msg)
	}
}

func TestToolResults(t *testing.T) {
	v := newValidator(nil)

	req := validRequest()
	req.Message = ""
	req.ToolResults = []domain.ToolResult{
		{ToolCallID: "call_1", Name: "lookup", Output: `{"rows":3}`},
		{ToolCallID: "call_2", Name: "lookup", Output: `{"error":"not found"}`},
	}
	c, err := v.ValidateStructure(req)
	require.NoError(t, err)
	assert.False(t, c.ToolResults[0].IsError)
	assert.True(t, c.ToolResults[1].IsError)
	assert.Greater(t, c.EstimatedTokens, int64(0))

	tests := []struct {
		name   string
		result domain.ToolResult
		field  string
	}{
		{"missing id", domain.ToolResult{Name: "x", Output: "{}"}, "tool_results.tool_call_id"},
		{"bad id", domain.ToolResult{ToolCallID: "a b", Name: "x", Output: "{}"}, "tool_results.tool_call_id"},
		{"missing name", domain.ToolResult{ToolCallID: "c", Output: "{}"}, "tool_results.name"},
		{"missing output", domain.ToolResult{ToolCallID: "c", Name: "x", Output: "  "}, "tool_results.output"},
		{"malformed", domain.ToolResult{ToolCallID: "c", Name: "x", Output: `{"a":`}, "tool_results.output"},
		{"too large", domain.ToolResult{ToolCallID: "c", Name: "x", Output: `"` + strings.Repeat("a", 70) + `"`}, "tool_results.output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			req.ToolResults = []domain.ToolResult{tt.result}
			_, err := v.ValidateStructure(req)
			require.Error(t, err)
			assert.Equal(t, tt.field, field(t, err))
		})
	}

	req = validRequest()
	req.ToolResults = make([]domain.ToolResult, 3)
	_, err = v.ValidateStructure(req)
	assert.Equal(t, "tool_results", field(t, err))
}

func TestGenerationParams(t *testing.T) {
	v := newValidator(nil)
	f := func(x float64) *float64 { return &x }
	i := func(x int) *int { return &x }

	for _, temp := range []float64{0, 0.7, 2} {
		req := validRequest()
		req.Temperature = f(temp)
		_, err := v.ValidateStructure(req)
		assert.NoError(t, err)
	}
	for _, temp := range []float64{-0.1, 2.01} {
		req := validRequest()
		req.Temperature = f(temp)
		_, err := v.ValidateStructure(req)
		assert.Equal(t, "temperature", field(t, err))
	}
	for _, n := range []int{0, 4097} {
		req := validRequest()
		req.MaxOutputTokens = i(n)
		_, err := v.ValidateStructure(req)
		assert.Equal(t, "max_output_tokens", field(t, err))
	}
	req := validRequest()
	req.MaxOutputTokens = i(4096)
	_, err := v.ValidateStructure(req)
	assert.NoError(t, err)
}

func TestStructureCheckedBeforeQuota(t *testing.T) {
	q := &fakeQuota{used: 100000}
	req := validRequest()
	req.SessionID = ""

	_, err := newValidator(q).Validate(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, 0, q.calls)
}

func TestQuotaExceeded(t *testing.T) {
	q := &fakeQuota{used: 99999}
	req := validRequest()
	req.Message = strings.Repeat("a", 100) // 25 tokens

	_, err := newValidator(q).Validate(context.Background(), req)
	require.Error(t, err)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.KindQuotaExceeded, de.Kind)
	require.NotNil(t, de.Quota)
	assert.False(t, de.Quota.WithinQuota)
	assert.Equal(t, int64(99999), de.Quota.Used)
	assert.Equal(t, int64(1), de.Quota.Remaining)
}

func TestQuotaStoreError(t *testing.T) {
	q := &fakeQuota{err: errors.New("redis down")}
	_, err := newValidator(q).Validate(context.Background(), validRequest())
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}
