// Package validator gates inbound turns before they reach the session
// orchestrator. Structural checks run first and cost nothing; the quota
// check runs last because it needs a store round-trip.
package validator

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/llm"
	"github.com/soyeahso/turnstile/internal/logging"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// unsafePatterns match markup injection and SQL-injection-shaped input.
var unsafePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"script tag", regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{"javascript url", regexp.MustCompile(`(?i)\bjavascript\s*:`)},
	{"inline event handler", regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`)},
	{"embedded object", regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`)},
	{"union select", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"drop statement", regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`)},
	{"tautology", regexp.MustCompile(`(?i)'\s*or\s+'?\d+'?\s*=\s*'?\d+`)},
	{"tautology", regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`)},
	{"comment terminator", regexp.MustCompile(`;\s*--`)},
	{"stored procedure", regexp.MustCompile(`(?i)\bexec(\s|\()+xp_`)},
}

// QuotaChecker answers daily quota checks.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, userID string, dailyLimit, estimated int64) (domain.QuotaVerdict, error)
}

// Cleaned is a structurally valid request with its normalized message.
type Cleaned struct {
	domain.AdvanceRequest
	EstimatedTokens int64
}

// Validator checks requests.
type Validator struct {
	cfg        config.ValidatorConfig
	quota      QuotaChecker
	dailyLimit int64
	log        *logging.Logger
}

// New creates a Validator. A nil quota checker skips the quota step.
func New(cfg config.ValidatorConfig, quota QuotaChecker, dailyLimit int64, log *logging.Logger) *Validator {
	return &Validator{
		cfg:        cfg,
		quota:      quota,
		dailyLimit: dailyLimit,
		log:        log.Sub("validator"),
	}
}

// Validate runs the structural checks and then the quota check.
func (v *Validator) Validate(ctx context.Context, req domain.AdvanceRequest) (*Cleaned, error) {
	c, err := v.ValidateStructure(req)
	if err != nil {
		return nil, err
	}
	if _, err := v.CheckQuota(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidateStructure checks identifiers, message, tool results and
// generation parameters. It never touches the store.
func (v *Validator) ValidateStructure(req domain.AdvanceRequest) (*Cleaned, error) {
	for _, id := range []struct{ field, value string }{
		{"session_id", req.SessionID},
		{"request_id", req.RequestID},
		{"user_id", req.UserID},
	} {
		if err := checkID(id.field, id.value); err != nil {
			return nil, err
		}
	}

	msg := CleanMessage(req.Message)
	n := utf8.RuneCountInString(msg)
	// A turn may carry only tool output.
	toolOnly := n == 0 && len(req.ToolResults) > 0
	if !toolOnly && n < v.cfg.MinMessageLength {
		return nil, domain.Validation("message", "too short (%d < %d characters)", n, v.cfg.MinMessageLength)
	}
	if v.cfg.MaxMessageLength > 0 && n > v.cfg.MaxMessageLength {
		return nil, domain.Validation("message", "too long (%d > %d characters)", n, v.cfg.MaxMessageLength)
	}
	if name := unsafeMatch(msg); name != "" {
		return nil, domain.Validation("message", "rejected unsafe content (%s)", name)
	}

	results, err := v.checkToolResults(req.ToolResults)
	if err != nil {
		return nil, err
	}

	if t := req.Temperature; t != nil && (*t < 0 || *t > 2) {
		return nil, domain.Validation("temperature", "must be within [0, 2], got %g", *t)
	}
	if m := req.MaxOutputTokens; m != nil && (*m < 1 || (v.cfg.MaxOutputTokens > 0 && *m > v.cfg.MaxOutputTokens)) {
		return nil, domain.Validation("max_output_tokens", "must be within [1, %d], got %d", v.cfg.MaxOutputTokens, *m)
	}

	out := &Cleaned{AdvanceRequest: req}
	out.Message = msg
	out.ToolResults = results
	out.EstimatedTokens = int64(llm.EstimateTokens(msg))
	for _, r := range results {
		out.EstimatedTokens += int64(llm.EstimateTokens(r.Output))
	}
	return out, nil
}

// CheckQuota asks the ledger whether the cleaned request fits in the
// user's daily budget.
func (v *Validator) CheckQuota(ctx context.Context, c *Cleaned) (domain.QuotaVerdict, error) {
	if v.quota == nil {
		return domain.QuotaVerdict{WithinQuota: true}, nil
	}
	verdict, err := v.quota.CheckQuota(ctx, c.UserID, v.dailyLimit, c.EstimatedTokens)
	if err != nil {
		return verdict, domain.Internal(err)
	}
	if !verdict.WithinQuota {
		v.log.Info().
			Str("user", c.UserID).
			Int64("used", verdict.Used).
			Int64("limit", verdict.Limit).
			Int64("estimated", verdict.Estimated).
			Msg("quota exceeded")
		return verdict, domain.QuotaExceeded(verdict)
	}
	return verdict, nil
}

func (v *Validator) checkToolResults(results []domain.ToolResult) ([]domain.ToolResult, error) {
	if len(results) == 0 {
		return nil, nil
	}
	if v.cfg.MaxToolResults > 0 && len(results) > v.cfg.MaxToolResults {
		return nil, domain.Validation("tool_results", "too many results (%d > %d)", len(results), v.cfg.MaxToolResults)
	}
	out := make([]domain.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.ToolCallID == "":
			return nil, domain.Validation("tool_results.tool_call_id", "required (result %d)", i)
		case r.Name == "":
			return nil, domain.Validation("tool_results.name", "required (result %d)", i)
		case strings.TrimSpace(r.Output) == "":
			return nil, domain.Validation("tool_results.output", "required (result %d)", i)
		}
		if !idPattern.MatchString(r.ToolCallID) {
			return nil, domain.Validation("tool_results.tool_call_id", "invalid characters (result %d)", i)
		}
		if v.cfg.MaxToolPayload > 0 && len(r.Output) > v.cfg.MaxToolPayload {
			return nil, domain.Validation("tool_results.output", "payload too large (%d > %d bytes)", len(r.Output), v.cfg.MaxToolPayload)
		}
		if !gjson.Valid(r.Output) {
			return nil, domain.Validation("tool_results.output", "not valid JSON (result %d)", i)
		}
		if gjson.Get(r.Output, "error").Exists() {
			r.IsError = true
		}
		out[i] = r
	}
	return out, nil
}

func checkID(field, value string) error {
	if value == "" {
		return domain.Validation(field, "required")
	}
	if !idPattern.MatchString(value) {
		return domain.Validation(field, "must match %s", idPattern.String())
	}
	return nil
}

// CleanMessage replaces control characters with spaces, collapses runs of
// whitespace and trims the result.
func CleanMessage(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func unsafeMatch(s string) string {
	for _, p := range unsafePatterns {
		if p.re.MatchString(s) {
			return p.name
		}
	}
	return ""
}
