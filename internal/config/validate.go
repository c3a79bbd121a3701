package config

import (
	"fmt"
	"slices"

	"github.com/soyeahso/turnstile/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	validStores := []string{"redis", "memory"}
	if !slices.Contains(validStores, cfg.Store) {
		add("store", "must be one of %v, got %q", validStores, cfg.Store)
	}
	if cfg.Store == "redis" && cfg.Redis.Addr == "" {
		add("redis.addr", "required when store is redis")
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}

	// Model validation
	validAPIs := []string{"anthropic", "openai", "mock"}
	for name, p := range cfg.Models.Providers {
		if !slices.Contains(validAPIs, p.API) {
			add("models.providers."+name+".api", "must be one of %v, got %q", validAPIs, p.API)
		}
		if p.API != "mock" && p.Model == "" {
			add("models.providers."+name+".model", "required for %s providers", p.API)
		}
	}
	if cfg.Models.Primary != "" && len(cfg.Models.Providers) == 0 {
		add("models.providers", "at least one provider is required when models.primary is set")
	}

	// Session validation
	s := cfg.Session
	if s.LockTTLSeconds <= 0 {
		add("session.lockTTLSeconds", "must be positive, got %d", s.LockTTLSeconds)
	}
	if s.TTLSeconds < s.LockTTLSeconds {
		add("session.ttlSeconds", "must be at least lockTTLSeconds (%d), got %d", s.LockTTLSeconds, s.TTLSeconds)
	}
	if s.IdempotencyTTLSeconds <= 0 {
		add("session.idempotencyTTLSeconds", "must be positive, got %d", s.IdempotencyTTLSeconds)
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		add("session.temperature", "must be within [0, 2], got %v", *s.Temperature)
	}

	// Compressor validation
	c := cfg.Compressor
	if c.TailSize <= 0 || c.TailSize > c.MaxHistory {
		add("compressor.tailSize", "must be within [1, maxHistory=%d], got %d", c.MaxHistory, c.TailSize)
	}
	if c.SummaryThreshold < c.MaxHistory {
		add("compressor.summaryThreshold", "must be at least maxHistory (%d), got %d", c.MaxHistory, c.SummaryThreshold)
	}
	if c.HistoryCap < c.SummaryThreshold {
		add("compressor.historyCap", "must be at least summaryThreshold (%d), got %d", c.SummaryThreshold, c.HistoryCap)
	}

	// Summarizer validation
	sm := cfg.Summarizer
	if sm.Workers < 1 {
		add("summarizer.workers", "must be at least 1, got %d", sm.Workers)
	}
	if sm.MaxAttempts < 1 {
		add("summarizer.maxAttempts", "must be at least 1, got %d", sm.MaxAttempts)
	}

	// Ledger validation
	if cfg.Ledger.DailyTokenLimit < 0 {
		add("ledger.dailyTokenLimit", "must not be negative, got %d", cfg.Ledger.DailyTokenLimit)
	}
	for model, price := range cfg.Ledger.Pricing {
		if price.InputPerMillion < 0 || price.OutputPerMillion < 0 {
			add("ledger.pricing."+model, "rates must not be negative")
		}
	}

	// Validator validation
	v := cfg.Validator
	if v.MinMessageLength > v.MaxMessageLength {
		add("validator.minMessageLength", "must not exceed maxMessageLength (%d), got %d", v.MaxMessageLength, v.MinMessageLength)
	}

	// Logging validation
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
