package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Store == "" {
		cfg.Store = "redis"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "turnstile:"
	}

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}

	s := &cfg.Session
	setDefault(&s.TTLSeconds, 3600)
	setDefault(&s.LockTTLSeconds, 30)
	setDefault(&s.IdempotencyTTLSeconds, 600)
	setDefault(&s.CheckpointBytes, 512)
	setDefault(&s.MaxToolIterations, 5)
	setDefault(&s.CompressAboveBytes, 1024)
	setDefault(&s.MaxOutputTokens, 1024)
	if s.Model == "" {
		s.Model = cfg.Models.Primary
	}

	c := &cfg.Compressor
	setDefault(&c.MaxHistory, 10)
	setDefault(&c.SummaryThreshold, 20)
	setDefault(&c.TailSize, 5)
	setDefault(&c.HistoryCap, 200)
	setDefault(&c.PendingTTLSeconds, 300)

	sm := &cfg.Summarizer
	setDefault(&sm.Workers, 1)
	setDefault(&sm.BatchSize, 10)
	setDefault(&sm.PopTimeoutMs, 1000)
	setDefault(&sm.IdleIntervalMs, 500)
	setDefault(&sm.MaxAttempts, 3)
	setDefault(&sm.BackoffMs, 1000)
	setDefault(&sm.MinLength, 20)
	setDefault(&sm.MaxEntries, 20)
	setDefault(&sm.SummaryTTLSeconds, 86400)
	setDefault(&sm.AuditCap, 1000)
	setDefault(&sm.MaxTokens, 512)
	if sm.Model == "" {
		sm.Model = s.Model
	}

	l := &cfg.Ledger
	if l.DailyTokenLimit == 0 {
		l.DailyTokenLimit = 100000
	}
	setDefault(&l.RetentionHours, 48)
	setDefault(&l.DetailCap, 1000)
	setDefault(&l.RetryBuffer, 1024)
	setDefault(&l.RetryIntervalMs, 1000)

	v := &cfg.Validator
	setDefault(&v.MinMessageLength, 1)
	setDefault(&v.MaxMessageLength, 8000)
	setDefault(&v.MaxToolPayload, 64*1024)
	setDefault(&v.MaxToolResults, 16)
	setDefault(&v.MaxOutputTokens, 4096)

	b := &cfg.Billing
	setDefault(&b.PopTimeoutMs, 1000)
	setDefault(&b.BackoffMs, 2000)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

func setDefault(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
