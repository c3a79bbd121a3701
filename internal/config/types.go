package config

import "time"

// Config is the root configuration for turnstile.
type Config struct {
	Store      string           `yaml:"store,omitempty"` // "redis" | "memory"
	Redis      RedisConfig      `yaml:"redis,omitempty"`
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Models     ModelsConfig     `yaml:"models,omitempty"`
	Session    SessionConfig    `yaml:"session,omitempty"`
	Compressor CompressorConfig `yaml:"compressor,omitempty"`
	Summarizer SummarizerConfig `yaml:"summarizer,omitempty"`
	Ledger     LedgerConfig     `yaml:"ledger,omitempty"`
	Validator  ValidatorConfig  `yaml:"validator,omitempty"`
	Billing    BillingConfig    `yaml:"billing,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// RedisConfig points at the shared coordination store.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	PoolSize  int    `yaml:"poolSize,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan"
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// ModelsConfig defines model providers and the failover order.
type ModelsConfig struct {
	Primary   string                        `yaml:"primary,omitempty"`
	Fallbacks []string                      `yaml:"fallbacks,omitempty"`
	Providers map[string]ModelProviderEntry `yaml:"providers,omitempty"`
}

// ModelProviderEntry defines a model provider.
type ModelProviderEntry struct {
	API     string   `yaml:"api"` // "anthropic" | "openai" | "mock"
	Model   string   `yaml:"model,omitempty"`
	BaseURL string   `yaml:"baseUrl,omitempty"`
	APIKey  string   `yaml:"apiKey,omitempty"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// SessionConfig controls the per-session state machine.
type SessionConfig struct {
	TTLSeconds            int      `yaml:"ttlSeconds,omitempty"`
	LockTTLSeconds        int      `yaml:"lockTTLSeconds,omitempty"`
	IdempotencyTTLSeconds int      `yaml:"idempotencyTTLSeconds,omitempty"`
	CheckpointBytes       int      `yaml:"checkpointBytes,omitempty"`
	MaxToolIterations     int      `yaml:"maxToolIterations,omitempty"`
	CompressAboveBytes    int      `yaml:"compressAboveBytes,omitempty"`
	Model                 string   `yaml:"model,omitempty"`
	MaxOutputTokens       int      `yaml:"maxOutputTokens,omitempty"`
	Temperature           *float64 `yaml:"temperature,omitempty"`
	SystemPrompt          string   `yaml:"systemPrompt,omitempty"`
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

func (s SessionConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

func (s SessionConfig) IdempotencyTTL() time.Duration {
	return time.Duration(s.IdempotencyTTLSeconds) * time.Second
}

// CompressorConfig bounds the context handed to the model.
type CompressorConfig struct {
	MaxHistory        int `yaml:"maxHistory,omitempty"`
	SummaryThreshold  int `yaml:"summaryThreshold,omitempty"`
	TailSize          int `yaml:"tailSize,omitempty"`
	HistoryCap        int `yaml:"historyCap,omitempty"`
	PendingTTLSeconds int `yaml:"pendingTTLSeconds,omitempty"`
}

func (c CompressorConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLSeconds) * time.Second
}

// SummarizerConfig controls the background summarization workers.
type SummarizerConfig struct {
	Enabled           *bool  `yaml:"enabled,omitempty"`
	Workers           int    `yaml:"workers,omitempty"`
	BatchSize         int    `yaml:"batchSize,omitempty"`
	PopTimeoutMs      int    `yaml:"popTimeoutMs,omitempty"`
	IdleIntervalMs    int    `yaml:"idleIntervalMs,omitempty"`
	MaxAttempts       int    `yaml:"maxAttempts,omitempty"`
	BackoffMs         int    `yaml:"backoffMs,omitempty"`
	MinLength         int    `yaml:"minLength,omitempty"`
	MaxEntries        int    `yaml:"maxEntries,omitempty"`
	SummaryTTLSeconds int    `yaml:"summaryTTLSeconds,omitempty"`
	AuditCap          int    `yaml:"auditCap,omitempty"`
	Model             string `yaml:"model,omitempty"`
	MaxTokens         int    `yaml:"maxTokens,omitempty"`
}

// IsEnabled reports whether serve should run in-process workers.
func (s SummarizerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s SummarizerConfig) PopTimeout() time.Duration {
	return time.Duration(s.PopTimeoutMs) * time.Millisecond
}

func (s SummarizerConfig) IdleInterval() time.Duration {
	return time.Duration(s.IdleIntervalMs) * time.Millisecond
}

func (s SummarizerConfig) Backoff() time.Duration {
	return time.Duration(s.BackoffMs) * time.Millisecond
}

func (s SummarizerConfig) SummaryTTL() time.Duration {
	return time.Duration(s.SummaryTTLSeconds) * time.Second
}

// LedgerConfig controls usage counters and quotas.
type LedgerConfig struct {
	DailyTokenLimit int64                 `yaml:"dailyTokenLimit,omitempty"`
	RetentionHours  int                   `yaml:"retentionHours,omitempty"`
	DetailCap       int                   `yaml:"detailCap,omitempty"`
	RetryBuffer     int                   `yaml:"retryBuffer,omitempty"`
	RetryIntervalMs int                   `yaml:"retryIntervalMs,omitempty"`
	Pricing         map[string]PriceEntry `yaml:"pricing,omitempty"`
}

func (l LedgerConfig) Retention() time.Duration {
	return time.Duration(l.RetentionHours) * time.Hour
}

func (l LedgerConfig) RetryInterval() time.Duration {
	return time.Duration(l.RetryIntervalMs) * time.Millisecond
}

// PriceEntry is a model's price in currency units per million tokens.
type PriceEntry struct {
	InputPerMillion  float64 `yaml:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"outputPerMillion"`
}

// ValidatorConfig bounds inbound requests.
type ValidatorConfig struct {
	MinMessageLength int `yaml:"minMessageLength,omitempty"`
	MaxMessageLength int `yaml:"maxMessageLength,omitempty"`
	MaxToolPayload   int `yaml:"maxToolPayload,omitempty"`
	MaxToolResults   int `yaml:"maxToolResults,omitempty"`
	MaxOutputTokens  int `yaml:"maxOutputTokens,omitempty"`
}

// BillingConfig controls the durable billing sink.
type BillingConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	Path         string `yaml:"path,omitempty"` // SQLite file; empty means <home>/data/billing.db
	PopTimeoutMs int    `yaml:"popTimeoutMs,omitempty"`
	BackoffMs    int    `yaml:"backoffMs,omitempty"`
}

// IsEnabled reports whether serve should drain the billing queue.
func (b BillingConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

func (b BillingConfig) PopTimeout() time.Duration {
	return time.Duration(b.PopTimeoutMs) * time.Millisecond
}

func (b BillingConfig) Backoff() time.Duration {
	return time.Duration(b.BackoffMs) * time.Millisecond
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
