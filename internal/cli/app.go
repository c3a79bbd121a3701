package cli

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/turnstile/internal/billing"
	"github.com/soyeahso/turnstile/internal/compressor"
	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/hooks"
	"github.com/soyeahso/turnstile/internal/ledger"
	"github.com/soyeahso/turnstile/internal/llm"
	"github.com/soyeahso/turnstile/internal/logging"
	"github.com/soyeahso/turnstile/internal/session"
	"github.com/soyeahso/turnstile/internal/summarizer"
	"github.com/soyeahso/turnstile/internal/tools"
	"github.com/soyeahso/turnstile/internal/validator"
)

// components is every long-lived object a command may need, constructed
// once from config and passed down explicitly.
type components struct {
	cfg      config.Config
	store    coord.Store
	keys     coord.Keyspace
	hooks    *hooks.Manager
	models   *llm.Registry
	client   llm.Client
	ledger   *ledger.Ledger
	history  *compressor.Compressor
	tools    *tools.Registry
	sessions *session.Orchestrator
}

// loadConfig loads and validates the config file, applying overrides
// before validation. A config logging level is honored unless --log-level
// was given.
func loadConfig(overrides ...func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	for _, fn := range overrides {
		fn(&cfg)
	}

	if logLevel == "" && (cfg.Logging.Level != "" || cfg.Logging.ConsoleStyle != "") {
		level := cfg.Logging.Level
		if level == "" {
			level = "info"
		}
		log = logging.NewStyled(cfg.Logging.ConsoleStyle, level)
	}

	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openStore connects the configured coordination store driver.
func openStore(cfg config.Config) (coord.Store, error) {
	st := coord.StoreType(cfg.Store)
	if st != coord.StoreTypeRedis {
		return coord.NewStore(st)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	return coord.NewStore(st, coord.WithRedisClient(client))
}

// build wires the orchestration stack on top of store.
func build(cfg config.Config, store coord.Store) (*components, error) {
	models, err := llm.NewRegistryFromConfig(cfg.Models, log)
	if err != nil {
		return nil, fmt.Errorf("building model registry: %w", err)
	}
	if len(models.List()) == 0 {
		log.Warn().Msg("no model providers configured; requests will fail with MODEL_UNAVAILABLE")
	}
	client := llm.NewFailoverClient(models, cfg.Models.Primary, cfg.Models.Fallbacks, log)

	keys := coord.NewKeyspace(cfg.Redis.KeyPrefix)
	hk := hooks.NewManager(log)
	led := ledger.New(store, keys, cfg.Ledger, cfg.Session.TTL(), log)
	history := compressor.New(store, keys, cfg.Compressor, cfg.Session.TTL(), log)
	val := validator.New(cfg.Validator, led, led.DailyLimit(), log)
	toolReg := tools.NewRegistry(tools.Deps{Now: time.Now, Usage: led})

	sessions := session.New(cfg.Session, session.Deps{
		Store:     store,
		Keys:      keys,
		Validator: val,
		History:   history,
		Ledger:    led,
		Client:    client,
		Tools:     toolReg,
		Hooks:     hk,
	}, log)

	return &components{
		cfg:      cfg,
		store:    store,
		keys:     keys,
		hooks:    hk,
		models:   models,
		client:   client,
		ledger:   led,
		history:  history,
		tools:    toolReg,
		sessions: sessions,
	}, nil
}

// setup loads config, opens the store and wires the stack. The caller must
// call close.
func setup(overrides ...func(*config.Config)) (*components, error) {
	cfg, err := loadConfig(overrides...)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store, err)
	}
	c, err := build(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func (c *components) close() {
	c.hooks.Wait()
	if err := c.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing store")
	}
}

func (c *components) summarizer() *summarizer.Consumer {
	return summarizer.New(c.store, c.keys, c.client, c.cfg.Summarizer, c.hooks, log)
}

// billingSink opens the billing database. The caller closes the DB.
func (c *components) billingSink() (*billing.Sink, *billing.DB, error) {
	path := paths.BillingDB(c.cfg.Billing.Path)
	db, err := billing.Open(path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening billing database: %w", err)
	}
	return billing.NewSink(db, c.store, c.keys, c.cfg.Billing, log), db, nil
}
