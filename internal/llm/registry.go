package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/logging"
)

// ProviderError is returned when a model provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Registry manages provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered model provider")
}

// Alias maps a model name/alias to a provider.
// e.g., Alias("sonnet", "claude") means "sonnet" resolves to the "claude" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}

	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}

	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}

	return nil, fmt.Errorf("no model provider for %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig builds a Registry from the configured providers.
// The primary provider becomes the fallback; each provider's configured
// model id and aliases resolve to it.
func NewRegistryFromConfig(cfg config.ModelsConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	for name, p := range cfg.Providers {
		var client Client
		switch p.API {
		case "anthropic":
			client = NewAnthropicClient(name, p.Model, p.APIKey, p.BaseURL)
		case "openai":
			client = NewOpenAIClient(name, p.Model, p.APIKey, p.BaseURL)
		case "mock":
			client = &MockClient{ProviderName: name}
		default:
			return nil, fmt.Errorf("provider %s: unsupported api %q", name, p.API)
		}

		reg.Register(name, client)
		if p.Model != "" {
			reg.Alias(p.Model, name)
		}
		for _, alias := range p.Aliases {
			reg.Alias(alias, name)
		}
	}

	if cfg.Primary != "" {
		reg.SetFallback(cfg.Primary)
	}
	return reg, nil
}
