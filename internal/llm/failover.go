package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/turnstile/internal/logging"
)

// FailoverClient wraps a registry to try fallback providers on failure.
// It satisfies Client itself, so callers never see the chain.
type FailoverClient struct {
	registry  *Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary model first,
// then falls back through the list on retryable errors (401, 429, 5xx).
func NewFailoverClient(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name reports the primary model reference.
func (f *FailoverClient) Name() string { return "failover:" + f.primary }

func (f *FailoverClient) chain(requested string) []string {
	first := f.primary
	if requested != "" {
		first = requested
	}
	models := []string{first}
	for _, m := range f.fallbacks {
		if m != first {
			models = append(models, m)
		}
	}
	return models
}

// Complete tries the primary provider, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for _, model := range f.chain(req.Model) {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = model
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if IsRetryable(err) {
			f.log.Warn().
				Str("model", model).
				Err(err).
				Msg("retryable error, trying next provider")
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// Stream tries the primary provider for streaming, with failover. A
// provider fails over when opening the stream returns a retryable error or
// when its first event is a retryable in-band error. Once the first event
// is forwarded, an in-stream error is final.
func (f *FailoverClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	var lastErr error
	for _, model := range f.chain(req.Model) {
		client, err := f.registry.Resolve(model)
		if err != nil {
			lastErr = err
			continue
		}

		req.Model = model
		ch, err := client.Stream(ctx, req)
		if err == nil {
			var first StreamEvent
			var open bool
			select {
			case first, open = <-ch:
			case <-ctx.Done():
				go drain(ch)
				return nil, ctx.Err()
			}
			if !open {
				return ch, nil
			}
			if first.Type != EventError {
				return prepend(ctx, first, ch), nil
			}
			go drain(ch)
			err = first.Failure()
			if !IsRetryable(err) {
				out := make(chan StreamEvent, 1)
				out <- first
				close(out)
				return out, nil
			}
		}

		lastErr = err

		if IsRetryable(err) {
			f.log.Warn().
				Str("model", model).
				Err(err).
				Msg("retryable stream error, trying next provider")
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// prepend returns a stream that yields first and then everything from rest.
func prepend(ctx context.Context, first StreamEvent, rest <-chan StreamEvent) <-chan StreamEvent {
	out := make(chan StreamEvent, 1)
	out <- first
	go func() {
		defer close(out)
		for ev := range rest {
			select {
			case out <- ev:
			case <-ctx.Done():
				drain(rest)
				return
			}
		}
	}()
	return out
}

func drain(ch <-chan StreamEvent) {
	for range ch {
	}
}

// IsRetryable checks if the error suggests trying another provider.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 408, 429, 500, 502, 503, 504, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}
