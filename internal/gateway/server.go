// Package gateway exposes the session orchestrator over HTTP and WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/hooks"
	"github.com/soyeahso/turnstile/internal/logging"
	"github.com/soyeahso/turnstile/internal/session"
	"github.com/soyeahso/turnstile/internal/summarizer"
	"github.com/soyeahso/turnstile/internal/version"
)

// Sessions advances and inspects sessions.
type Sessions interface {
	Advance(ctx context.Context, req domain.AdvanceRequest, emit session.StreamFunc) (*session.Result, error)
	Snapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error)
}

// Quotas reads token accounting.
type Quotas interface {
	DailyLimit() int64
	CheckQuota(ctx context.Context, userID string, dailyLimit, estimated int64) (domain.QuotaVerdict, error)
	Usage(ctx context.Context, userID, day string) (domain.DailyUsage, error)
	SessionUsage(ctx context.Context, sessionID string) (int64, error)
}

// SummarizerStats reports summarization consumer counters.
type SummarizerStats interface {
	Stats() summarizer.Stats
}

// QueueDepth reports the number of pending summarization jobs.
type QueueDepth interface {
	QueueDepth(ctx context.Context) (int64, error)
}

// Pinger checks the coordination store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the gateway serves. Sessions and Quotas are
// required; the rest may be nil.
type Deps struct {
	Sessions   Sessions
	Quotas     Quotas
	Summarizer SummarizerStats
	Queue      QueueDepth
	Store      Pinger
}

// defaultRequestTimeout bounds a single advance call.
const defaultRequestTimeout = 5 * time.Minute

// maxBodyBytes caps advance request bodies and stream frames.
const maxBodyBytes = 4 * 1024 * 1024

// Server is the turnstile HTTP + WebSocket server.
type Server struct {
	cfg     config.GatewayConfig
	deps    Deps
	log     *logging.Logger
	clients *ClientRegistry
	hooks   *hooks.Manager
	version string
	now     func() time.Time

	requestTimeout time.Duration
	upgrader       websocket.Upgrader

	mu         sync.Mutex
	addr       string
	startedAt  time.Time
	httpServer *http.Server
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithClock overrides the clock used for Retry-After.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, deps Deps, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:            cfg,
		deps:           deps,
		log:            log.Sub("gateway"),
		clients:        NewClientRegistry(log.Sub("streams")),
		version:        version.Version,
		now:            time.Now,
		requestTimeout: defaultRequestTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// Requests without an Origin header (non-browser clients) are always allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.requestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = s.now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Str("version", s.version).
		Msg("gateway server starting")

	s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// Addr returns the server's bound address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Uptime returns how long the server has been listening.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return s.now().Sub(s.startedAt)
}
