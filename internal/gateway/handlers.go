package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/session"
	"github.com/soyeahso/turnstile/internal/summarizer"
)

// HeaderReplay marks a response served from the idempotency record.
const HeaderReplay = "X-Idempotent-Replay"

// streamRequestTimeout bounds how long a new stream may wait for its request.
const streamRequestTimeout = 10 * time.Second

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Streams int    `json:"streams"`
	Store   string `json:"store,omitempty"`
}

// SessionStats is returned by the session stats endpoint.
type SessionStats struct {
	*domain.Snapshot
	Tokens int64 `json:"tokens"`
}

// QuotaResponse is returned by the user quota endpoint.
type QuotaResponse struct {
	Usage domain.DailyUsage   `json:"usage"`
	Quota domain.QuotaVerdict `json:"quota"`
}

// SummarizerResponse is returned by the summarizer stats endpoint.
type SummarizerResponse struct {
	Enabled    bool              `json:"enabled"`
	Stats      *summarizer.Stats `json:"stats,omitempty"`
	QueueDepth *int64            `json:"queue_depth,omitempty"`
}

// handleHealth reports whether the gateway and its store are reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version, Streams: s.clients.Count()}
	status := http.StatusOK
	if s.deps.Store != nil {
		resp.Store = "ok"
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("store ping failed")
			resp.Status = "degraded"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// handleAdvance runs one request and returns the stored response bytes.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req domain.AdvanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, domain.Validation("body", "invalid JSON: %v", err))
		return
	}
	if err := bindSession(&req, r.PathValue("sessionID")); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res, err := s.deps.Sessions.Advance(ctx, req, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Replayed {
		w.Header().Set(HeaderReplay, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}

// handleStream upgrades to WebSocket, reads one advance request and streams
// its progress.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	client := NewClient(conn, sessionID, s.log.Sub("ws"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	req, err := client.ReadRequest(streamRequestTimeout)
	if err == nil {
		err = bindSession(&req, sessionID)
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindValidation {
			client.Send(errorFrame(err))
		} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("stream request read failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res, err := s.deps.Sessions.Advance(ctx, req, func(ev session.Event) {
		if err := client.Send(eventFrame(ev)); err != nil {
			s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("stream send failed")
		}
	})
	if err != nil {
		client.Send(errorFrame(err))
		return
	}
	client.Send(resultFrame(res))
}

// handleSessionStats returns a session snapshot with its token spend.
func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	snap, err := s.deps.Sessions.Snapshot(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorShape{Code: "NOT_FOUND", Message: "session not found: " + sessionID})
		return
	}
	if err != nil {
		s.writeError(w, domain.Internal(err))
		return
	}
	tokens, err := s.deps.Quotas.SessionUsage(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, domain.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, SessionStats{Snapshot: snap, Tokens: tokens})
}

// handleUserQuota returns a user's usage for ?day= (default today) and
// today's quota verdict.
func (s *Server) handleUserQuota(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	usage, err := s.deps.Quotas.Usage(r.Context(), userID, r.URL.Query().Get("day"))
	if err != nil {
		s.writeError(w, domain.Internal(err))
		return
	}
	verdict, err := s.deps.Quotas.CheckQuota(r.Context(), userID, s.deps.Quotas.DailyLimit(), 0)
	if err != nil {
		s.writeError(w, domain.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, QuotaResponse{Usage: usage, Quota: verdict})
}

// handleSummarizerStats returns consumer counters and queue depth.
func (s *Server) handleSummarizerStats(w http.ResponseWriter, r *http.Request) {
	var resp SummarizerResponse
	if s.deps.Summarizer != nil {
		st := s.deps.Summarizer.Stats()
		resp.Enabled = true
		resp.Stats = &st
	}
	if s.deps.Queue != nil {
		n, err := s.deps.Queue.QueueDepth(r.Context())
		if err != nil {
			s.writeError(w, domain.Internal(err))
			return
		}
		resp.QueueDepth = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorShape{Code: "NOT_FOUND", Message: "not found: " + r.URL.Path})
}

// bindSession fills the request's session id from the path and rejects a
// body that names a different session.
func bindSession(req *domain.AdvanceRequest, sessionID string) error {
	if req.SessionID == "" {
		req.SessionID = sessionID
		return nil
	}
	if req.SessionID != sessionID {
		return domain.Validation("session_id", "body session %q does not match path session %q", req.SessionID, sessionID)
	}
	return nil
}

// writeError writes err as an ErrorShape with the status of its kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindQuotaExceeded:
		w.Header().Set("Retry-After", strconv.Itoa(int(coord.UntilEndOfDay(s.now()).Seconds())))
	case domain.KindConflict:
		w.Header().Set("Retry-After", "1")
	case domain.KindInternal:
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, statusFor(kind), errorShape(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
