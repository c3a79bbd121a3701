package gateway

import "net/http"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/sessions/{sessionID}/advance", s.handleAdvance)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/stream", s.handleStream)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/stats", s.handleSessionStats)
	mux.HandleFunc("GET /v1/users/{userID}/quota", s.handleUserQuota)
	mux.HandleFunc("GET /v1/summarizer/stats", s.handleSummarizerStats)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
