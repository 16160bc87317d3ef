package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkan/chatrelay/internal/metrics"
	"github.com/arkan/chatrelay/pkg/chat"
	"github.com/arkan/chatrelay/pkg/ratelimit"
	"github.com/arkan/chatrelay/pkg/validate"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Options configures the HTTP server.
type Options struct {
	Host          string
	Port          int
	AllowedOrigin string
}

// Server is the REST transport. It translates HTTP requests into conversation
// service calls and serializes the results back.
type Server struct {
	options        Options
	service        *chat.Service
	validator      *validate.Validator
	limiters       *ratelimit.Set
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	server         *http.Server
	wsHandler      http.HandlerFunc
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a REST server. wsHandler, when non-nil, is mounted at /ws
// so both transports share one listener; metrics may be nil.
func NewServer(options Options, service *chat.Service, validator *validate.Validator, limiters *ratelimit.Set, m *metrics.Metrics, wsHandler http.HandlerFunc, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 3000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if service == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if limiters == nil {
		return nil, fmt.Errorf("rate limiters are required")
	}

	return &Server{
		options:   options,
		service:   service,
		validator: validator,
		limiters:  limiters,
		metrics:   m,
		wsHandler: wsHandler,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Handler builds the full route table wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/history/{sessionId}", s.handleHistory)
	mux.HandleFunc("DELETE /chat/session/{sessionId}", s.handleDeleteSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	if s.wsHandler != nil {
		mux.HandleFunc("/ws", s.wsHandler)
	}

	return s.middleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server, draining in-flight requests first.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// middleware applies security headers, CORS, the shutdown gate, in-flight
// tracking and the general rate limit to every request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		if s.options.AllowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.options.AllowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		// Websocket upgrades and metrics scrapes bypass the general limiter;
		// the gateway applies its own per-connection limits.
		if r.URL.Path != "/ws" && r.URL.Path != "/metrics" {
			if !s.allow(w, s.limiters.General, "general", s.clientIP(r)) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// allow checks one limiter scope, writing the 429 response on rejection.
func (s *Server) allow(w http.ResponseWriter, limiter *ratelimit.Limiter, scope, key string) bool {
	allowed, retryAfter := limiter.Allow(key)
	if allowed {
		return true
	}

	if s.metrics != nil {
		s.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
	}

	s.logger.Warn().
		Str("scope", scope).
		Str("key", key).
		Dur("retryAfter", retryAfter).
		Msg("Rate limit exceeded")

	seconds := int(retryAfter.Seconds()) + 1
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	s.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"success":    false,
		"error":      "Too many requests",
		"retryAfter": seconds,
	})
	return false
}

type chatRequest struct {
	SessionID string               `json:"sessionId"`
	Message   string               `json:"message"`
	Options   validate.ChatOptions `json:"options"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if !s.allow(w, s.limiters.Chat, "chat", ip) {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	start := time.Now()
	result, err := s.service.SendMessage(r.Context(), req.SessionID, req.Message, req.Options)
	s.observeRequest("rest", start, err == nil && result.Success)

	if err != nil {
		if ve, ok := chat.AsValidationError(err); ok {
			s.writeError(w, http.StatusBadRequest, "Validation failed", ve.Details)
			return
		}

		s.logger.Error().Err(err).Str("sessionId", req.SessionID).Msg("Chat request failed")
		s.writeError(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	// Upstream failures arrive here recovered: success=false with the apology
	// already persisted, still a well-formed 200 response.
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if res := s.validator.SessionID(sessionID); !res.Valid {
		s.writeError(w, http.StatusBadRequest, "Invalid session id", res.Errors)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), nil)
			return
		}
		limit = parsed
	}

	hist, ok := s.service.History(sessionID, limit)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"sessionId":     hist.SessionID,
		"messages":      hist.Messages,
		"totalMessages": hist.TotalMessages,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if res := s.validator.SessionID(sessionID); !res.Valid {
		s.writeError(w, http.StatusBadRequest, "Invalid session id", res.Errors)
		return
	}

	if !s.service.ClearSession(sessionID) {
		s.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session cleared",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, s.limiters.Health, "health", s.clientIP(r)) {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.service.Stats()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"uptime":    time.Since(s.startTime).Seconds(),
		"memory": map[string]interface{}{
			"allocBytes": mem.Alloc,
			"sysBytes":   mem.Sys,
			"numGC":      mem.NumGC,
		},
		"llmAvailable": s.service.Provider() != "",
		"sessions":     stats.Sessions,
		"messages":     stats.Messages,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, s.limiters.Admin, "admin", s.clientIP(r)) {
		return
	}

	stats := s.service.Stats()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": stats.Sessions,
		"messages": stats.Messages,
		"uptime":   time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, details []string) {
	body := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	s.writeJSON(w, status, body)
}

func (s *Server) observeRequest(transport string, start time.Time, success bool) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	s.metrics.ChatRequestsTotal.WithLabelValues(transport, status).Inc()
	s.metrics.ChatRequestDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
}

// clientIP extracts the client IP from the request.
func (s *Server) clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
