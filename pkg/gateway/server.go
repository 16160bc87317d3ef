package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/arkan/chatrelay/internal/metrics"
	"github.com/arkan/chatrelay/pkg/chat"
	"github.com/arkan/chatrelay/pkg/ratelimit"
	"github.com/arkan/chatrelay/pkg/validate"
)

// Server is the realtime transport. It speaks a small event protocol over
// websocket connections and drives the same conversation service as the REST
// API. It does not own a listener; Handler is mounted on the HTTP server.
type Server struct {
	service        *chat.Service
	validator      *validate.Validator
	limiter        *ratelimit.Limiter
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds gateway configuration.
type Config struct {
	AllowedOrigin string
	Service       *chat.Service
	Validator     *validate.Validator
	Limiter       *ratelimit.Limiter
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

// NewServer creates a gateway. Metrics may be nil.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}

	return &Server{
		service:   cfg.Service,
		validator: cfg.Validator,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		clients:   NewClientRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.AllowedOrigin
			},
		},
	}, nil
}

// Handler returns the websocket upgrade handler.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWebSocket
}

// Stop notifies connected clients and closes their connections.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("clients", s.clients.Count()).Msg("Shutting down gateway")

	for _, client := range s.clients.GetAll() {
		_ = client.Send(EventShutdown, map[string]interface{}{
			"message": "Server is shutting down",
		})
		client.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Gateway shutdown timeout reached")
	}

	return nil
}

// ConnectedClients returns information about current connections.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}

	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := client.Send(EventConnected, map[string]interface{}{
		"clientId": clientID,
	}); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send welcome")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, raw)
	}
}

func (s *Server) handleMessage(client *Client, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(client, ErrTypeBadRequest, "Invalid message format", nil)
		return
	}

	// Pings stay outside the rate limit so idle clients can keep the
	// connection alive.
	if msg.Event == EventPing {
		_ = client.Send(EventPong, nil)
		return
	}

	allowed, retryAfter := s.limiter.Allow(client.ID)
	if !allowed {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.WithLabelValues("realtime").Inc()
		}
		s.sendError(client, ErrTypeRateLimit, "Too many requests", map[string]interface{}{
			"retryAfter": int(retryAfter.Seconds()) + 1,
		})
		return
	}

	switch msg.Event {
	case EventUserMessage:
		s.handleUserMessage(client, msg.Data)
	case EventJoinSession:
		s.handleJoinSession(client, msg.Data)
	case EventLeaveSession:
		s.handleLeaveSession(client)
	case EventGetHistory:
		s.handleGetHistory(client, msg.Data)
	case EventClearSession:
		s.handleClearSession(client, msg.Data)
	default:
		s.sendError(client, ErrTypeBadRequest, fmt.Sprintf("Unknown event: %s", msg.Event), nil)
	}
}

func (s *Server) handleUserMessage(client *Client, data json.RawMessage) {
	var payload UserMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(client, ErrTypeBadRequest, "Invalid user-message payload", nil)
		return
	}

	var opts validate.ChatOptions
	if len(payload.Options) > 0 {
		if err := json.Unmarshal(payload.Options, &opts); err != nil {
			s.sendError(client, ErrTypeBadRequest, "Invalid options payload", nil)
			return
		}
	}

	_ = client.Send(EventMessageProcessing, map[string]interface{}{
		"sessionId": payload.SessionID,
	})

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()

		start := time.Now()
		result, err := s.service.SendMessage(context.Background(), payload.SessionID, payload.Message, opts)
		s.observeRequest(start, err == nil && result.Success)

		if err != nil {
			if ve, ok := chat.AsValidationError(err); ok {
				s.sendError(client, ErrTypeValidation, "Validation failed", map[string]interface{}{
					"details": ve.Details,
				})
				return
			}

			s.logger.Error().Err(err).Str("sessionId", payload.SessionID).Msg("Realtime chat request failed")
			s.sendError(client, ErrTypeServer, "Internal server error", nil)
			return
		}

		s.deliverReply(client, result)
	}()
}

// deliverReply sends the reply to the submitting client and to every other
// client joined to the same session.
func (s *Server) deliverReply(sender *Client, result chat.Result) {
	for _, client := range s.clients.InSession(result.SessionID) {
		if client.ID == sender.ID {
			continue
		}
		if err := client.Send(EventBotReply, result); err != nil {
			s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to fan out reply")
		}
	}

	if err := sender.Send(EventBotReply, result); err != nil {
		s.logger.Error().Err(err).Str("clientId", sender.ID).Msg("Failed to send reply")
	}
}

func (s *Server) handleJoinSession(client *Client, data json.RawMessage) {
	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(client, ErrTypeBadRequest, "Invalid join-session payload", nil)
		return
	}

	if res := s.validator.SessionID(payload.SessionID); !res.Valid {
		s.sendError(client, ErrTypeValidation, "Invalid session id", map[string]interface{}{
			"details": res.Errors,
		})
		return
	}

	s.clients.SetJoinedSession(client.ID, payload.SessionID)

	s.logger.Debug().
		Str("clientId", client.ID).
		Str("sessionId", payload.SessionID).
		Msg("Client joined session")

	_ = client.Send(EventSessionJoined, map[string]interface{}{
		"sessionId": payload.SessionID,
	})
}

func (s *Server) handleLeaveSession(client *Client) {
	left := s.clients.SetJoinedSession(client.ID, "")

	_ = client.Send(EventSessionLeft, map[string]interface{}{
		"sessionId": left,
	})
}

func (s *Server) handleGetHistory(client *Client, data json.RawMessage) {
	var payload HistoryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(client, ErrTypeBadRequest, "Invalid get-history payload", nil)
		return
	}

	if payload.Limit <= 0 {
		payload.Limit = defaultHistoryLimit
	}
	if payload.Limit > maxHistoryLimit {
		payload.Limit = maxHistoryLimit
	}

	hist, ok := s.service.History(payload.SessionID, payload.Limit)
	if !ok {
		s.sendError(client, ErrTypeNotFound, "Session not found", map[string]interface{}{
			"sessionId": payload.SessionID,
		})
		return
	}

	_ = client.Send(EventHistory, hist)
}

func (s *Server) handleClearSession(client *Client, data json.RawMessage) {
	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(client, ErrTypeBadRequest, "Invalid clear-session payload", nil)
		return
	}

	if !s.service.ClearSession(payload.SessionID) {
		s.sendError(client, ErrTypeNotFound, "Session not found", map[string]interface{}{
			"sessionId": payload.SessionID,
		})
		return
	}

	_ = client.Send(EventSessionCleared, map[string]interface{}{
		"sessionId": payload.SessionID,
	})
}

func (s *Server) sendError(client *Client, errType, message string, extra map[string]interface{}) {
	data := map[string]interface{}{
		"type":    errType,
		"message": message,
	}
	for k, v := range extra {
		data[k] = v
	}

	if err := client.Send(EventError, data); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send error event")
	}
}

func (s *Server) observeRequest(start time.Time, success bool) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	s.metrics.ChatRequestsTotal.WithLabelValues("realtime", status).Inc()
	s.metrics.ChatRequestDuration.WithLabelValues("realtime").Observe(time.Since(start).Seconds())
}
