package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound event names.
const (
	EventUserMessage  = "user-message"
	EventJoinSession  = "join-session"
	EventLeaveSession = "leave-session"
	EventGetHistory   = "get-history"
	EventClearSession = "clear-session"
	EventPing         = "ping"
)

// Outbound event names.
const (
	EventConnected         = "connected"
	EventMessageProcessing = "message-processing"
	EventBotReply          = "bot-reply"
	EventError             = "error"
	EventSessionJoined     = "session-joined"
	EventSessionLeft       = "session-left"
	EventHistory           = "history-response"
	EventSessionCleared    = "session-cleared"
	EventPong              = "pong"
	EventShutdown          = "server-shutdown"
)

// History request bounds, matching the REST surface.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Error event types.
const (
	ErrTypeBadRequest = "bad_request"
	ErrTypeValidation = "validation_error"
	ErrTypeRateLimit  = "rate_limit"
	ErrTypeNotFound   = "not_found"
	ErrTypeServer     = "server_error"
)

// InboundMessage is the envelope clients send. The data payload is decoded
// per event.
type InboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundMessage is the envelope the gateway sends.
type OutboundMessage struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// UserMessagePayload carries a chat submission over the socket.
type UserMessagePayload struct {
	SessionID string          `json:"sessionId"`
	Message   string          `json:"message"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// SessionPayload carries a bare session reference.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// HistoryPayload carries a history request.
type HistoryPayload struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
}

// Client is one websocket connection. LastActivity and JoinedSession are
// mutated only through the owning registry, under its lock.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	JoinedSession string

	writeMu sync.Mutex
}

// Send writes one outbound event. gorilla/websocket allows a single
// concurrent writer, so all writes go through the client's mutex.
func (c *Client) Send(event string, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.Conn.WriteJSON(OutboundMessage{
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// ClientInfo is the registry's caller-facing view of a connection.
type ClientInfo struct {
	ID            string    `json:"id"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	JoinedSession string    `json:"joinedSession,omitempty"`
}
