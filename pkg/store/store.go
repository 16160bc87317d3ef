package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single conversation turn. Messages are immutable after
// creation and belong to exactly one session.
type Message struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is a logical conversation identified by a caller-supplied key.
type Session struct {
	ID           string                 `json:"sessionId"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastActivity time.Time              `json:"lastActivity"`
	Messages     []*Message             `json:"messages"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// Stats holds aggregate store counters.
type Stats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// Store keeps all sessions and messages in memory. It is the single writer and
// sole authority for both collections; nothing mutates a session or message
// except through its methods. All state is lost on process restart.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	messageCount int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// CreateOrUpdateSession creates a session if absent, otherwise refreshes its
// LastActivity. It never fails for a well-formed id; the id is assumed to be
// validated by the caller.
func (s *Store) CreateOrUpdateSession(sessionID string, context map[string]interface{}) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if sess, exists := s.sessions[sessionID]; exists {
		sess.LastActivity = now
		return snapshot(sess)
	}

	sess := &Session{
		ID:           sessionID,
		CreatedAt:    now,
		LastActivity: now,
		Messages:     []*Message{},
		Context:      context,
	}
	if sess.Context == nil {
		sess.Context = make(map[string]interface{})
	}
	s.sessions[sessionID] = sess

	log.Debug().Str("sessionId", sessionID).Msg("Session created")

	return snapshot(sess)
}

// AppendMessage appends a message to an existing session. The session must
// have been created first; conversation flow always runs CreateOrUpdateSession
// before the first append.
func (s *Store) AppendMessage(sessionID, role, content string, metadata map[string]interface{}) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %q does not exist", sessionID)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	sess.Messages = append(sess.Messages, msg)
	sess.LastActivity = msg.Timestamp
	s.messageCount++

	log.Debug().
		Str("sessionId", sessionID).
		Str("messageId", msg.ID).
		Str("role", role).
		Msg("Message appended")

	return msg, nil
}

// Messages returns the most recent limit messages of a session in original
// order. A limit <= 0 returns all messages. An unknown session yields an empty
// slice, not an error.
func (s *Store) Messages(sessionID string, limit int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return []*Message{}
	}

	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]*Message, len(msgs))
	copy(out, msgs)
	return out
}

// Session returns a snapshot of a session, or false if it does not exist.
func (s *Store) Session(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return snapshot(sess), true
}

// DeleteSession removes a session and all its messages atomically. It reports
// whether a session existed; deleting an unknown session has no side effect.
func (s *Store) DeleteSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return false
	}

	s.messageCount -= len(sess.Messages)
	delete(s.sessions, sessionID)

	log.Debug().
		Str("sessionId", sessionID).
		Int("messages", len(sess.Messages)).
		Msg("Session deleted")

	return true
}

// DeleteIdleSessions removes every session whose LastActivity is older than
// maxIdle and returns the number of sessions removed.
func (s *Store) DeleteIdleSessions(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	deleted := 0

	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			s.messageCount -= len(sess.Messages)
			delete(s.sessions, id)
			deleted++
		}
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Idle sessions removed")
	}

	return deleted
}

// Stats returns aggregate session and message counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Sessions: len(s.sessions),
		Messages: s.messageCount,
	}
}

// snapshot copies the session struct, its message slice header and its
// context map. Messages themselves are immutable, so sharing the pointers is
// safe; the context map is mutable and must not leak store-owned state.
func snapshot(sess *Session) *Session {
	msgs := make([]*Message, len(sess.Messages))
	copy(msgs, sess.Messages)

	ctx := make(map[string]interface{}, len(sess.Context))
	for k, v := range sess.Context {
		ctx[k] = v
	}

	return &Session{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Messages:     msgs,
		Context:      ctx,
	}
}
