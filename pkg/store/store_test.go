package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateOrUpdateSession(t *testing.T) {
	s := New()

	sess := s.CreateOrUpdateSession("test-session", nil)
	require.NotNil(t, sess)
	assert.Equal(t, "test-session", sess.ID)
	assert.Empty(t, sess.Messages)
	assert.NotNil(t, sess.Context)

	first := sess.LastActivity

	// Creating again is idempotent: messages untouched, LastActivity non-decreasing
	again := s.CreateOrUpdateSession("test-session", nil)
	assert.Equal(t, sess.CreatedAt, again.CreatedAt)
	assert.Empty(t, again.Messages)
	assert.False(t, again.LastActivity.Before(first))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Sessions)
}

func TestStore_AppendMessage(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("test-session", nil)

	msg, err := s.AppendMessage("test-session", RoleUser, "hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "test-session", msg.SessionID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())

	sess, ok := s.Session("test-session")
	require.True(t, ok)
	assert.Len(t, sess.Messages, 1)
	assert.Equal(t, msg.Timestamp, sess.LastActivity)
}

func TestStore_AppendMessageUnknownSession(t *testing.T) {
	s := New()

	_, err := s.AppendMessage("missing", RoleUser, "hello", nil)
	assert.Error(t, err)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Messages)
}

func TestStore_MessageIDsUnique(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("test-session", nil)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := s.AppendMessage("test-session", RoleUser, "x", nil)
		require.NoError(t, err)
		assert.False(t, seen[msg.ID], "duplicate message id %s", msg.ID)
		seen[msg.ID] = true
	}
}

func TestStore_MessagesLimit(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("test-session", nil)

	for i := 0; i < 7; i++ {
		_, err := s.AppendMessage("test-session", RoleUser, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
	}

	// Last 3 in original order
	msgs := s.Messages("test-session", 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, "message 4", msgs[0].Content)
	assert.Equal(t, "message 5", msgs[1].Content)
	assert.Equal(t, "message 6", msgs[2].Content)

	// No limit returns all
	all := s.Messages("test-session", 0)
	assert.Len(t, all, 7)

	// Limit larger than stored returns all
	assert.Len(t, s.Messages("test-session", 50), 7)
}

func TestStore_MessagesUnknownSession(t *testing.T) {
	s := New()

	msgs := s.Messages("missing", 10)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestStore_DeleteSession(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("test-session", nil)
	_, err := s.AppendMessage("test-session", RoleUser, "hello", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage("test-session", RoleAssistant, "hi", nil)
	require.NoError(t, err)

	assert.True(t, s.DeleteSession("test-session"))

	_, ok := s.Session("test-session")
	assert.False(t, ok)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Messages)

	// Deleting again has no effect
	assert.False(t, s.DeleteSession("test-session"))
}

func TestStore_Stats(t *testing.T) {
	s := New()

	s.CreateOrUpdateSession("a", nil)
	s.CreateOrUpdateSession("b", nil)

	for i := 0; i < 3; i++ {
		_, err := s.AppendMessage("a", RoleUser, "x", nil)
		require.NoError(t, err)
	}
	_, err := s.AppendMessage("b", RoleUser, "y", nil)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 4, stats.Messages)
}

func TestStore_DeleteIdleSessions(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("old", nil)
	s.CreateOrUpdateSession("fresh", nil)

	// Backdate the old session
	s.mu.Lock()
	s.sessions["old"].LastActivity = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	deleted := s.DeleteIdleSessions(time.Hour)
	assert.Equal(t, 1, deleted)

	_, ok := s.Session("old")
	assert.False(t, ok)
	_, ok = s.Session("fresh")
	assert.True(t, ok)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("concurrent", nil)

	const goroutines = 10
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.AppendMessage("concurrent", RoleUser, "msg", nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Arrival order is the only guarantee; every append must be present exactly once.
	msgs := s.Messages("concurrent", 0)
	assert.Len(t, msgs, goroutines*perGoroutine)

	stats := s.Stats()
	assert.Equal(t, goroutines*perGoroutine, stats.Messages)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("test-session", nil)
	_, err := s.AppendMessage("test-session", RoleUser, "hello", nil)
	require.NoError(t, err)

	sess, ok := s.Session("test-session")
	require.True(t, ok)

	// Mutating the snapshot's slice must not affect the store.
	sess.Messages = sess.Messages[:0]

	again, ok := s.Session("test-session")
	require.True(t, ok)
	assert.Len(t, again.Messages, 1)
}

func TestStore_SnapshotContextIsolation(t *testing.T) {
	s := New()
	s.CreateOrUpdateSession("test-session", map[string]interface{}{"tenant": "a"})

	sess, ok := s.Session("test-session")
	require.True(t, ok)

	// Mutating the snapshot's context map must not affect the store.
	sess.Context["tenant"] = "b"
	sess.Context["extra"] = true

	again, ok := s.Session("test-session")
	require.True(t, ok)
	assert.Equal(t, "a", again.Context["tenant"])
	assert.NotContains(t, again.Context, "extra")
}
