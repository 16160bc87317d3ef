// Package store keeps chat sessions and their messages in process memory.
//
// Invariants:
// - A message is immutable after creation and belongs to exactly one session.
// - The store is the only component that mutates sessions or messages.
// - Deleting a session removes all of its messages atomically.
//
// Usage:
//
//	st := store.New()
//	st.CreateOrUpdateSession("session-1", nil)
//	msg, _ := st.AppendMessage("session-1", store.RoleUser, "hello", nil)
//	_ = msg
package store
