package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkan/chatrelay/pkg/llm"
	"github.com/arkan/chatrelay/pkg/store"
	"github.com/arkan/chatrelay/pkg/validate"
)

// stubProvider records requests and returns a canned reply or error.
type stubProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.Request
}

func (p *stubProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.reply}, nil
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

func newTestService(provider llm.Provider) (*Service, *store.Store) {
	st := store.New()
	v := validate.New(4000, []string{"gpt-4o", "gpt-4o-mini"})
	svc := NewService(st, v, provider, Options{
		SystemPrompt: "You are a test assistant.",
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		MaxTokens:    500,
	}, nil, zerolog.Nop())
	return svc, st
}

func TestService_SendMessageSuccess(t *testing.T) {
	provider := &stubProvider{reply: "hi there"}
	svc, st := newTestService(provider)

	res, err := svc.SendMessage(context.Background(), "s1", "hello", validate.ChatOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "hi there", res.Message)
	assert.Equal(t, "s1", res.SessionID)
	assert.NotEmpty(t, res.MessageID)
	assert.False(t, res.Timestamp.IsZero())

	// Store now holds the user turn then the assistant turn
	msgs := st.Messages("s1", 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestService_SendMessageUpstreamFailure(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("connection refused")}
	svc, st := newTestService(provider)

	res, err := svc.SendMessage(context.Background(), "s1", "hello", validate.ChatOptions{})
	require.NoError(t, err, "upstream failure must be recovered, not returned")

	assert.False(t, res.Success)
	assert.Equal(t, DefaultApology, res.Message)
	assert.Equal(t, "connection refused", res.Error)

	// The apology is persisted as the assistant turn with error metadata
	msgs := st.Messages("s1", 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, DefaultApology, msgs[1].Content)
	assert.Equal(t, true, msgs[1].Metadata["error"])
	assert.Equal(t, "connection refused", msgs[1].Metadata["errorDetail"])
}

func TestService_SendMessageValidationFailure(t *testing.T) {
	provider := &stubProvider{reply: "never"}
	svc, st := newTestService(provider)

	tests := []struct {
		name      string
		sessionID string
		message   string
	}{
		{"bad session id", "bad id!", "hello"},
		{"empty message", "s1", ""},
		{"blank message", "s1", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(context.Background(), tt.sessionID, tt.message, validate.ChatOptions{})
			require.Error(t, err)

			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.NotEmpty(t, ve.Details)
		})
	}

	// Validation failures never touch the store
	stats := st.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Messages)
	assert.Empty(t, provider.requests)
}

func TestService_ContextWindow(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, _ := newTestService(provider)

	// 14 turns: each submission stores a user and an assistant message
	for i := 0; i < 7; i++ {
		_, err := svc.SendMessage(context.Background(), "s1", fmt.Sprintf("message %d", i), validate.ChatOptions{})
		require.NoError(t, err)
	}

	req := provider.lastRequest(t)

	// The system prompt rides separately; the history slice is capped at the
	// window size and ends with the newest user message.
	assert.Equal(t, "You are a test assistant.", req.SystemPrompt)
	assert.Len(t, req.Messages, DefaultContextWindow)
	assert.Equal(t, "message 6", req.Messages[len(req.Messages)-1].Content)
	assert.Equal(t, "user", req.Messages[len(req.Messages)-1].Role)

	// Oldest-to-newest order within the window
	assert.Equal(t, "assistant", req.Messages[0].Role)
}

func TestService_ContextWindowShortHistory(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, _ := newTestService(provider)

	_, err := svc.SendMessage(context.Background(), "s1", "first", validate.ChatOptions{})
	require.NoError(t, err)

	req := provider.lastRequest(t)
	// Only the just-appended user message is in the window
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "first", req.Messages[0].Content)
}

func TestService_OptionResolution(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, _ := newTestService(provider)

	temp := 1.5
	tokens := 9000 // clamps to 4000
	_, err := svc.SendMessage(context.Background(), "s1", "hello", validate.ChatOptions{
		Model:       "gpt-4o",
		Temperature: &temp,
		MaxTokens:   &tokens,
	})
	require.NoError(t, err)

	req := provider.lastRequest(t)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 1.5, req.Temperature)
	assert.Equal(t, 4000, req.MaxTokens)
}

func TestService_OptionDefaults(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, _ := newTestService(provider)

	// Unknown model is dropped; service defaults apply
	_, err := svc.SendMessage(context.Background(), "s1", "hello", validate.ChatOptions{
		Model: "not-on-the-list",
	})
	require.NoError(t, err)

	req := provider.lastRequest(t)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Equal(t, 500, req.MaxTokens)
}

func TestService_SanitizedContentSentUpstream(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, _ := newTestService(provider)

	_, err := svc.SendMessage(context.Background(), "s1", "<b>hello</b>", validate.ChatOptions{})
	require.NoError(t, err)

	req := provider.lastRequest(t)
	require.Len(t, req.Messages, 1)
	assert.False(t, strings.Contains(req.Messages[0].Content, "<"))
}

func TestService_History(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, _ := newTestService(provider)

	for i := 0; i < 3; i++ {
		_, err := svc.SendMessage(context.Background(), "s1", fmt.Sprintf("m%d", i), validate.ChatOptions{})
		require.NoError(t, err)
	}

	hist, ok := svc.History("s1", 4)
	require.True(t, ok)
	assert.Equal(t, "s1", hist.SessionID)
	assert.Len(t, hist.Messages, 4)
	assert.Equal(t, 6, hist.TotalMessages)

	// Unknown session is a negative result, not an error
	_, ok = svc.History("missing", 10)
	assert.False(t, ok)
}

func TestService_ClearSession(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	svc, st := newTestService(provider)

	_, err := svc.SendMessage(context.Background(), "s1", "hello", validate.ChatOptions{})
	require.NoError(t, err)

	assert.True(t, svc.ClearSession("s1"))
	assert.False(t, svc.ClearSession("s1"))

	stats := st.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Messages)
}
