package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkan/chatrelay/internal/metrics"
	"github.com/arkan/chatrelay/pkg/llm"
	"github.com/arkan/chatrelay/pkg/store"
	"github.com/arkan/chatrelay/pkg/validate"
)

const (
	// DefaultContextWindow is the number of stored messages sent upstream as
	// conversational context.
	DefaultContextWindow = 10

	// DefaultApology is persisted as the assistant turn when the upstream
	// call fails; the original error never reaches the caller.
	DefaultApology = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."
)

// Options holds the service-level generation defaults. Request-supplied
// options override these; these override nothing further since they are the
// final fallback resolved from configuration.
type Options struct {
	SystemPrompt  string
	Model         string
	Temperature   float64
	MaxTokens     int
	ContextWindow int
	Apology       string
}

// Result is the outcome of a chat submission.
type Result struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Error holds the original upstream error text. It is kept out of
	// serialized responses; callers only ever see the apology message.
	Error string `json:"-"`
}

// MessageView is the caller-facing shape of a stored message.
type MessageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResult is the outcome of a history lookup.
type HistoryResult struct {
	SessionID     string        `json:"sessionId"`
	Messages      []MessageView `json:"messages"`
	TotalMessages int           `json:"totalMessages"`
}

// Service orchestrates a chat turn: validate, persist the user message,
// assemble the context window, call the upstream provider and persist the
// reply. All collaborators are injected; the service holds no global state.
type Service struct {
	store     *store.Store
	validator *validate.Validator
	provider  llm.Provider
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	opts      Options
}

// NewService creates a conversation service. metrics may be nil.
func NewService(st *store.Store, v *validate.Validator, provider llm.Provider, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}
	if opts.Apology == "" {
		opts.Apology = DefaultApology
	}

	return &Service{
		store:     st,
		validator: v,
		provider:  provider,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// SendMessage processes one chat submission. Validation failures return a
// *ValidationError without touching the store. Upstream failures are
// recovered: the apology text is persisted as the assistant turn (tagged with
// error metadata) and returned in a well-formed failure result with a nil
// error.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string, rawOpts validate.ChatOptions) (Result, error) {
	var details []string

	idRes := s.validator.SessionID(sessionID)
	if !idRes.Valid {
		details = append(details, idRes.Errors...)
	}

	msgRes := s.validator.Message(text)
	if !msgRes.Valid {
		details = append(details, msgRes.Errors...)
	}

	if len(details) > 0 {
		s.logger.Warn().
			Str("sessionId", sessionID).
			Strs("details", details).
			Msg("Chat submission rejected")
		return Result{SessionID: sessionID}, &ValidationError{Details: details}
	}

	if validate.Suspicious(text) {
		s.logger.Warn().
			Str("sessionId", sessionID).
			Msg("Suspicious content in message")
	}

	s.store.CreateOrUpdateSession(sessionID, nil)

	if _, err := s.store.AppendMessage(sessionID, store.RoleUser, msgRes.Sanitized, nil); err != nil {
		return Result{SessionID: sessionID}, err
	}
	s.updateStoreGauges()

	req := s.buildRequest(sessionID, rawOpts)

	start := time.Now()
	resp, err := s.provider.Complete(ctx, req)
	s.observeLLMCall(time.Since(start), err)

	if err != nil {
		return s.recoverUpstreamFailure(sessionID, err)
	}

	assistantMsg, err := s.store.AppendMessage(sessionID, store.RoleAssistant, resp.Content, nil)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}
	s.updateStoreGauges()

	s.logger.Info().
		Str("sessionId", sessionID).
		Str("messageId", assistantMsg.ID).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Msg("Chat turn completed")

	return Result{
		Success:   true,
		Message:   resp.Content,
		SessionID: sessionID,
		MessageID: assistantMsg.ID,
		Timestamp: assistantMsg.Timestamp,
	}, nil
}

// buildRequest assembles the upstream request: the fixed system prompt plus
// the most recent ContextWindow stored messages in original order, reduced to
// role and content.
func (s *Service) buildRequest(sessionID string, rawOpts validate.ChatOptions) llm.Request {
	opts := s.validator.Options(rawOpts)

	model := s.opts.Model
	if opts.Model != "" {
		model = opts.Model
	}
	temperature := s.opts.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := s.opts.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	history := s.store.Messages(sessionID, s.opts.ContextWindow)
	messages := make([]llm.ChatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return llm.Request{
		Model:        model,
		Messages:     messages,
		SystemPrompt: s.opts.SystemPrompt,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}
}

// recoverUpstreamFailure persists the apology as the assistant turn, tagging
// it with the original error so the failure stays diagnosable from history.
func (s *Service) recoverUpstreamFailure(sessionID string, cause error) (Result, error) {
	s.logger.Error().
		Err(cause).
		Str("sessionId", sessionID).
		Msg("Upstream LLM call failed")

	metadata := map[string]interface{}{
		"error":       true,
		"errorDetail": cause.Error(),
	}

	assistantMsg, err := s.store.AppendMessage(sessionID, store.RoleAssistant, s.opts.Apology, metadata)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}
	s.updateStoreGauges()

	return Result{
		Success:   false,
		Message:   s.opts.Apology,
		SessionID: sessionID,
		MessageID: assistantMsg.ID,
		Timestamp: assistantMsg.Timestamp,
		Error:     cause.Error(),
	}, nil
}

// History returns a session's most recent messages. An unknown session is a
// negative result, not an error.
func (s *Service) History(sessionID string, limit int) (HistoryResult, bool) {
	sess, ok := s.store.Session(sessionID)
	if !ok {
		return HistoryResult{}, false
	}

	msgs := s.store.Messages(sessionID, limit)
	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, MessageView{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	}

	return HistoryResult{
		SessionID:     sessionID,
		Messages:      views,
		TotalMessages: len(sess.Messages),
	}, true
}

// ClearSession deletes a session and reports whether it existed.
func (s *Service) ClearSession(sessionID string) bool {
	existed := s.store.DeleteSession(sessionID)
	if existed {
		s.updateStoreGauges()
	}
	return existed
}

// Stats exposes the store counters for the stats and health endpoints.
func (s *Service) Stats() store.Stats {
	return s.store.Stats()
}

// Provider returns the configured upstream provider name.
func (s *Service) Provider() string {
	return s.provider.Name()
}

func (s *Service) updateStoreGauges() {
	stats := s.store.Stats()
	s.metrics.SetStoreSize(stats.Sessions, stats.Messages)
}

func (s *Service) observeLLMCall(elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.LLMCallsTotal.WithLabelValues(s.provider.Name(), status).Inc()
	s.metrics.LLMCallDuration.WithLabelValues(s.provider.Name()).Observe(elapsed.Seconds())
}
