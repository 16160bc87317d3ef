package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxMessageLength = 4000

	MinTemperature = 0.0
	MaxTemperature = 2.0
	MaxTokenLimit  = 4000
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// suspiciousPatterns match common script-injection payloads. Matches are
// logged for defense in depth; they never block a request.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)data:text/html`),
}

// Result carries the outcome of a validation check.
type Result struct {
	Valid     bool
	Sanitized string
	Errors    []string
}

// ChatOptions are the caller-supplied generation options. Pointer fields
// distinguish absent values from zero values.
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// Validator checks and sanitizes inbound chat input.
type Validator struct {
	maxMessageLen int
	allowedModels map[string]struct{}
}

// New creates a validator. maxMessageLen <= 0 falls back to the default;
// allowedModels is the model identifier whitelist for Options.
func New(maxMessageLen int, allowedModels []string) *Validator {
	if maxMessageLen <= 0 {
		maxMessageLen = DefaultMaxMessageLength
	}

	models := make(map[string]struct{}, len(allowedModels))
	for _, m := range allowedModels {
		models[m] = struct{}{}
	}

	return &Validator{
		maxMessageLen: maxMessageLen,
		allowedModels: models,
	}
}

// SessionID validates a caller-supplied session identifier: 1-100 characters
// from [A-Za-z0-9_-]. Valid ids pass through unchanged.
func (v *Validator) SessionID(raw string) Result {
	if raw == "" {
		return invalid("session id cannot be empty")
	}
	if utf8.RuneCountInString(raw) > 100 {
		return invalid("session id cannot exceed 100 characters")
	}
	if !sessionIDPattern.MatchString(raw) {
		return invalid("session id may only contain letters, digits, hyphens and underscores")
	}

	return Result{Valid: true, Sanitized: raw}
}

// Message validates and sanitizes a chat message: trims whitespace, rejects
// blank or over-long input, strips control characters and HTML-escapes the
// result for safe embedding in HTML and log contexts.
func (v *Validator) Message(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return invalid("message cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > v.maxMessageLen {
		return invalid(fmt.Sprintf("message cannot exceed %d characters", v.maxMessageLen))
	}

	return Result{Valid: true, Sanitized: Sanitize(raw)}
}

// Options drops or clamps invalid generation options. A model outside the
// whitelist is dropped; temperature is clamped to [0,2]; the token limit is
// clamped to (0,4000]. The request as a whole is never rejected here.
func (v *Validator) Options(opts ChatOptions) ChatOptions {
	out := ChatOptions{}

	if opts.Model != "" {
		if _, ok := v.allowedModels[opts.Model]; ok {
			out.Model = opts.Model
		}
	}

	if opts.Temperature != nil {
		temp := *opts.Temperature
		if temp < MinTemperature {
			temp = MinTemperature
		}
		if temp > MaxTemperature {
			temp = MaxTemperature
		}
		out.Temperature = &temp
	}

	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		tokens := *opts.MaxTokens
		if tokens > MaxTokenLimit {
			tokens = MaxTokenLimit
		}
		out.MaxTokens = &tokens
	}

	return out
}

// Sanitize trims the input, strips control characters (keeping newlines and
// tabs) and escapes & < > " ' / in that order.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)

	// Ampersand first so the entities below are not double-escaped.
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&#x27;")
	s = strings.ReplaceAll(s, "/", "&#x2F;")

	return s
}

// Suspicious reports whether the input matches a known script-injection
// pattern. Used for logging only, never for enforcement.
func Suspicious(s string) bool {
	for _, p := range suspiciousPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func invalid(reasons ...string) Result {
	return Result{Valid: false, Errors: reasons}
}
