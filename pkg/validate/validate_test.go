package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_SessionID(t *testing.T) {
	v := New(0, nil)

	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"simple", "session-1", true},
		{"underscores", "user_42_chat", true},
		{"single char", "a", true},
		{"max length", strings.Repeat("x", 100), true},
		{"mixed", "Ab3-_Z", true},
		{"empty", "", false},
		{"too long", strings.Repeat("x", 101), false},
		{"space", "session 1", false},
		{"slash", "session/1", false},
		{"dot", "session.1", false},
		{"unicode", "sesión", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.SessionID(tt.id)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.valid {
				// Valid ids pass through unchanged
				assert.Equal(t, tt.id, res.Sanitized)
				assert.Empty(t, res.Errors)
			} else {
				assert.NotEmpty(t, res.Errors)
			}
		})
	}
}

func TestValidator_Message(t *testing.T) {
	v := New(10, nil)

	t.Run("empty", func(t *testing.T) {
		res := v.Message("")
		assert.False(t, res.Valid)
		assert.NotEmpty(t, res.Errors)
	})

	t.Run("blank after trim", func(t *testing.T) {
		res := v.Message("   ")
		assert.False(t, res.Valid)
	})

	t.Run("over max length", func(t *testing.T) {
		res := v.Message(strings.Repeat("a", 11))
		assert.False(t, res.Valid)
	})

	t.Run("exactly max length", func(t *testing.T) {
		res := v.Message(strings.Repeat("a", 10))
		assert.True(t, res.Valid)
	})

	t.Run("trims whitespace", func(t *testing.T) {
		res := v.Message("  hello  ")
		assert.True(t, res.Valid)
		assert.Equal(t, "hello", res.Sanitized)
	})
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"ampersand", "a & b", "a &amp; b"},
		{"angle brackets", "<b>hi</b>", "&lt;b&gt;hi&lt;&#x2F;b&gt;"},
		{"quotes", `say "hi" and 'bye'`, "say &quot;hi&quot; and &#x27;bye&#x27;"},
		{"slash", "a/b", "a&#x2F;b"},
		{"control chars stripped", "a\x00b\x07c", "abc"},
		{"newline kept", "a\nb", "a\nb"},
		{"tab kept", "a\tb", "a\tb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_IdempotentOnSafeText(t *testing.T) {
	// For input without any of & < > " ' / the sanitizer is idempotent.
	inputs := []string{"hello world", "multi\nline", "numbers 123", "dashes - and _ underscores"}

	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once))
	}
}

func TestValidator_Options(t *testing.T) {
	v := New(0, []string{"gpt-4o", "gpt-4o-mini"})

	f := func(x float64) *float64 { return &x }
	n := func(x int) *int { return &x }

	t.Run("whitelisted model kept", func(t *testing.T) {
		out := v.Options(ChatOptions{Model: "gpt-4o"})
		assert.Equal(t, "gpt-4o", out.Model)
	})

	t.Run("unknown model dropped", func(t *testing.T) {
		out := v.Options(ChatOptions{Model: "unknown-model"})
		assert.Empty(t, out.Model)
	})

	t.Run("temperature clamped", func(t *testing.T) {
		out := v.Options(ChatOptions{Temperature: f(3.5)})
		assert.Equal(t, 2.0, *out.Temperature)

		out = v.Options(ChatOptions{Temperature: f(-1)})
		assert.Equal(t, 0.0, *out.Temperature)

		out = v.Options(ChatOptions{Temperature: f(0.7)})
		assert.Equal(t, 0.7, *out.Temperature)
	})

	t.Run("token limit clamped", func(t *testing.T) {
		out := v.Options(ChatOptions{MaxTokens: n(9000)})
		assert.Equal(t, 4000, *out.MaxTokens)

		out = v.Options(ChatOptions{MaxTokens: n(100)})
		assert.Equal(t, 100, *out.MaxTokens)
	})

	t.Run("non-positive token limit dropped", func(t *testing.T) {
		out := v.Options(ChatOptions{MaxTokens: n(0)})
		assert.Nil(t, out.MaxTokens)

		out = v.Options(ChatOptions{MaxTokens: n(-5)})
		assert.Nil(t, out.MaxTokens)
	})

	t.Run("absent fields stay absent", func(t *testing.T) {
		out := v.Options(ChatOptions{})
		assert.Empty(t, out.Model)
		assert.Nil(t, out.Temperature)
		assert.Nil(t, out.MaxTokens)
	})
}

func TestSuspicious(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<script>alert(1)</script>", true},
		{"<SCRIPT src=x>", true},
		{"javascript:alert(1)", true},
		{"vbscript:msgbox", true},
		{`<img onerror=alert(1)>`, true},
		{"eval(payload)", true},
		{"data:text/html,<h1>x</h1>", true},
		{"hello world", false},
		{"the evaluation went well", false},
		{"on time = good", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Suspicious(tt.in), "input %q", tt.in)
	}
}
