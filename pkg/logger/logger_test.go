package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(context.Background(), expected)

		actual := FromContext(ctx)

		require.NotNil(t, actual)
		assert.Equal(t, expected, actual)
	})

	t.Run("Should return default logger when context has none", func(t *testing.T) {
		actual := FromContext(context.Background())

		require.NotNil(t, actual)
		assert.Equal(t, Default(), actual)
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), LoggerCtxKey, "not a logger")

		assert.Equal(t, Default(), FromContext(ctx))
	})
}

func TestLoggerOutput(t *testing.T) {
	t.Run("Should write key values through With", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: InfoLevel, Output: &buf, TimeFormat: "15:04:05"})

		l.With("component", "router").Info("routing message", "session_id", "s-1")

		out := buf.String()
		assert.Contains(t, out, "routing message")
		assert.Contains(t, out, "component")
		assert.Contains(t, out, "router")
		assert.Contains(t, out, "s-1")
	})

	t.Run("Should emit JSON when enabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})

		l.Info("hello", "k", "v")

		out := strings.TrimSpace(buf.String())
		assert.True(t, strings.HasPrefix(out, "{") && strings.HasSuffix(out, "}"), out)
	})

	t.Run("Should filter below configured level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: WarnLevel, Output: &buf})

		l.Info("quiet")
		l.Warn("loud")

		assert.NotContains(t, buf.String(), "quiet")
		assert.Contains(t, buf.String(), "loud")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}
