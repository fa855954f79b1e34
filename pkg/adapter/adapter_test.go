package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsQuota(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"429", &AdapterError{Adapter: "openai", Status: http.StatusTooManyRequests, Err: errors.New("slow down")}, true},
		{"quota payload", &AdapterError{Adapter: "google", Status: 403, Err: errors.New("RESOURCE_EXHAUSTED: quota exceeded")}, true},
		{"wrapped 429", fmt.Errorf("call: %w", &AdapterError{Status: 429}), true},
		{"server error", &AdapterError{Status: 503, Err: errors.New("unavailable")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuota(tt.err); got != tt.want {
				t.Errorf("IsQuota() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(&AdapterError{Status: 502}))
	assert.False(t, IsTransient(&AdapterError{Status: 400}))
}

func TestWrapError_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapError("anthropic", cause)

	var ae *AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "anthropic", ae.Adapter)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, wrapError("anthropic", nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapError_MarksTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, true},
		{"connection reset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"truncated body", io.ErrUnexpectedEOF, true},
		{"bad request", errors.New("invalid model"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ae *AdapterError
			require.True(t, errors.As(wrapError("openai", tt.err), &ae))
			assert.Equal(t, tt.want, ae.Temporary)
			assert.Equal(t, tt.want, IsTransient(ae))
		})
	}
}

func TestMockAdapter(t *testing.T) {
	mock := NewMockAdapterWithResponses(map[string]string{
		"hello": `{"answer": "hi there", "confidence": 0.9}`,
	}, "")
	mock.Usage = &Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}

	resp, err := mock.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "earlier"},
			{Role: RoleAssistant, Content: "reply"},
			{Role: RoleUser, Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"answer": "hi there", "confidence": 0.9}`, resp.Content)
	assert.Equal(t, "mock-1", resp.Model)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	resp, err = mock.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "other"}}})
	require.NoError(t, err)
	assert.Equal(t, mockDefaultResponse, resp.Content)
	assert.Len(t, mock.Calls(), 2)

	mock.Err = errors.New("down")
	_, err = mock.Generate(context.Background(), Request{})
	assert.EqualError(t, err, "down")
}

func TestNew(t *testing.T) {
	a, err := New("mock", Options{})
	require.NoError(t, err)
	assert.Equal(t, "mock", a.Name())

	a, err = New("openrouter", Options{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", a.Name())

	_, err = New("openai", Options{})
	assert.Error(t, err)

	_, err = New("carrier-pigeon", Options{})
	assert.Error(t, err)
}
