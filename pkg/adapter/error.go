package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// AdapterError wraps provider errors with status metadata.
type AdapterError struct {
	Adapter   string
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Adapter, e.Err)
	}
	return fmt.Sprintf("%s: adapter error (status=%d)", e.Adapter, e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapError attaches the provider's HTTP status to err.
func wrapError(adapterName string, err error) error {
	if err == nil {
		return nil
	}
	ae := &AdapterError{Adapter: adapterName, Err: err}

	var oaErr *openai.Error
	var anErr *anthropic.Error
	var gErr genai.APIError
	switch {
	case errors.As(err, &oaErr):
		ae.Status = oaErr.StatusCode
	case errors.As(err, &anErr):
		ae.Status = anErr.StatusCode
	case errors.As(err, &gErr):
		ae.Status = gErr.Code
	}
	ae.Temporary = temporaryStatus(ae.Status) || temporaryTransport(err)
	return ae
}

func temporaryStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// temporaryTransport reports connection-level failures that a retry may clear.
func temporaryTransport(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF)
}

// IsQuota reports whether err is a provider rate-limit or quota rejection.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Status == http.StatusTooManyRequests {
			return true
		}
		if adapterErr.Err != nil {
			msg := strings.ToLower(adapterErr.Err.Error())
			return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
		}
	}
	return false
}

// IsTransient reports whether an error is likely to clear on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Temporary || temporaryStatus(adapterErr.Status)
	}
	return temporaryTransport(err)
}
