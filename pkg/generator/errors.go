package generator

import (
	"errors"
	"fmt"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindQuota   Kind = "quota"
	KindParse   Kind = "parse"
	KindBackend Kind = "backend"
)

var (
	ErrTimeout = errors.New("generation timed out")
	ErrQuota   = errors.New("generation quota exceeded")
	ErrParse   = errors.New("malformed generation response")
	ErrBackend = errors.New("generation backend failed")
)

// Error is returned by Client.Generate. errors.Is matches it against the
// sentinel for its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindTimeout:
		return ErrTimeout
	case KindQuota:
		return ErrQuota
	case KindParse:
		return ErrParse
	default:
		return ErrBackend
	}
}

// KindOf returns the failure kind of err, or "" if err is not a generation error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func parseError(format string, args ...any) error {
	return &Error{Kind: KindParse, Err: fmt.Errorf(format, args...)}
}
