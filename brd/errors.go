package brd

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured brd error with context and errno mapping.
type Error struct {
	Op    string    // Operation that failed (e.g., "listen", "accept")
	Queue int       // Queue depth at the time of failure (-1 if not applicable)
	Code  ErrorCode // High-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("brd: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("brd: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes brd failures.
type ErrorCode string

const (
	ErrCodeListenFailed   ErrorCode = "listen failed"
	ErrCodeAcceptFailed   ErrorCode = "accept failed"
	ErrCodeInvalidConfig  ErrorCode = "invalid configuration"
	ErrCodeAlreadyRunning ErrorCode = "server already running"
	ErrCodeClosed         ErrorCode = "server closed"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

// WrapError wraps an existing error with brd context, mapping syscall
// errnos the same way the originating accept/listen call would report
// them to an operator.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if be, ok := inner.(*Error); ok {
		return &Error{Op: op, Queue: be.Queue, Code: be.Code, Errno: be.Errno, Msg: be.Msg, Inner: be.Inner}
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{Op: op, Queue: -1, Code: code, Errno: errno, Msg: inner.Error(), Inner: inner}
	}
	return &Error{Op: op, Queue: -1, Code: code, Msg: inner.Error(), Inner: inner}
}
