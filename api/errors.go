// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-state.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrValueTooLarge    = errors.New("value exceeds column width")
	ErrKeyTooLong       = errors.New("key too long")
	ErrUnknownColumn    = errors.New("unknown column")
	ErrLayoutMismatch   = errors.New("segment layout mismatch")
	ErrNoTask           = errors.New("context carries no task")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrNotFound         = errors.New("resource not found")
	ErrClosed           = errors.New("resource is closed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeCapacityExceeded
	ErrCodeNotSupported
	ErrCodeNotFound
	ErrCodeInternal
)

// sentinel maps a code to the package-level error it is matched against.
func (c ErrorCode) sentinel() error {
	switch c {
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case ErrCodeCapacityExceeded:
		return ErrCapacityExceeded
	case ErrCodeNotSupported:
		return ErrNotSupported
	case ErrCodeNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is lets errors.Is match a structured error against the sentinel of its code.
func (e *Error) Is(target error) bool {
	s := e.Code.sentinel()
	return s != nil && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AuthError is returned by an Authenticator to reject a connection.
// Code and Message are forwarded to the peer in the close frame.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %d %s", e.Code, e.Message)
}

// NewAuthError builds a rejection with the given close code and reason.
func NewAuthError(code int, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}
