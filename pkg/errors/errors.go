// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the idle-reset proxy.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrBackendUnavailable indicates the backend could not be dialed.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConnectionClosed indicates the connection pair is already closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrIdleTimeout indicates the pair was reset by the idle watchdog.
	ErrIdleTimeout = errors.New("idle timeout exceeded")

	// ErrRateLimited indicates the inbound connection was rejected by the
	// accept rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidPhase indicates an illegal connection pair phase transition.
	ErrInvalidPhase = errors.New("invalid phase transition")
)

// SessionError wraps an error with connection pair context.
type SessionError struct {
	Op         string // Operation that failed
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError.
func New(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
