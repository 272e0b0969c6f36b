package session

import "errors"

var (
	// ErrSessionLimit is returned when a new session would exceed a
	// configured concurrency limit.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrSessionNotFound is returned when no session exists for the
	// requested identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosing is returned when audio is submitted to a session
	// that is closing or already closed.
	ErrSessionClosing = errors.New("session is closing")
)
