package tcp

import "errors"

var (
	// ErrUnknownMessageType is logged, never returned to the session loop.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrHandlerFailure wraps an error returned, or a panic raised, by a handler.
	ErrHandlerFailure = errors.New("handler failure")

	ErrSessionNotFound = errors.New("session not found")

	ErrNotConnected = errors.New("not connected")
)
