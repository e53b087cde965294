package protocol

import "errors"

var (
	// ErrConnectionClosed means the peer closed the stream cleanly on a
	// frame boundary, or the local side closed the socket.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTruncatedFrame means the stream ended in the middle of a frame.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrFrameTooLarge means the length header exceeds the decoder limit.
	// The stream cannot be resynchronised after this.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedPayload means a complete frame arrived but its payload is
	// not a valid message. The frame is consumed; the stream stays usable.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrEncoding means a message could not be serialised.
	ErrEncoding = errors.New("encoding error")
)

// IsTerminal reports whether err leaves the stream unusable, in which case the
// owning session must be torn down. Malformed payloads are not terminal
// because the whole frame was consumed. Any error outside the protocol
// taxonomy (e.g. a transport failure) is terminal.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMalformedPayload)
}
