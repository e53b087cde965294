package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// HeaderLength is the size of the frame length prefix: an unsigned 64-bit
// big-endian byte count of the payload that follows.
const HeaderLength = 8

// DefaultMaxPayload bounds the payload a Decoder accepts. Screenshots are the
// largest legitimate frames; 16 MiB of base64 is generous for those.
const DefaultMaxPayload = 16 * 1024 * 1024

// wireMessage mirrors Message with pointer fields so a missing key can be
// told apart from an empty one.
type wireMessage struct {
	Type    *string `json:"type"`
	Content *string `json:"content"`
}

// Encode serialises m into a complete frame: header followed by JSON payload.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("%w: message type is empty", ErrEncoding)
	}
	// encoding/json silently replaces invalid UTF-8, which would make the
	// decoded message differ from the one that was sent.
	if !utf8.ValidString(string(m.Type)) || !utf8.ValidString(m.Content) {
		return nil, fmt.Errorf("%w: %s message is not valid UTF-8", ErrEncoding, m.Type)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	frame := make([]byte, HeaderLength+len(payload))
	binary.BigEndian.PutUint64(frame[:HeaderLength], uint64(len(payload)))
	copy(frame[HeaderLength:], payload)
	return frame, nil
}

// Decoder reads frames off a stream. The zero value uses DefaultMaxPayload.
type Decoder struct {
	MaxPayload uint64
}

// Decode reads exactly one frame from r with default limits.
func Decode(r io.Reader) (Message, error) {
	var d Decoder
	return d.Decode(r)
}

// Decode reads exactly one frame from r. It blocks until the whole frame has
// arrived or the stream ends; a partial frame is never returned.
func (d Decoder) Decode(r io.Reader) (Message, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Message{}, ErrConnectionClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Message{}, fmt.Errorf("%w: short header", ErrTruncatedFrame)
		default:
			return Message{}, fmt.Errorf("read frame header: %w", err)
		}
	}

	length := binary.BigEndian.Uint64(header[:])
	limit := d.MaxPayload
	if limit == 0 {
		limit = DefaultMaxPayload
	}
	if length > limit {
		return Message{}, fmt.Errorf("%w: payload length %d exceeds maximum %d", ErrFrameTooLarge, length, limit)
	}
	if length == 0 {
		return Exit(), nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		// io.ReadFull reports io.EOF when nothing at all was read, but the
		// header already promised a payload, so both cases are truncation.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%w: expected %d payload bytes", ErrTruncatedFrame, length)
		}
		return Message{}, fmt.Errorf("read frame payload: %w", err)
	}

	return ParsePayload(payload)
}

// ParsePayload turns a complete payload into a Message.
func ParsePayload(payload []byte) (Message, error) {
	if !utf8.Valid(payload) {
		return Message{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedPayload)
	}

	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if wire.Type == nil || *wire.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}

	m := Message{Type: MessageType(*wire.Type)}
	if wire.Content != nil {
		m.Content = *wire.Content
	}
	return m, nil
}
