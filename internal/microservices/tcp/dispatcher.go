package tcp

import (
	"fmt"
	"log/slog"
	"sync"

	"commlink/internal/metrics"
	"commlink/internal/protocol"
)

// HandlerFunc handles one message type. senderID identifies which session the
// message arrived on (0 on the peer side, where the coordinator is the only
// sender). Handlers keep no dispatcher-owned state.
type HandlerFunc func(senderID int64, content string) error

// Dispatcher routes messages to handlers by type tag.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]HandlerFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[protocol.MessageType]HandlerFunc),
		logger:   logger,
		metrics:  m,
	}
}

// Register installs h for t, replacing any earlier handler for that type.
func (d *Dispatcher) Register(t protocol.MessageType, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Handles reports whether a handler is registered for t.
func (d *Dispatcher) Handles(t protocol.MessageType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[t]
	return ok
}

// Dispatch runs the handler registered for m.Type. It never fails: unknown
// types and handler failures are logged and swallowed so that one bad message
// cannot end the session that carried it. The returned error is only for
// callers that want to observe what happened.
func (d *Dispatcher) Dispatch(senderID int64, m protocol.Message) error {
	d.mu.RLock()
	h, ok := d.handlers[m.Type]
	d.mu.RUnlock()

	if !ok {
		d.metrics.UnknownType()
		d.logger.Warn("unknown_message_type",
			"sender_id", senderID,
			"message_type", string(m.Type),
		)
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}

	if err := d.invoke(h, senderID, m); err != nil {
		d.metrics.HandlerFailure(string(m.Type))
		d.logger.Error("handler_failed",
			"sender_id", senderID,
			"message_type", string(m.Type),
			"error", err.Error(),
		)
		return err
	}
	return nil
}

func (d *Dispatcher) invoke(h HandlerFunc, senderID int64, m protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s handler panicked: %v", ErrHandlerFailure, m.Type, r)
		}
	}()

	if herr := h(senderID, m.Content); herr != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFailure, herr)
	}
	return nil
}
