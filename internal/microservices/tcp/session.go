package tcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"commlink/internal/metrics"
	"commlink/internal/protocol"
)

// SessionState is the lifecycle of a PeerSession.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerSession is the read loop for one Connection: it pulls frames, feeds the
// dispatcher and tears the connection down exactly once.
type PeerSession struct {
	id         int64
	conn       *Connection
	dispatcher *Dispatcher
	onClose    func(id int64)
	logger     *slog.Logger
	metrics    *metrics.Metrics

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// NewPeerSession wires a loop for conn. onClose runs once during teardown,
// after the connection is closed; the coordinator uses it to unregister the
// session and tell the operator.
func NewPeerSession(id int64, conn *Connection, dispatcher *Dispatcher, onClose func(id int64), logger *slog.Logger, m *metrics.Metrics) *PeerSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerSession{
		id:         id,
		conn:       conn,
		dispatcher: dispatcher,
		onClose:    onClose,
		logger:     logger.With("client_id", id),
		metrics:    m,
		done:       make(chan struct{}),
	}
}

func (s *PeerSession) ID() int64 { return s.id }

func (s *PeerSession) State() SessionState {
	return SessionState(s.state.Load())
}

// Done is closed once the session reaches StateClosed.
func (s *PeerSession) Done() <-chan struct{} {
	return s.done
}

// Run blocks until the session ends: the peer disconnects, the stream breaks,
// an exit message is processed, or ctx is cancelled. Cancelling ctx closes the
// socket so a blocked Receive returns straight away.
func (s *PeerSession) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()
	defer s.teardown()

	for ctx.Err() == nil {
		msg, err := s.conn.Receive()
		if err != nil {
			if !s.handleReceiveError(err) {
				return
			}
			continue
		}

		s.metrics.FrameReceived(string(msg.Type))
		s.dispatcher.Dispatch(s.id, msg)

		// exit always ends the session, whatever its handler did
		if msg.IsExit() {
			s.logger.Info("session_exit_received")
			return
		}
	}
}

// handleReceiveError logs err and reports whether the loop may continue.
func (s *PeerSession) handleReceiveError(err error) bool {
	switch {
	case errors.Is(err, protocol.ErrConnectionClosed):
		s.logger.Info("client_disconnected")
	case errors.Is(err, protocol.ErrMalformedPayload):
		s.metrics.ProtocolError("malformed")
		s.logger.Warn("malformed_frame_discarded", "error", err.Error())
		return true
	case errors.Is(err, protocol.ErrTruncatedFrame):
		s.metrics.ProtocolError("truncated")
		s.logger.Warn("truncated_frame", "error", err.Error())
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.metrics.ProtocolError("too_large")
		s.logger.Warn("frame_too_large", "error", err.Error())
	default:
		s.metrics.ProtocolError("transport")
		s.logger.Error("client_read_error", "error", err.Error())
	}
	return false
}

// teardown moves the session through Closing to Closed. It runs at most once.
func (s *PeerSession) teardown() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s.id)
		}
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}
