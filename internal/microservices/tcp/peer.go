package tcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"commlink/internal/metrics"
	"commlink/internal/protocol"
)

// coordinatorID is the sender id the peer side uses for everything that
// arrives on its single connection.
const coordinatorID int64 = 0

// CommandBackend runs a command and returns its captured output, or a
// readable error description. It must not block indefinitely.
type CommandBackend interface {
	Execute(ctx context.Context, command string) string
}

// PeerConfig holds the peer's tunables.
type PeerConfig struct {
	ServerAddr   string
	DialTimeout  time.Duration
	MaxFrameSize uint64
	WriteTimeout time.Duration
}

// PeerClient is the remote end of the channel: one connection to the
// coordinator, commands executed through a CommandBackend.
type PeerClient struct {
	cfg        PeerConfig
	backend    CommandBackend
	presenter  Presenter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher *Dispatcher

	mu      sync.RWMutex
	conn    *Connection
	session *PeerSession
	runCtx  context.Context // context of the running session, handed to the backend
}

// PeerOption wires optional collaborators into the peer.
type PeerOption func(*PeerClient)

func WithPeerPresenter(p Presenter) PeerOption {
	return func(c *PeerClient) { c.presenter = p }
}

func WithPeerLogger(l *slog.Logger) PeerOption {
	return func(c *PeerClient) { c.logger = l }
}

func WithPeerMetrics(m *metrics.Metrics) PeerOption {
	return func(c *PeerClient) { c.metrics = m }
}

// NewPeerClient creates a peer that will run commands through backend.
func NewPeerClient(cfg PeerConfig, backend CommandBackend, opts ...PeerOption) *PeerClient {
	c := &PeerClient{
		cfg:       cfg,
		backend:   backend,
		presenter: nopPresenter{},
		logger:    slog.Default(),
		runCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher = NewDispatcher(c.logger, c.metrics)
	c.dispatcher.Register(protocol.TypeCommand, c.handleCommand)
	c.dispatcher.Register(protocol.TypeChat, c.handleChat)
	c.dispatcher.Register(protocol.TypeExit, c.handleExit)
	return c
}

// Dispatcher exposes the peer's dispatcher for extra or overriding handlers.
func (c *PeerClient) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Connect dials the coordinator.
func (c *PeerClient) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.mu.Lock()
	c.conn = NewConnection(conn,
		WithMaxFrameSize(c.cfg.MaxFrameSize),
		WithWriteTimeout(c.cfg.WriteTimeout),
	)
	c.mu.Unlock()

	c.logger.Info("connected_to_server", "server_addr", c.cfg.ServerAddr)
	c.presenter.OnStatus(fmt.Sprintf("[*] Connected to server %s", c.cfg.ServerAddr))
	return nil
}

// Run drives the session loop until the coordinator sends exit, the
// connection drops, or ctx is cancelled.
func (c *PeerClient) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.runCtx = ctx
	c.session = NewPeerSession(coordinatorID, conn, c.dispatcher, c.onSessionClosed, c.logger, c.metrics)
	session := c.session
	c.mu.Unlock()

	session.Run(ctx)
	return nil
}

func (c *PeerClient) onSessionClosed(int64) {
	c.logger.Info("disconnected_from_server")
	c.presenter.OnStatus("[-] Disconnected from server")
}

// Done is closed when the running session has ended. It is nil before Run.
func (c *PeerClient) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	return c.session.Done()
}

func (c *PeerClient) handleCommand(_ int64, command string) error {
	c.mu.RLock()
	ctx := c.runCtx
	c.mu.RUnlock()

	c.logger.Info("executing_command", "command", command)
	output := c.backend.Execute(ctx, command)
	return c.send(protocol.Response(output))
}

func (c *PeerClient) handleChat(_ int64, text string) error {
	c.presenter.OnChat("Server", text)
	return nil
}

func (c *PeerClient) handleExit(int64, string) error {
	c.logger.Info("server_requested_exit")
	c.presenter.OnStatus("[*] Server ended the session")
	return nil
}

func (c *PeerClient) send(m protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	c.metrics.FrameSent(string(m.Type))
	return nil
}

// SendChat sends a chat line to the coordinator.
func (c *PeerClient) SendChat(text string) error {
	return c.send(protocol.Chat(text))
}

// SendScreenshot sends raw image bytes; they travel base64-encoded.
func (c *PeerClient) SendScreenshot(image []byte) error {
	return c.send(protocol.Screenshot(base64.StdEncoding.EncodeToString(image)))
}

// Close tells the coordinator the peer is leaving, then closes the socket.
// Safe to call more than once.
func (c *PeerClient) Close() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	// best effort, the coordinator treats a bare disconnect the same way
	_ = conn.Send(protocol.Exit())
	return conn.Close()
}
