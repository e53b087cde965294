package tcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"commlink/internal/metrics"
	"commlink/internal/protocol"
)

// ServerConfig holds the coordinator's tunables.
type ServerConfig struct {
	Addr          string        // listen address, host:port
	MaxFrameSize  uint64        // 0 = protocol.DefaultMaxPayload
	WriteTimeout  time.Duration // per-frame write deadline, 0 = none
	ChatRateLimit float64       // chat messages per second per client, 0 = unlimited
	ChatBurst     int
	ShutdownGrace time.Duration // how long peers get to read the exit frame on Stop
	// StoreRefresh is how often live sessions are re-announced to the
	// session store so their entries do not expire. 0 = never.
	StoreRefresh time.Duration
}

// TCPServer is the coordinator: it accepts peers, runs one session loop per
// peer and lets the presentation layer address them by id.
type TCPServer struct {
	cfg ServerConfig
	// Registry is shared with the outbound-send paths (operator console, status API)
	Registry   *SessionRegistry
	dispatcher *Dispatcher
	presenter  Presenter
	logger     *slog.Logger
	metrics    *metrics.Metrics

	listener net.Listener
	ready    chan struct{} // closed once listener is set

	ctx    context.Context // cancelled on Stop, parents every session loop
	cancel context.CancelFunc

	limitersMu sync.Mutex
	limiters   map[int64]*rate.Limiter // per-client chat limiter

	quitChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // one per session goroutine

	trackMu  sync.Mutex // orders wg.Add against Stop's wg.Wait
	stopping bool
}

// ServerOption wires optional collaborators into the server.
type ServerOption func(*TCPServer)

func WithPresenter(p Presenter) ServerOption {
	return func(s *TCPServer) { s.presenter = p }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *TCPServer) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *TCPServer) { s.metrics = m }
}

// WithSessionStore mirrors the session table into store.
func WithSessionStore(store SessionStore) ServerOption {
	return func(s *TCPServer) { s.Registry.store = store }
}

// constructor for Server
func NewServer(cfg ServerConfig, opts ...ServerOption) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPServer{
		cfg:       cfg,
		Registry:  NewSessionRegistry(nil, nil, nil),
		presenter: nopPresenter{},
		logger:    slog.Default(),
		ready:     make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		limiters:  make(map[int64]*rate.Limiter),
		quitChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Registry.logger = s.logger
	s.Registry.metrics = s.metrics
	s.dispatcher = NewDispatcher(s.logger, s.metrics)
	s.registerHandlers()
	return s
}

// Dispatcher exposes the coordinator's dispatcher so callers can install
// extra handlers or override the defaults.
func (s *TCPServer) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *TCPServer) registerHandlers() {
	s.dispatcher.Register(protocol.TypeResponse, s.handleResponse)
	s.dispatcher.Register(protocol.TypeChat, s.handleChat)
	s.dispatcher.Register(protocol.TypeScreenshot, s.handleScreenshot)
	s.dispatcher.Register(protocol.TypeCommand, s.handleCommand)
	s.dispatcher.Register(protocol.TypeExit, s.handleExit)
}

// Listen binds the listening socket without accepting yet.
func (s *TCPServer) Listen() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	close(s.ready)
	s.logger.Info("tcp_server_listening", "addr", listener.Addr().String())
	s.presenter.OnStatus(fmt.Sprintf("[*] Server listening on %s", listener.Addr()))
	return nil
}

// Addr returns the bound address, or nil if Listen has not succeeded.
func (s *TCPServer) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.listener.Addr()
	default:
		return nil
	}
}

// Start listens and serves until Stop is called.
func (s *TCPServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve runs the accept loop on a listener set up by Listen. It returns nil
// once Stop has been called.
func (s *TCPServer) Serve() error {
	if s.listener == nil {
		return errors.New("tcp server: Serve called before Listen")
	}

	if s.cfg.StoreRefresh > 0 && s.track() {
		go func() {
			defer s.wg.Done()
			s.refreshStore()
		}()
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept_failed", "error", err.Error())
			// avoid spinning on a persistent accept error (e.g. fd exhaustion)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.track() {
			// accepted just as Stop began; never let it register
			s.logger.Info("connection_rejected_shutting_down", "remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// track adds one goroutine to wg unless Stop has begun. Every wg.Add goes
// through here so none can land after Stop's wg.Wait.
func (s *TCPServer) track() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// refreshStore re-announces live sessions to the store until Stop.
func (s *TCPServer) refreshStore() {
	ticker := time.NewTicker(s.cfg.StoreRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Registry.RefreshStore()
		}
	}
}

// handleConnection owns the lifecycle of one accepted peer.
func (s *TCPServer) handleConnection(conn net.Conn) {
	c := NewConnection(conn,
		WithMaxFrameSize(s.cfg.MaxFrameSize),
		WithWriteTimeout(s.cfg.WriteTimeout),
	)
	address := c.RemoteAddr()
	id := s.Registry.Add(c, address)
	s.presenter.OnStatus(fmt.Sprintf("[+] Client %d connected from %s", id, address))

	session := NewPeerSession(id, c, s.dispatcher, s.onSessionClosed, s.logger, s.metrics)
	session.Run(s.ctx)
}

// onSessionClosed runs exactly once per session, after its socket is closed.
func (s *TCPServer) onSessionClosed(id int64) {
	s.limitersMu.Lock()
	delete(s.limiters, id)
	s.limitersMu.Unlock()

	if s.Registry.Remove(id) {
		s.presenter.OnStatus(fmt.Sprintf("[-] Client %d disconnected", id))
	}
}

func (s *TCPServer) handleResponse(id int64, content string) error {
	s.logger.Info("command_response_received",
		"client_id", id,
		"size", len(content),
		"content", preview(content, maxLoggedResponse),
	)
	s.presenter.OnStatus(fmt.Sprintf("[Client %d] %s", id, content))
	return nil
}

func (s *TCPServer) handleChat(id int64, content string) error {
	if !s.allowChat(id) {
		s.logger.Warn("chat_rate_limit_exceeded",
			"client_id", id,
		)
		return nil
	}
	s.presenter.OnChat(fmt.Sprintf("Client %d", id), content)
	return nil
}

func (s *TCPServer) allowChat(id int64) bool {
	if s.cfg.ChatRateLimit <= 0 {
		return true
	}
	s.limitersMu.Lock()
	limiter, ok := s.limiters[id]
	if !ok {
		burst := s.cfg.ChatBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.ChatRateLimit), burst)
		s.limiters[id] = limiter
	}
	s.limitersMu.Unlock()
	// the limiter auto depletes tokens when Allow is called and refills over time
	return limiter.Allow()
}

func (s *TCPServer) handleScreenshot(id int64, content string) error {
	image, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return fmt.Errorf("invalid screenshot encoding from client %d: %w", id, err)
	}
	s.logger.Info("screenshot_received",
		"client_id", id,
		"size", len(image),
	)
	s.presenter.OnScreenshot(fmt.Sprintf("Client %d", id), image)
	return nil
}

// handleCommand covers a peer sending a command upstream. The coordinator
// never executes anything; it only reports it.
func (s *TCPServer) handleCommand(id int64, content string) error {
	s.logger.Warn("unexpected_command_from_client",
		"client_id", id,
	)
	s.presenter.OnStatus(fmt.Sprintf("[Client %d] Command: %s", id, content))
	return nil
}

func (s *TCPServer) handleExit(id int64, _ string) error {
	s.logger.Info("client_requested_exit",
		"client_id", id,
	)
	s.presenter.OnStatus(fmt.Sprintf("[*] Client %d ended the session", id))
	return nil
}

// send resolves id and writes m on that client's connection.
func (s *TCPServer) send(id int64, m protocol.Message) error {
	conn, err := s.Registry.Get(id)
	if err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}
	if err := conn.Send(m); err != nil {
		s.logger.Error("failed_to_send",
			"client_id", id,
			"message_type", string(m.Type),
			"error", err.Error(),
		)
		return fmt.Errorf("client %d: %w", id, err)
	}
	s.metrics.FrameSent(string(m.Type))
	return nil
}

// SendCommand asks client id to run text; its output arrives later as a
// response message.
func (s *TCPServer) SendCommand(id int64, text string) error {
	if err := s.send(id, protocol.Command(text)); err != nil {
		return err
	}
	s.logger.Info("command_sent", "client_id", id)
	return nil
}

// SendChat delivers a chat line to client id.
func (s *TCPServer) SendChat(id int64, text string) error {
	return s.send(id, protocol.Chat(text))
}

// BroadcastChat delivers a chat line to every client.
func (s *TCPServer) BroadcastChat(text string) map[int64]error {
	failed := s.Registry.Broadcast(protocol.Chat(text))
	s.logger.Info("chat_broadcast",
		"recipients", s.Registry.Count(),
		"failed", len(failed),
	)
	return failed
}

// Disconnect tells client id to exit and closes its connection. The session
// loop notices the close and unregisters the client.
func (s *TCPServer) Disconnect(id int64) error {
	conn, err := s.Registry.Get(id)
	if err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}
	if err := conn.Send(protocol.Exit()); err != nil {
		s.logger.Warn("failed_to_send_exit",
			"client_id", id,
			"error", err.Error(),
		)
	}
	return conn.Close()
}

// Session looks up one registered client.
func (s *TCPServer) Session(id int64) (SessionInfo, bool) {
	return s.Registry.Session(id)
}

// Sessions lists the currently registered clients.
func (s *TCPServer) Sessions() []SessionInfo {
	return s.Registry.List()
}

// Stop shuts the coordinator down: no new peers are accepted, every peer is
// sent exit, and after the grace period all connections are closed and their
// loops drained.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		s.trackMu.Lock()
		s.stopping = true
		s.trackMu.Unlock()

		close(s.quitChan) // signal the accept loop
		if s.listener != nil {
			s.listener.Close()
		}

		if s.Registry.Count() > 0 {
			s.Registry.Broadcast(protocol.Exit())
			if s.cfg.ShutdownGrace > 0 {
				time.Sleep(s.cfg.ShutdownGrace) // give peers a moment to read the exit frame
			}
		}

		s.cancel()
		s.Registry.CloseAll()
		s.wg.Wait()
		s.logger.Info("tcp_server_stopped")
	})
}

// maxLoggedResponse caps how much of a command response goes to the log.
const maxLoggedResponse = 512

// preview cuts s to at most n bytes on a rune boundary.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
