package tcp

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// gatedListener hands out a single connection, but only once release is
// closed. After that, or after Close, Accept reports net.ErrClosed.
type gatedListener struct {
	release chan struct{}
	conn    net.Conn

	mu     sync.Mutex
	served bool
	closed chan struct{}
	once   sync.Once
}

func newGatedListener(conn net.Conn) *gatedListener {
	return &gatedListener{
		release: make(chan struct{}),
		conn:    conn,
		closed:  make(chan struct{}),
	}
}

func (l *gatedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	served := l.served
	l.served = true
	l.mu.Unlock()
	if served {
		<-l.closed
		return nil, net.ErrClosed
	}
	<-l.release
	return l.conn, nil
}

func (l *gatedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *gatedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

// syncBuffer is a bytes.Buffer safe for a logger and a test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_ConnectionAcceptedDuringStopIsNotRegistered(t *testing.T) {
	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()

	p := &recordingPresenter{}
	server := NewServer(ServerConfig{}, WithPresenter(p), WithLogger(discardLogger()))
	listener := newGatedListener(serverEnd)
	server.listener = listener
	close(server.ready)

	served := make(chan error, 1)
	go func() { served <- server.Serve() }()

	stopped := make(chan struct{})
	go func() {
		server.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// the accept that was already in flight completes only now
	close(listener.release)

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	assert.Equal(t, 0, server.Registry.Count())
	assert.Equal(t, 0, p.CountStatusPrefix("[+]"))

	// the late connection was closed rather than served
	clientEnd.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := clientEnd.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe), "unexpected error: %v", err)
}

func TestServer_AddrIsNilUntilListening(t *testing.T) {
	server := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, WithLogger(discardLogger()))
	assert.Nil(t, server.Addr())

	require.NoError(t, server.Listen())
	defer server.Stop()
	require.NotNil(t, server.Addr())
	assert.NotEmpty(t, server.Addr().String())
}

func TestServer_AddrIsNilAfterFailedListen(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	server := NewServer(ServerConfig{Addr: taken.Addr().String()}, WithLogger(discardLogger()))
	require.Error(t, server.Listen())

	done := make(chan net.Addr, 1)
	go func() { done <- server.Addr() }()
	select {
	case addr := <-done:
		assert.Nil(t, addr)
	case <-time.After(time.Second):
		t.Fatal("Addr blocked after a failed Listen")
	}
}

func TestServer_ResponseContentIsLogged(t *testing.T) {
	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	server, p := startServer(t, ServerConfig{}, WithLogger(logger))
	connectPeer(t, server, echoBackend{})
	require.Eventually(t, func() bool { return server.Registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.SendCommand(1, "echo uid=0(root)"))
	require.Eventually(t, func() bool { return p.HasStatus("[Client 1] uid=0(root)\n") }, 2*time.Second, 10*time.Millisecond)

	out := logs.String()
	assert.Contains(t, out, `"msg":"command_response_received"`)
	assert.Contains(t, out, `"content":"uid=0(root)\n"`)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "abc...(truncated)", preview("abcdef", 3))

	// never split a multi-byte rune
	got := preview("ééé", 3)
	assert.Equal(t, "é...(truncated)", got)

	long := strings.Repeat("x", maxLoggedResponse+100)
	assert.Len(t, preview(long, maxLoggedResponse), maxLoggedResponse+len("...(truncated)"))
}

func TestServer_RefreshesSessionStoreWhileConnected(t *testing.T) {
	store := new(MockSessionStore)
	store.On("Register", mock.Anything, mock.Anything).Return(nil)
	store.On("Unregister", mock.Anything, mock.Anything).Return(nil).Maybe()
	refreshed := make(chan struct{})
	var once sync.Once
	store.On("Refresh", mock.Anything, []int64{1}).Return(nil).Run(func(mock.Arguments) {
		once.Do(func() { close(refreshed) })
	})

	server, _ := startServer(t, ServerConfig{StoreRefresh: 20 * time.Millisecond}, WithSessionStore(store))
	connectPeer(t, server, echoBackend{})

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("live session was never refreshed in the store")
	}
}
