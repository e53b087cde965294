package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commlink/internal/executor"
	"commlink/internal/metrics"
	"commlink/internal/protocol"
)

func startServer(t *testing.T, cfg ServerConfig, opts ...ServerOption) (*TCPServer, *recordingPresenter) {
	t.Helper()
	p := &recordingPresenter{}
	cfg.Addr = "127.0.0.1:0"
	opts = append([]ServerOption{WithPresenter(p), WithLogger(discardLogger())}, opts...)

	server := NewServer(cfg, opts...)
	require.NoError(t, server.Listen())
	go server.Serve()
	t.Cleanup(server.Stop)
	return server, p
}

func connectPeer(t *testing.T, server *TCPServer, backend CommandBackend) *PeerClient {
	t.Helper()
	peer := NewPeerClient(PeerConfig{
		ServerAddr:  server.Addr().String(),
		DialTimeout: time.Second,
	}, backend, WithPeerLogger(discardLogger()))
	require.NoError(t, peer.Connect(context.Background()))
	go peer.Run(context.Background())
	t.Cleanup(func() { peer.Close() })
	return peer
}

func TestIntegration_ChatRateLimiting(t *testing.T) {
	// practically no refill: only the burst gets through
	server, p := startServer(t, ServerConfig{ChatRateLimit: 0.001, ChatBurst: 3})
	peer := connectPeer(t, server, echoBackend{})
	require.Eventually(t, func() bool { return server.Registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, peer.SendChat(fmt.Sprintf("msg %d", i)))
	}
	// frames are handled in order, so once the screenshot shows up every chat has been seen
	require.NoError(t, peer.SendScreenshot([]byte("marker")))
	require.Eventually(t, func() bool { return len(p.Screenshots()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"Client 1: msg 0", "Client 1: msg 1", "Client 1: msg 2"}, p.Chats())
}

func TestIntegration_ManyPeers(t *testing.T) {
	const peers = 30
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	server, p := startServer(t, ServerConfig{}, WithMetrics(m))

	for i := 0; i < peers; i++ {
		connectPeer(t, server, echoBackend{})
	}
	require.Eventually(t, func() bool { return server.Registry.Count() == peers }, 5*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for _, info := range server.Sessions() {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, server.SendCommand(id, fmt.Sprintf("echo from %d", id)))
		}(info.ID)
	}
	wg.Wait()

	for id := int64(1); id <= peers; id++ {
		want := fmt.Sprintf("[Client %d] from %d\n", id, id)
		assert.Eventually(t, func() bool { return p.HasStatus(want) }, 5*time.Second, 10*time.Millisecond, want)
	}
	assert.Equal(t, float64(peers), gaugeValue(t, reg, "commlink_active_sessions"))
}

func TestIntegration_MalformedFrameKeepsSession(t *testing.T) {
	server, p := startServer(t, ServerConfig{})

	raw, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer raw.Close()
	require.Eventually(t, func() bool { return server.Registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	garbage := []byte(`{"type":`)
	header := make([]byte, protocol.HeaderLength)
	binary.BigEndian.PutUint64(header, uint64(len(garbage)))
	_, err = raw.Write(append(header, garbage...))
	require.NoError(t, err)

	frame, err := protocol.Encode(protocol.Chat("still here"))
	require.NoError(t, err)
	_, err = raw.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		chats := p.Chats()
		return len(chats) == 1 && chats[0] == "Client 1: still here"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, server.Registry.Count())
}

func TestIntegration_ShellBackend(t *testing.T) {
	server, p := startServer(t, ServerConfig{})
	connectPeer(t, server, executor.NewShellExecutor(5*time.Second, t.TempDir(), discardLogger()))
	require.Eventually(t, func() bool { return server.Registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.SendCommand(1, "echo integration"))
	require.NoError(t, server.SendCommand(1, "true"))

	assert.Eventually(t, func() bool {
		return p.HasStatus("[Client 1] integration\n") &&
			p.HasStatus("[Client 1] "+executor.NoOutputPlaceholder)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIntegration_StopWithManyPeers(t *testing.T) {
	server, _ := startServer(t, ServerConfig{ShutdownGrace: 100 * time.Millisecond})

	clients := make([]*PeerClient, 5)
	for i := range clients {
		clients[i] = connectPeer(t, server, echoBackend{})
	}
	require.Eventually(t, func() bool { return server.Registry.Count() == len(clients) }, 2*time.Second, 10*time.Millisecond)

	server.Stop()

	for i, peer := range clients {
		require.Eventually(t, func() bool { return peer.Done() != nil }, time.Second, 5*time.Millisecond)
		select {
		case <-peer.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("peer %d still running after Stop", i)
		}
	}
	assert.Equal(t, 0, server.Registry.Count())
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
