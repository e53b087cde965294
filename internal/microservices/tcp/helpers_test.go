package tcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
)

// recordingPresenter captures every presentation event for assertions.
type recordingPresenter struct {
	mu          sync.Mutex
	chats       []string
	statuses    []string
	screenshots [][]byte
}

func (p *recordingPresenter) OnChat(from, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = append(p.chats, fmt.Sprintf("%s: %s", from, text))
}

func (p *recordingPresenter) OnStatus(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, line)
}

func (p *recordingPresenter) OnScreenshot(_ string, image []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots = append(p.screenshots, image)
}

func (p *recordingPresenter) Chats() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chats...)
}

func (p *recordingPresenter) Screenshots() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.screenshots...)
}

func (p *recordingPresenter) HasStatus(line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.statuses {
		if s == line {
			return true
		}
	}
	return false
}

func (p *recordingPresenter) CountStatusPrefix(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.statuses {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// echoBackend answers `echo x` with "x\n" and anything else with a fixed line.
type echoBackend struct{}

func (echoBackend) Execute(_ context.Context, command string) string {
	if rest, ok := strings.CutPrefix(command, "echo "); ok {
		return rest + "\n"
	}
	return "[*] Command executed with no output."
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipePair returns the two ends of an in-memory stream wrapped as Connections.
func pipePair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := NewConnection(a), NewConnection(b)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}
