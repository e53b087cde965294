package presenter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// PeerSender is what the peer-side operator can do on the open channel.
type PeerSender interface {
	SendChat(text string) error
	SendScreenshot(image []byte) error
	Close() error
}

// PeerInput turns lines typed on the peer into chat messages. Two lines are
// special: "/screenshot <file>" sends the file as an image and "/quit" ends
// the session.
type PeerInput struct {
	peer     PeerSender
	out      io.Writer
	readFile func(string) ([]byte, error)
}

func NewPeerInput(peer PeerSender, out io.Writer) *PeerInput {
	return &PeerInput{peer: peer, out: out, readFile: os.ReadFile}
}

// Run reads lines until EOF, "/quit", done is closed, or ctx is cancelled.
// On "/quit" the peer is closed.
func (p *PeerInput) Run(ctx context.Context, in io.Reader, done <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := p.Handle(line)
			if err != nil {
				fmt.Fprintf(p.out, "[!] %v\n", err)
			}
			if quit {
				return p.peer.Close()
			}
		}
	}
}

// Handle applies one line and reports whether the operator asked to quit.
func (p *PeerInput) Handle(line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/screenshot" || strings.HasPrefix(line, "/screenshot "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/screenshot"))
		if path == "" {
			return false, fmt.Errorf("usage: /screenshot <file>")
		}
		image, err := p.readFile(path)
		if err != nil {
			return false, fmt.Errorf("failed to read screenshot: %w", err)
		}
		return false, p.peer.SendScreenshot(image)
	default:
		return false, p.peer.SendChat(line)
	}
}
