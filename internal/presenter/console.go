// Package presenter is the presentation layer: it renders session events for
// a human operator and turns the operator's typed requests into calls on the
// coordinator.
package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Console prints events to a terminal, one line each, colored by kind.
type Console struct {
	mu          sync.Mutex // keeps lines from concurrent sessions whole
	out         io.Writer
	screenshots *ScreenshotSaver // nil = screenshots are only announced
	now         func() time.Time

	chat  *color.Color
	info  *color.Color
	good  *color.Color
	alert *color.Color
}

// NewConsole writes to out. saver may be nil.
func NewConsole(out io.Writer, saver *ScreenshotSaver) *Console {
	return &Console{
		out:         out,
		screenshots: saver,
		now:         time.Now,
		chat:        color.New(color.FgCyan),
		info:        color.New(color.FgYellow),
		good:        color.New(color.FgGreen),
		alert:       color.New(color.FgRed),
	}
}

// OnChat prints "[15:04:05] from: text".
func (c *Console) OnChat(from, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat.Fprintf(c.out, "[%s] %s: %s\n", c.now().Format("15:04:05"), from, text)
}

// OnStatus prints a status line; the "[+]", "[-]", "[!]" and "[*]" prefixes
// pick the color.
func (c *Console) OnStatus(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.HasPrefix(line, "[+]"):
		c.good.Fprintln(c.out, line)
	case strings.HasPrefix(line, "[-]"), strings.HasPrefix(line, "[!]"):
		c.alert.Fprintln(c.out, line)
	case strings.HasPrefix(line, "[*]"):
		c.info.Fprintln(c.out, line)
	default:
		fmt.Fprintln(c.out, strings.TrimRight(line, "\n"))
	}
}

// OnScreenshot stores the image (when a saver is configured) and reports where.
func (c *Console) OnScreenshot(from string, image []byte) {
	if c.screenshots == nil {
		c.OnStatus(fmt.Sprintf("[*] Screenshot from %s (%d bytes)", from, len(image)))
		return
	}
	path, err := c.screenshots.Save(from, image)
	if err != nil {
		c.OnStatus(fmt.Sprintf("[!] Could not save screenshot from %s: %v", from, err))
		return
	}
	c.OnStatus(fmt.Sprintf("[*] Screenshot from %s saved to %s", from, path))
}
