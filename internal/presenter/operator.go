package presenter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"commlink/internal/microservices/tcp"
)

// ErrQuit is returned by Execute when the operator asks to leave.
var ErrQuit = errors.New("operator quit")

// Controller is the slice of the coordinator the operator drives.
type Controller interface {
	SendCommand(id int64, text string) error
	SendChat(id int64, text string) error
	BroadcastChat(text string) map[int64]error
	Disconnect(id int64) error
	Session(id int64) (tcp.SessionInfo, bool)
	Sessions() []tcp.SessionInfo
}

// Operator reads operator requests line by line and applies them to a
// Controller. Feedback is written to out.
type Operator struct {
	ctrl Controller
	out  io.Writer
}

func NewOperator(ctrl Controller, out io.Writer) *Operator {
	return &Operator{ctrl: ctrl, out: out}
}

const operatorHelp = `Commands:
  list                    show connected clients
  cmd <id> <command>      run a command on client <id>
  chat <id> <text>        send a chat line to client <id>
  all <text>              send a chat line to every client
  kick <id>               end the session with client <id>
  help                    show this help
  quit                    stop the coordinator`

// Run consumes in until EOF, ctx is cancelled, or the operator quits, in
// which case it returns ErrQuit. Errors from individual requests are printed
// and do not stop the loop.
func (o *Operator) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := o.Execute(line); err != nil {
				if errors.Is(err, ErrQuit) {
					return err
				}
				fmt.Fprintf(o.out, "[!] %v\n", err)
			}
		}
	}
}

// Execute applies a single request line.
func (o *Operator) Execute(line string) error {
	verb, rest := splitWord(strings.TrimSpace(line))

	switch strings.ToLower(verb) {
	case "":
		return nil
	case "help", "?":
		fmt.Fprintln(o.out, operatorHelp)
		return nil
	case "quit", "exit":
		return ErrQuit
	case "list", "ls":
		o.list()
		return nil
	case "cmd", "command":
		id, text, err := targetAndText(rest)
		if err != nil {
			return err
		}
		return o.ctrl.SendCommand(id, text)
	case "chat", "msg":
		id, text, err := targetAndText(rest)
		if err != nil {
			return err
		}
		return o.ctrl.SendChat(id, text)
	case "all", "broadcast":
		if rest == "" {
			return fmt.Errorf("usage: all <text>")
		}
		failed := o.ctrl.BroadcastChat(rest)
		o.reportFailures(failed)
		return nil
	case "kick":
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		return o.ctrl.Disconnect(id)
	default:
		return fmt.Errorf("unknown command %q (try help)", verb)
	}
}

func (o *Operator) list() {
	sessions := o.ctrl.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(o.out, "[*] No clients connected")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(o.out, "  %d\t%s\tsince %s\n", s.ID, s.Address, s.ConnectedAt.Format("15:04:05"))
	}
}

func (o *Operator) reportFailures(failed map[int64]error) {
	ids := make([]int64, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(o.out, "[!] Client %d: %v\n", id, failed[id])
	}
}

func splitWord(s string) (string, string) {
	word, rest, _ := strings.Cut(s, " ")
	return word, strings.TrimSpace(rest)
}

func targetAndText(s string) (int64, string, error) {
	idText, text := splitWord(s)
	id, err := parseID(idText)
	if err != nil {
		return 0, "", err
	}
	if text == "" {
		return 0, "", fmt.Errorf("missing text for client %d", id)
	}
	return id, text, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid client id %q", s)
	}
	return id, nil
}
