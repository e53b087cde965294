// Package executor is the command backend peers use to run what the
// coordinator sends them. Commands are parsed and interpreted with
// mvdan.cc/sh, so they behave the same on every platform the peer runs on.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// NoOutputPlaceholder is returned when a command succeeds silently.
	NoOutputPlaceholder = "[*] Command executed with no output."

	errorPrefix = "[!] Execution error: "

	// DefaultTimeout applies when ShellExecutor.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxOutput caps captured output so one response stays well under
	// the frame size limit.
	DefaultMaxOutput = 1 << 20
)

// ShellExecutor runs POSIX shell command lines.
type ShellExecutor struct {
	Timeout   time.Duration
	Dir       string // working directory, empty = process cwd
	MaxOutput int    // bytes, 0 = DefaultMaxOutput
	Logger    *slog.Logger
}

// NewShellExecutor creates an executor with the given per-command timeout.
func NewShellExecutor(timeout time.Duration, dir string, logger *slog.Logger) *ShellExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellExecutor{
		Timeout: timeout,
		Dir:     dir,
		Logger:  logger,
	}
}

// Execute runs command and returns its combined stdout and stderr. It never
// returns an error: failures come back as a readable description, because
// the caller's only job is to ship the text back to the coordinator.
func (e *ShellExecutor) Execute(ctx context.Context, command string) string {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if strings.TrimSpace(command) == "" {
		return NoOutputPlaceholder
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		logger.Warn("command_parse_failed", "error", err.Error())
		return errorPrefix + err.Error()
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	opts := []interp.RunnerOption{interp.StdIO(nil, &out, &out)}
	if e.Dir != "" {
		opts = append(opts, interp.Dir(e.Dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		logger.Error("command_runner_setup_failed", "error", err.Error())
		return errorPrefix + err.Error()
	}

	runErr := runner.Run(ctx, prog)
	// the response frame must be valid UTF-8, whatever the command printed
	output := e.truncate(strings.ToValidUTF8(out.String(), "\uFFFD"))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("command_timed_out", "timeout", timeout.String())
		return output + errorPrefix + fmt.Sprintf("command timed out after %s", timeout)
	}

	if runErr != nil {
		var status interp.ExitStatus
		if errors.As(runErr, &status) {
			// a non-zero exit is an ordinary outcome; the output says why
			logger.Info("command_exited", "status", uint8(status))
			if output == "" {
				return errorPrefix + fmt.Sprintf("exit status %d", uint8(status))
			}
			return output
		}
		logger.Error("command_failed", "error", runErr.Error())
		return output + errorPrefix + runErr.Error()
	}

	if output == "" {
		return NoOutputPlaceholder
	}
	return output
}

func (e *ShellExecutor) truncate(s string) string {
	limit := e.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "\n[output truncated]\n"
}
