package procrun

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"discarchive/internal/logging"
)

// DefaultGrace is how long a process group gets between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

// Command describes one tool invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Executor runs a command and forwards each output line.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(string)) error
}

// ExitError reports a non-zero exit together with the last output lines.
type ExitError struct {
	Binary string
	Code   int
	Tail   []string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Binary, e.Code)
	if len(e.Tail) > 0 {
		msg += ": " + e.Tail[len(e.Tail)-1]
	}
	return msg
}

// Runner executes commands in a dedicated process group.
type Runner struct {
	Grace     time.Duration
	TailLines int
	Logger    *slog.Logger
}

// NewRunner returns a runner with default grace and tail size.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{Grace: DefaultGrace, TailLines: DefaultTailLines, Logger: logger}
}

// Run starts the command and blocks until it exits. stdout and stderr are
// both split on \n and \r so carriage-return progress lines arrive one at a
// time. When ctx ends the whole group receives SIGTERM, then SIGKILL after
// the grace period, and Run returns the context cause.
func (r *Runner) Run(ctx context.Context, command Command, onLine func(string)) error {
	if strings.TrimSpace(command.Binary) == "" {
		return errors.New("procrun: binary required")
	}
	if err := context.Cause(ctx); err != nil {
		return err
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := exec.Command(command.Binary, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = command.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command.Binary, err)
	}
	pgid := cmd.Process.Pid
	logger.Debug("process started",
		logging.String("command", command.String()),
		logging.Int("pid", pgid),
	)

	recent := newTail(r.TailLines)
	var forwardMu sync.Mutex
	forward := func(line string) {
		recent.add(line)
		if onLine == nil {
			return
		}
		forwardMu.Lock()
		defer forwardMu.Unlock()
		onLine(line)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(&wg, stdout, forward)
	go scanLines(&wg, stderr, forward)

	exited := make(chan struct{})
	killed := make(chan struct{})
	go func() {
		select {
		case <-exited:
			return
		case <-ctx.Done():
		}
		close(killed)
		logger.Info("terminating process group",
			logging.String("command", command.Binary),
			logging.Int("pgid", pgid),
		)
		_ = unix.Kill(-pgid, unix.SIGTERM)
		select {
		case <-exited:
		case <-time.After(grace):
			logger.Warn("process group ignored SIGTERM, killing",
				logging.String("command", command.Binary),
				logging.Int("pgid", pgid),
				logging.String(logging.FieldImpact, "tool output may be incomplete"),
			)
			_ = unix.Kill(-pgid, unix.SIGKILL)
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(exited)

	select {
	case <-killed:
		return fmt.Errorf("%s interrupted: %w", command.Binary, context.Cause(ctx))
	default:
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Binary: command.Binary, Code: exitErr.ExitCode(), Tail: recent.snapshot()}
		}
		return fmt.Errorf("wait %s: %w", command.Binary, waitErr)
	}
	return nil
}

func scanLines(wg *sync.WaitGroup, r io.Reader, forward func(string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		forward(line)
	}
	// Drain so the child never blocks on a full pipe after a scan error.
	_, _ = io.Copy(io.Discard, r)
}

// splitLines is bufio.ScanLines that also treats a bare \r as a terminator.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
