package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ggoodman/mcp-stdio-bridge/internal/framer"
)

// ExitError reports how the child terminated. Wait always returns one.
type ExitError struct {
	// Code is the exit status, or -1 when the child was killed by a signal.
	Code int
	// Signal names the terminating signal, if any.
	Signal string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("child exited code=%d signal=%s", e.Code, e.Signal)
	}
	return fmt.Sprintf("child exited code=%d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitStatus is the status the bridge should exit with. A child exiting
// cleanly still means the backend is gone, so 0 (and signal deaths) map to 1.
func (e *ExitError) ExitStatus() int {
	if e.Code <= 0 {
		return 1
	}
	return e.Code
}

// Process is a running child.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *io.PipeReader
	outW   *io.PipeWriter
	log    *slog.Logger

	waitOnce sync.Once
	waitErr  *ExitError
}

// Start spawns command with args. The child's stdout is exposed through
// Stdout; reads must continue until EOF or Wait will block.
func Start(ctx context.Context, command string, args []string, opts ...Option) (*Process, error) {
	if command == "" {
		return nil, errors.New("child command is required")
	}
	cfg := config{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	//nolint:gosec // G204: the child command line is operator configuration
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = mergeEnv(os.Environ(), cfg.env)
	cmd.Dir = cfg.dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// A non-*os.File writer makes Wait wait for the copy to drain, so no
	// trailing output is lost when the child exits.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = &stderrLogger{log: cfg.log}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	cfg.log.Info("child.start",
		slog.String("command", command+" "+strings.Join(args, " ")),
		slog.Int("pid", cmd.Process.Pid),
	)

	return &Process{cmd: cmd, stdin: stdin, stdout: pr, outW: pw, log: cfg.log}, nil
}

// Stdin is the child's input stream.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the child's output stream. It reports EOF once the child exits.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait blocks until the child exits and returns its ExitError. It is safe to
// call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		stderr := p.cmd.Stderr.(*stderrLogger)
		stderr.flush()

		exitErr := &ExitError{Code: -1, Err: err}
		if state := p.cmd.ProcessState; state != nil {
			exitErr.Code = state.ExitCode()
			if exitErr.Code == -1 {
				exitErr.Signal = state.String()
			}
		}

		_ = p.outW.Close()
		p.log.Error("child.exit", slog.Int("code", exitErr.Code), slog.String("signal", exitErr.Signal))
		p.waitErr = exitErr
	})
	return p.waitErr
}

// Close closes the child's stdin and kills it. Safe to call on an exited child.
func (p *Process) Close() error {
	_ = p.stdin.Close()
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill child (pid %d): %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// stderrLogger logs each stderr line as a diagnostic.
type stderrLogger struct {
	log *slog.Logger
	mu  sync.Mutex
	f   framer.Framer
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	s.mu.Lock()
	lines := s.f.Feed(p)
	s.mu.Unlock()
	for _, l := range lines {
		s.log.Warn("child.stderr", slog.String("line", strings.TrimSpace(l)))
	}
	return len(p), nil
}

func (s *stderrLogger) flush() {
	s.mu.Lock()
	lines := s.f.Flush()
	s.mu.Unlock()
	for _, l := range lines {
		s.log.Warn("child.stderr", slog.String("line", strings.TrimSpace(l)))
	}
}

// mergeEnv overlays extra KEY=VALUE entries onto base, replacing existing keys.
func mergeEnv(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	override := make(map[string]struct{}, len(extra))
	for _, kv := range extra {
		k, _, _ := strings.Cut(kv, "=")
		override[k] = struct{}{}
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := override[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	return append(out, extra...)
}
