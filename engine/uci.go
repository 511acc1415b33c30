package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stopGrace bounds how long a cancelled search may take to report its
// bestmove after "stop".
const stopGrace = 2 * time.Second

var errExited = errors.New("engine: uci process exited")

// UCIOption configures a UCI driver.
type UCIOption func(*UCI)

// WithUCILogger sets a custom logger.
func WithUCILogger(l *slog.Logger) UCIOption {
	return func(u *UCI) { u.logger = l }
}

// WithUCIOptions sends "setoption name K value V" for each entry during the
// handshake.
func WithUCIOptions(opts map[string]string) UCIOption {
	return func(u *UCI) { u.options = opts }
}

// UCI drives an engine speaking the Universal Chess Interface. Searches are
// serialised; concurrent BestMove calls wait their turn.
type UCI struct {
	w       io.Writer
	lines   chan string
	logger  *slog.Logger
	options map[string]string

	mu  sync.Mutex
	cmd *exec.Cmd
	in  io.Closer
}

// NewUCI creates a driver over an existing connection: engine output is read
// from r, commands are written to w. Call Handshake before searching.
func NewUCI(r io.Reader, w io.Writer, opts ...UCIOption) *UCI {
	u := &UCI{
		w:      w,
		lines:  make(chan string, 64),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(u)
	}
	go u.readLoop(r)
	return u
}

// StartUCI launches the engine binary at path and completes the handshake.
func StartUCI(ctx context.Context, path string, args []string, opts ...UCIOption) (*UCI, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start %s: %w", path, err)
	}

	u := NewUCI(stdout, stdin, opts...)
	u.cmd = cmd
	u.in = stdin
	if err := u.Handshake(ctx); err != nil {
		u.Close()
		return nil, err
	}
	u.logger.Info("engine: uci ready", "path", path, "pid", cmd.Process.Pid)
	return u, nil
}

func (u *UCI) readLoop(r io.Reader) {
	defer close(u.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		u.lines <- strings.TrimSpace(sc.Text())
	}
}

func (u *UCI) send(cmd string) error {
	if _, err := io.WriteString(u.w, cmd+"\n"); err != nil {
		return fmt.Errorf("engine: write %q: %w", cmd, err)
	}
	return nil
}

// await reads lines until one starts with prefix.
func (u *UCI) await(ctx context.Context, prefix string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-u.lines:
			if !ok {
				return "", errExited
			}
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		}
	}
}

// Handshake runs uci/uciok, applies options and waits for readyok.
func (u *UCI) Handshake(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.send("uci"); err != nil {
		return err
	}
	if _, err := u.await(ctx, "uciok"); err != nil {
		return fmt.Errorf("engine: handshake: %w", err)
	}
	for k, v := range u.options {
		if err := u.send("setoption name " + k + " value " + v); err != nil {
			return err
		}
	}
	return u.ready(ctx)
}

func (u *UCI) ready(ctx context.Context) error {
	if err := u.send("isready"); err != nil {
		return err
	}
	if _, err := u.await(ctx, "readyok"); err != nil {
		return fmt.Errorf("engine: isready: %w", err)
	}
	return nil
}

// BestMove searches fen for budget. When ctx is cancelled mid-search the
// engine is told to stop and its answer is discarded.
func (u *UCI) BestMove(ctx context.Context, fen string, budget time.Duration) (Move, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.send("position fen " + fen); err != nil {
		return "", err
	}
	ms := budget.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	if err := u.send(fmt.Sprintf("go movetime %d", ms)); err != nil {
		return "", err
	}

	line, err := u.await(ctx, "bestmove")
	if err != nil {
		if errors.Is(err, errExited) {
			return "", err
		}
		u.abort()
		return "", err
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", ErrNoMove
	}
	return ParseMove(fields[1])
}

// abort stops the running search and drains its bestmove so the next
// search starts clean.
func (u *UCI) abort() {
	if err := u.send("stop"); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if _, err := u.await(ctx, "bestmove"); err != nil {
		u.logger.Warn("engine: search did not stop", "error", err)
	}
}

// Close asks the engine to quit and waits for the process when StartUCI
// launched it.
func (u *UCI) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.send("quit")
	if u.in != nil {
		u.in.Close()
	}
	if u.cmd == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- u.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(stopGrace):
		u.cmd.Process.Kill()
		return <-done
	}
}
