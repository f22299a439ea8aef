package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const (
	defaultStderrTail = 64 * 1024
	diagnosticLines   = 5
)

// Result is the outcome of a process that was spawned and ran to exit.
type Result struct {
	ExitCode int
	Stderr   string
}

// Runner executes a built command and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, cmd *Command) (*Result, error)
}

// ExecRunner spawns commands directly (no shell). The context is only
// checked before spawning: a started render is never killed, so a stalled
// process stalls its job.
type ExecRunner struct {
	// StderrTail bounds how much trailing stderr is kept.
	StderrTail int
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{StderrTail: defaultStderrTail}
}

// Run spawns cmd and waits. A non-zero exit is reported through
// Result.ExitCode with a nil error; the error is reserved for failing to
// start or wait on the process at all.
func (r *ExecRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := r.StderrTail
	if limit <= 0 {
		limit = defaultStderrTail
	}
	stderr := &tailBuffer{max: limit}

	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec
	c.Stdout = io.Discard
	c.Stderr = stderr

	err := c.Run()
	res := &Result{Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode == 0 {
				res.ExitCode = -1
			}
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", cmd.Binary, err)
	}
	return res, nil
}

// Available reports whether binary resolves to an executable.
func Available(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// Diagnostic extracts the last meaningful lines of a failed process's
// stderr, bounded to max bytes (the tail is kept).
func Diagnostic(stderr string, max int) string {
	lines := strings.FieldsFunc(stderr, func(r rune) bool { return r == '\n' || r == '\r' })
	kept := make([]string, 0, diagnosticLines)
	for i := len(lines) - 1; i >= 0 && len(kept) < diagnosticLines; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append(kept, line)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	msg := strings.Join(kept, "\n")
	if max > 0 && len(msg) > max {
		msg = strings.ToValidUTF8(msg[len(msg)-max:], "")
	}
	return msg
}

// tailBuffer is an io.Writer that keeps only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
