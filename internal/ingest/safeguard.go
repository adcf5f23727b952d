package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Outcome classifies a safe-mode validation attempt.
type Outcome int

const (
	// OutcomeOK means the child parsed the file cleanly; the parent may
	// read it directly, since validation proved it will not crash.
	OutcomeOK Outcome = iota
	// OutcomeCorrupted means the child was killed by a fault signal or ran
	// past the timeout. The file is skipped and counted separately from
	// ordinary errors.
	OutcomeCorrupted
	// OutcomeUnreadable means the child exited with an ordinary parse or
	// I/O error.
	OutcomeUnreadable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCorrupted:
		return "corrupted"
	default:
		return "unreadable"
	}
}

// Validator runs the parse of a candidate file in an isolated child process
// with a bounded timeout before the main process touches it. Malformed
// upstream geometry files can crash a parser outright rather than return an
// error; the subprocess boundary converts that unrecoverable crash into a
// recoverable per-file skip.
type Validator struct {
	// Bin is the executable re-invoked as `Bin validate-file <path>`.
	// Defaults to the running binary.
	Bin     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewValidator builds a validator around the current executable.
func NewValidator(timeout time.Duration, logger *slog.Logger) *Validator {
	bin, err := os.Executable()
	if err != nil {
		bin = os.Args[0]
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{Bin: bin, Timeout: timeout, Logger: logger}
}

// Validate attempts the parse in a child process and classifies the result
// by exit status. A start failure (missing binary, fork error) is returned
// as a hard error distinct from the three outcomes.
func (v *Validator) Validate(ctx context.Context, path string) (Outcome, error) {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.Bin, "validate-file", path) //nolint:gosec // G204: re-invokes our own binary
	cmd.Stdout = nil
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		return OutcomeOK, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		v.Logger.Warn("validation timed out, treating file as corrupted",
			"path", path, "timeout", timeout)
		return OutcomeCorrupted, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			switch ws.Signal() {
			case syscall.SIGSEGV, syscall.SIGABRT, syscall.SIGBUS:
				v.Logger.Warn("validation child killed by fault signal",
					"path", path, "signal", ws.Signal().String())
				return OutcomeCorrupted, nil
			}
		}
		return OutcomeUnreadable, nil
	}

	return OutcomeUnreadable, err
}
