package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrEmptyCommand is returned when a command line has no program.
var ErrEmptyCommand = errors.New("empty command")

// Exec runs programs of the workstation.
type Exec struct {
	// Env is appended to the environment of the current process.
	Env []string
	// Timeout bounds every command when positive.
	Timeout time.Duration
}

// DisplayEnv returns the environment selecting an X11 display, or nil for
// the inherited one.
func DisplayEnv(display string) []string {
	if display == "" {
		return nil
	}
	return []string{"DISPLAY=" + display}
}

// Run executes argv and reports a non-zero exit with its combined output.
func (e *Exec) Run(ctx context.Context, argv []string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	cmd, err := e.command(ctx, argv)
	if err != nil {
		return err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, bytes.TrimSpace(out))
	}
	return nil
}

// Output executes argv and returns its standard output.
func (e *Exec) Output(ctx context.Context, argv []string) ([]byte, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	cmd, err := e.command(ctx, argv)
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", argv[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

func (e *Exec) command(ctx context.Context, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	return cmd, nil
}

func (e *Exec) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout > 0 {
		return context.WithTimeout(ctx, e.Timeout)
	}
	return context.WithCancel(ctx)
}
