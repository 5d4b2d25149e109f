// Package setup bootstraps the local infrastructure: prerequisite checks,
// starting the emulator container, installing stack dependencies and deploying
// the serverless stack.
package setup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrEmulatorNotReady is returned when the emulator does not become healthy
// within the wait budget.
var ErrEmulatorNotReady = errors.New("emulator did not become ready")

// Runner executes bootstrap commands in a fixed working directory.
type Runner struct {
	dir string
}

// NewRunner returns a runner executing commands in dir.
func NewRunner(dir string) Runner {
	return Runner{dir: dir}
}

// Run executes the command with the provided timeout, streaming nothing: both
// outputs are captured and logged. A failure carries the tail of stderr.
func (r Runner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("Running command", "cmd", name, "args", args, "dir", r.dir)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	c := exec.CommandContext(ctx, name, args...)
	c.Dir = r.dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.Env = append(c.Env, "LANG=C")
	c.Env = append(c.Env, os.Environ()...)

	err := c.Run()
	if out := strings.TrimSpace(stdout.String()); out != "" {
		slog.Debug("Command stdout", "cmd", name, "output", out)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %v: %s", name, err, tail(stderr.String(), 10))
	}
	return nil
}

// CheckPrerequisites verifies every named executable is reachable on PATH.
// All missing prerequisites are reported together.
func CheckPrerequisites(names ...string) error {
	var missing error
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = errors.Join(missing, fmt.Errorf("required executable %q not found on PATH", name))
		}
	}
	return missing
}

// WaitForEmulator polls the health probe until it succeeds, with a fixed
// interval between bounded attempts. This is the single explicit readiness
// wait for the emulator container.
func WaitForEmulator(ctx context.Context, health func(context.Context) error, attempts int, interval time.Duration) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = health(ctx); err == nil {
			slog.Info("Emulator is ready", "attempt", attempt)
			return nil
		}

		slog.Debug("Emulator not ready yet", "attempt", attempt, "attempts", attempts, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrEmulatorNotReady, attempts, err)
}

// tail returns the last n lines of s, trimmed.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
