// Package platform wraps the native utilities ccswap shells out to,
// such as the macOS security tool and the tmux multiplexer. Every
// invocation carries a deadline so a hung utility cannot stall a swap.
package platform

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Operating systems with a native credential store.
const (
	Darwin = "darwin"
	Linux  = "linux"
)

// ErrTimeout reports a utility that exceeded its deadline.
var ErrTimeout = errors.New("utility timed out")

// utilityTimeout bounds every invocation. A locked keychain can block
// on a GUI prompt forever.
const utilityTimeout = 5 * time.Second

// Runner executes native utilities with a bounded deadline.
type Runner struct {
	timeout time.Duration
}

// NewRunner returns a Runner with the default deadline.
func NewRunner() *Runner {
	return &Runner{timeout: utilityTimeout}
}

// Output runs the utility and returns its stdout with surrounding
// whitespace trimmed.
func (r *Runner) Output(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrTimeout
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Run executes the utility, discarding its output.
func (r *Runner) Run(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return err
	}
	return nil
}
