// Package child runs one instance of the child CLI on a PTY, mirrors
// its terminal I/O, and watches the output stream for the rate-limit
// banner.
package child

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ccswap/ccswap/internal/config"
)

// killGrace is how long a rate-limited child gets to exit on SIGTERM
// before escalation to SIGKILL.
const killGrace = 3 * time.Second

// Options configure one child run.
type Options struct {
	// Binary overrides the child executable; empty uses CCSWAP_CHILD or
	// the built-in default.
	Binary string

	// ProfileDir becomes the child's CLAUDE_CONFIG_DIR.
	ProfileDir string

	// Remote marks the run as relay-driven.
	Remote bool
}

// Result describes how a child run ended.
type Result struct {
	// ExitCode is the child's exit status. Signal deaths read as 1.
	ExitCode int

	// RateLimited is set when the supervisor killed the child after
	// seeing the rate-limit banner.
	RateLimited bool

	// ResetHint is the reset phrase captured from the banner.
	ResetHint string

	// SessionID is the session id the child printed, when it did.
	SessionID string
}

// Run starts the child on a PTY and supervises it until exit. Host
// stdin is pumped into the PTY (raw mode when stdin is a terminal) and
// PTY output is copied verbatim to stdout while the detector watches
// the stream. On a rate-limit hit the child is terminated and the
// result carries the banner's reset hint.
func Run(ctx context.Context, args []string, opts Options) (*Result, error) {
	bin := opts.Binary
	if bin == "" {
		bin = config.ChildBinary()
	}

	cmd := exec.Command(bin, args...)
	cmd.Env = config.ChildEnv(opts.ProfileDir, opts.Remote)

	ptmx, err := pty.StartWithSize(cmd, hostWinsize())
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}

	stdinFd := int(os.Stdin.Fd())
	restore := func() {}
	if term.IsTerminal(stdinFd) {
		if state, rawErr := term.MakeRaw(stdinFd); rawErr == nil {
			restore = func() { _ = term.Restore(stdinFd, state) }
		}
	}

	// SIGWINCH keeps the PTY sized to the host terminal.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- unix.SIGWINCH

	// Termination signals are forwarded to the child unless a
	// rate-limit kill is already in flight.
	var killing atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM, unix.SIGHUP)
	go func() {
		for sig := range sigs {
			if killing.Load() {
				continue
			}
			_ = cmd.Process.Signal(sig)
		}
	}()

	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if killing.CompareAndSwap(false, true) {
				terminate(cmd, waitDone)
			}
		case <-waitDone:
		}
	}()

	// Cleanup runs on every exit path and is safe to run twice.
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			signal.Stop(winch)
			close(winch)
			signal.Stop(sigs)
			close(sigs)
			restore()
			_ = ptmx.Close()
		})
	}
	defer cleanup()

	stopPump := pumpStdin(ptmx)
	defer stopPump()

	res := &Result{}
	det := &detector{}
	buf := make([]byte, 4096)
	for {
		n, rerr := ptmx.Read(buf)
		if n > 0 {
			_, _ = os.Stdout.Write(buf[:n])
			if !res.RateLimited {
				if hit, hint := det.Feed(buf[:n]); hit {
					res.RateLimited = true
					res.ResetHint = hint
					if killing.CompareAndSwap(false, true) {
						go terminate(cmd, waitDone)
					}
				}
			}
		}
		if rerr != nil {
			break
		}
	}

	stopPump()
	cleanup()
	waitErr := cmd.Wait()
	close(waitDone)

	res.SessionID = det.SessionID()
	res.ExitCode = exitCode(waitErr)
	return res, nil
}

// terminate asks the child to exit and escalates after the grace
// period if it has not.
func terminate(cmd *exec.Cmd, waitDone <-chan struct{}) {
	_ = cmd.Process.Signal(unix.SIGTERM)
	select {
	case <-waitDone:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
	}
}

// hostWinsize mirrors the controlling terminal's size; nil when stdin
// is not a terminal.
func hostWinsize() *pty.Winsize {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	w, h, err := term.GetSize(fd)
	if err != nil {
		return nil
	}
	return &pty.Winsize{Cols: uint16(w), Rows: uint16(h)}
}

// exitCode maps a Wait error onto the child's exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}

var (
	stdinOnce sync.Once
	stdinCh   chan []byte
)

// stdinStream starts the single host-stdin reader. The reader outlives
// any one child: a chunk read while no child is attached is buffered
// and delivered to the next one instead of being lost to a dead PTY.
func stdinStream() <-chan []byte {
	stdinOnce.Do(func() {
		stdinCh = make(chan []byte, 8)
		go func() {
			defer close(stdinCh)
			for {
				buf := make([]byte, 4096)
				n, err := os.Stdin.Read(buf)
				if n > 0 {
					stdinCh <- buf[:n]
				}
				if err != nil {
					return
				}
			}
		}()
	})
	return stdinCh
}

// pumpStdin delivers host keystrokes to the PTY until stopped.
func pumpStdin(ptmx *os.File) (stop func()) {
	done := make(chan struct{})
	go func() {
		stream := stdinStream()
		for {
			select {
			case chunk, ok := <-stream:
				if !ok {
					return
				}
				if _, err := ptmx.Write(chunk); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
