// Package daemon manages the relay daemon lifecycle. A file lock
// makes the daemon a singleton, a PID file makes it findable, and
// stopping escalates from SIGTERM to SIGKILL.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/logging"
	"github.com/ccswap/ccswap/internal/platform"
	"github.com/ccswap/ccswap/internal/relay"
)

// Lifecycle sentinels, matched by the CLI to pick friendlier messages.
var (
	ErrAlreadyRunning   = errors.New("daemon already running")
	ErrDaemonNotRunning = errors.New("daemon not running")
)

// stopGrace is how long Stop waits after SIGTERM before escalating to
// SIGKILL. A variable so tests can shrink it.
var stopGrace = 2 * time.Second

// startupWait gives a freshly spawned daemon time to take the lock and
// write its PID file before Start verifies it.
const startupWait = 250 * time.Millisecond

// Process inspection seams. On Unix FindProcess always succeeds, so
// liveness is a zero signal and identity is the ps command line.
var (
	processAlive = func(pid int) bool {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return false
		}
		return proc.Signal(unix.Signal(0)) == nil
	}

	processCommand = func(pid int) string {
		out, err := platform.NewRunner().Output("ps", "-p", strconv.Itoa(pid), "-o", "command=")
		if err != nil {
			return ""
		}
		return out
	}
)

// Run is the foreground body behind `ccswap daemon run`. It takes the
// singleton lock, records its PID, and relays Slack traffic until the
// context is canceled or a termination signal arrives.
func Run(ctx context.Context, debug bool) error {
	lockPath, err := config.DaemonLockPath()
	if err != nil {
		return err
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock held by another process)", ErrAlreadyRunning)
	}
	defer lock.Unlock()

	pidPath, err := config.DaemonPidPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	logPath, err := config.RelayLogPath()
	if err != nil {
		return err
	}
	logger, logFile, err := logging.NewFile(logPath, "relay")
	if err != nil {
		return err
	}
	defer logFile.Close()

	bot, err := relay.New(config.Slack(), logger, debug)
	if err != nil {
		logger.Error("relay not configured", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			logger.Info("shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("relay daemon started", "pid", os.Getpid())
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", "error", err)
		return err
	}
	logger.Info("relay daemon stopped")
	return nil
}

// Start launches `ccswap daemon run` detached from the current
// terminal and verifies it came up. The returned PID is the running
// daemon's, which is not ours when a concurrent start won the lock
// first; that case returns ErrAlreadyRunning alongside the PID.
func Start() (int, error) {
	if running, pid, err := IsRunning(); err != nil {
		return 0, err
	} else if running {
		return pid, ErrAlreadyRunning
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}

	cmd := exec.Command(exe, "daemon", "run")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(startupWait)

	running, pid, err := IsRunning()
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, errors.New("daemon exited during startup; see `ccswap daemon logs`")
	}
	if pid != cmd.Process.Pid {
		// A concurrent start won the lock; ours exited after losing.
		return pid, ErrAlreadyRunning
	}
	return pid, nil
}

// IsRunning reports whether a relay daemon is alive and returns its
// PID. The file lock in Run is the authoritative duplicate guard; this
// is for status checks, and it removes PID files left by dead daemons.
func IsRunning() (bool, int, error) {
	pidPath, err := config.DaemonPidPath()
	if err != nil {
		return false, 0, err
	}
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, fmt.Errorf("corrupt PID file %s: %w", pidPath, err)
	}

	if !processAlive(pid) {
		_ = os.Remove(pidPath)
		return false, 0, nil
	}

	// The PID may have been reused by an unrelated process since the
	// daemon died. Only a command line that looks like ours counts.
	if !isRelayDaemon(pid) {
		_ = os.Remove(pidPath)
		return false, 0, nil
	}

	return true, pid, nil
}

// isRelayDaemon checks the command line behind a PID for the shape of
// `ccswap daemon run`, with or without a leading path.
func isRelayDaemon(pid int) bool {
	cmdline := processCommand(pid)
	return strings.Contains(cmdline, "ccswap") &&
		strings.Contains(cmdline, "daemon") &&
		strings.Contains(cmdline, "run")
}

// Stop terminates the running daemon: SIGTERM, a grace period, then
// SIGKILL if it is still alive. Returns ErrDaemonNotRunning when there
// is nothing to stop.
func Stop() error {
	running, pid, err := IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return ErrDaemonNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(unix.SIGTERM); err != nil {
		return fmt.Errorf("stopping daemon %d: %w", pid, err)
	}

	time.Sleep(stopGrace)
	if processAlive(pid) {
		_ = proc.Signal(unix.SIGKILL)
	}

	pidPath, err := config.DaemonPidPath()
	if err != nil {
		return err
	}
	_ = os.Remove(pidPath)
	return nil
}
