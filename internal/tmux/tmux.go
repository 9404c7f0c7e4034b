// Package tmux shells out to the tmux binary for the verbs the relay
// needs. Every call is a single tmux invocation; no control-mode socket
// is held open.
package tmux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors mapped from tmux stderr.
var (
	ErrNoServer        = errors.New("tmux server not running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// relayTruncateLimit caps text injected into a pane in one relay.
const relayTruncateLimit = 4096

// relayEnterDelay separates literal text from the Enter keypress so the
// pane's reader sees them as distinct input events.
const relayEnterDelay = 300 * time.Millisecond

// Tmux wraps the tmux binary found on PATH.
type Tmux struct {
	bin        string
	enterDelay time.Duration
}

// NewTmux returns a tmux client.
func NewTmux() *Tmux {
	return &Tmux{bin: "tmux", enterDelay: relayEnterDelay}
}

// Available reports whether the tmux binary is installed.
func (t *Tmux) Available() bool {
	_, err := exec.LookPath(t.bin)
	return err == nil
}

// run invokes tmux and returns trimmed stdout.
func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command(t.bin, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", t.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError maps tmux stderr onto sentinel errors.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "no server running"),
		strings.Contains(msg, "error connecting to"):
		return ErrNoServer
	case strings.Contains(msg, "duplicate session"):
		return ErrSessionExists
	case strings.Contains(msg, "session not found"),
		strings.Contains(msg, "can't find session"),
		strings.Contains(msg, "no such session"):
		return ErrSessionNotFound
	}
	if s := strings.TrimSpace(stderr); s != "" {
		return fmt.Errorf("tmux %s: %s", args[0], s)
	}
	if err != nil {
		return fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return nil
}

// ListSessions returns the names of all sessions. A missing server
// reads as no sessions.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasSession reports whether the named session exists.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoServer), errors.Is(err, ErrSessionNotFound):
		return false, nil
	}
	return false, err
}

// NewSession creates a detached session. dir sets the starting
// directory when non-empty.
func (t *Tmux) NewSession(name, dir string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	_, err := t.run(args...)
	return err
}

// KillSession terminates the named session.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", name)
	return err
}

// AttachSession attaches the calling terminal to the named session and
// blocks until the user detaches.
func (t *Tmux) AttachSession(name string) error {
	cmd := exec.Command(t.bin, "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// SendKeysLiteral injects text into a session without key-name lookup.
func (t *Tmux) SendKeysLiteral(session, text string) error {
	_, err := t.run("send-keys", "-t", session, "-l", "--", text)
	return err
}

// SendKey sends a named key such as Enter or Escape.
func (t *Tmux) SendKey(session, key string) error {
	_, err := t.run("send-keys", "-t", session, key)
	return err
}

// CapturePane returns the last lines of the session's active pane.
func (t *Tmux) CapturePane(session string, lines int) (string, error) {
	return t.run("capture-pane", "-t", session, "-p", "-S", fmt.Sprintf("-%d", lines))
}

// CurrentSession returns the session name of the enclosing tmux client,
// or "" when not running inside tmux.
func (t *Tmux) CurrentSession() (string, error) {
	if os.Getenv("TMUX") == "" {
		return "", nil
	}
	return t.run("display-message", "-p", "#S")
}

// RelayText types text into a session the way a user would: literal
// keystrokes, a beat, then Enter. Text beyond the relay limit is cut.
func (t *Tmux) RelayText(session, text string) error {
	if err := t.SendKeysLiteral(session, truncate(text, relayTruncateLimit)); err != nil {
		return err
	}
	time.Sleep(t.enterDelay)
	return t.SendKey(session, "Enter")
}

// truncate cuts s at limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
