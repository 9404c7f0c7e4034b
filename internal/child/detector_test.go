package child

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestDetector_Sentinel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		hit  bool
		hint string
	}{
		{"limit reached", "Limit reached · resets 3pm\n", true, "3pm"},
		{"hit your limit", "You've hit your limit · resets 10pm (Asia/Calcutta)\n", true, "10pm (Asia/Calcutta)"},
		{"bullet separator", "Limit reached • resets 6am\n", true, "6am"},
		{"case insensitive", "LIMIT REACHED · RESETS 3PM\n", true, "3PM"},
		{"crlf line ending", "Limit reached · resets Jul 28, 2:00 PM\r\n", true, "Jul 28, 2:00 PM"},
		{"mid stream", "some output\nLimit reached · resets tomorrow\nmore output\n", true, "tomorrow"},
		{"no trailing newline", "Limit reached · resets 3pm", true, "3pm"},
		{"ansi wrapped", "\x1b[1mLimit reached\x1b[0m · resets \x1b[33m3pm\x1b[0m\n", true, "3pm"},
		{"osc title write", "\x1b]0;claude\x07Limit reached · resets 4pm\n", true, "4pm"},
		{"plain output", "Compiling...\nAll tests passed\n", false, ""},
		{"missing separator", "Limit reached resets 3pm\n", false, ""},
		{"unrelated resets", "the connection resets frequently\n", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &detector{}
			hit, hint := d.Feed([]byte(tt.in))
			if hit != tt.hit {
				t.Fatalf("Feed hit = %v, want %v", hit, tt.hit)
			}
			if hint != tt.hint {
				t.Errorf("Feed hint = %q, want %q", hint, tt.hint)
			}
		})
	}
}

func TestDetector_SentinelSplitAcrossChunks(t *testing.T) {
	d := &detector{}

	if hit, _ := d.Feed([]byte("You've hit your li")); hit {
		t.Fatal("partial banner reported as hit")
	}
	hit, hint := d.Feed([]byte("mit · resets 9am\n"))
	if !hit {
		t.Fatal("banner completed across chunks not detected")
	}
	if hint != "9am" {
		t.Errorf("hint = %q, want %q", hint, "9am")
	}
}

func TestDetector_BufferTrimKeepsTail(t *testing.T) {
	d := &detector{}

	noise := strings.Repeat("x", 3000)
	d.Feed([]byte(noise))
	d.Feed([]byte(noise))

	if len(d.buf) > detectBufferCap {
		t.Errorf("buffer length = %d, want <= %d", len(d.buf), detectBufferCap)
	}

	hit, hint := d.Feed([]byte("Limit reached · resets 5pm\n"))
	if !hit || hint != "5pm" {
		t.Errorf("Feed after trim = (%v, %q), want (true, %q)", hit, hint, "5pm")
	}
}

func TestDetector_SessionIDCapture(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"session id colon", "session id: 6ba7b810-9dad-11d1-80b4-00c04fd430c8\n", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"resuming uppercase", "Resuming session: 6BA7B810-9DAD-11D1-80B4-00C04FD430C8\n", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"underscore form", "session_id 123e4567-e89b-12d3-a456-426614174000\n", "123e4567-e89b-12d3-a456-426614174000"},
		{"no id", "nothing to see\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &detector{}
			d.Feed([]byte(tt.in))
			if got := d.SessionID(); got != tt.want {
				t.Errorf("SessionID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetector_FirstSessionIDWins(t *testing.T) {
	d := &detector{}
	d.Feed([]byte("session id: 6ba7b810-9dad-11d1-80b4-00c04fd430c8\n"))
	d.Feed([]byte("session id: 123e4567-e89b-12d3-a456-426614174000\n"))

	if got := d.SessionID(); got != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("SessionID = %q, want the first id seen", got)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
	if got := exitCode(errors.New("wait failed")); got != 1 {
		t.Errorf("exitCode(non-exit error) = %d, want 1", got)
	}

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}
	cmd := exec.Command("sh", "-c", "exit 7")
	if got := exitCode(cmd.Run()); got != 7 {
		t.Errorf("exitCode(exit 7) = %d, want 7", got)
	}
}
