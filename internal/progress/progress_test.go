package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestReadMissingFile(t *testing.T) {
	s := newTestStore(t)
	b, err := s.Read("sess")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.LastFlushTS != 0 {
		t.Errorf("last_flush_ts = %d, want 0 so the first event flushes", b.LastFlushTS)
	}
	if len(b.Events) != 0 {
		t.Errorf("events = %v, want none", b.Events)
	}
}

func TestReadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	for _, content := range []string{"", "{not json"} {
		path := s.pathFor("sess")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		b, err := s.Read("sess")
		if err != nil {
			t.Fatalf("Read(%q): %v", content, err)
		}
		if b.LastFlushTS != now.UnixMilli() {
			t.Errorf("Read(%q): last_flush_ts = %d, want %d so no immediate flush fires",
				content, b.LastFlushTS, now.UnixMilli())
		}
	}
}

func TestAppendStampsAndPersists(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	b, err := s.Append("sess", Event{Type: "Bash", Detail: "git status"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(b.Events) != 1 || b.Events[0].TS != now.UnixMilli() {
		t.Errorf("appended events = %+v", b.Events)
	}

	reread, err := s.Read("sess")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(reread.Events) != 1 || reread.Events[0].Type != "Bash" || reread.Events[0].Detail != "git status" {
		t.Errorf("persisted events = %+v", reread.Events)
	}
}

func TestAppendCapsAtLimit(t *testing.T) {
	s := newTestStore(t)

	var last *Buffer
	for i := 0; i < maxEvents+5; i++ {
		var err error
		last, err = s.Append("sess", Event{Type: fmt.Sprintf("tool-%d", i)})
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	if len(last.Events) != maxEvents {
		t.Fatalf("events = %d, want cap %d", len(last.Events), maxEvents)
	}
	if got, want := last.Events[0].Type, "tool-5"; got != want {
		t.Errorf("oldest kept event = %q, want %q", got, want)
	}
}

func TestFlushDue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		lastTS int64
		want   bool
	}{
		{"never flushed", 0, true},
		{"just flushed", now.UnixMilli(), false},
		{"one ms short", now.UnixMilli() - (flushIntervalMS - 1), false},
		{"exactly at interval", now.UnixMilli() - flushIntervalMS, true},
		{"well past", now.UnixMilli() - 10*flushIntervalMS, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Buffer{LastFlushTS: tt.lastTS}
			if got := b.FlushDue(now); got != tt.want {
				t.Errorf("FlushDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkFlushed(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append("sess", Event{Type: "Read"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	now := time.Now().Add(time.Minute)
	s.now = func() time.Time { return now }
	if err := s.MarkFlushed("sess"); err != nil {
		t.Fatalf("MarkFlushed: %v", err)
	}

	b, err := s.Read("sess")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b.Events) != 0 {
		t.Errorf("events after flush = %+v, want none", b.Events)
	}
	if b.LastFlushTS != now.UnixMilli() {
		t.Errorf("last_flush_ts = %d, want %d", b.LastFlushTS, now.UnixMilli())
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append("sess", Event{Type: "Read"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Clear("sess"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.dir, "progress-sess.json")); !os.IsNotExist(err) {
		t.Errorf("progress file still present: %v", err)
	}
	if err := s.Clear("sess"); err != nil {
		t.Errorf("Clear on missing file: %v", err)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{"empty", nil, ""},
		{
			"single with detail",
			[]Event{{Type: "Bash", Detail: "go test ./..."}},
			"• Bash: go test ./...",
		},
		{
			"single without detail",
			[]Event{{Type: "Read"}},
			"• Read",
		},
		{
			"consecutive duplicates collapse",
			[]Event{{Type: "Read", Detail: "a.go"}, {Type: "Read", Detail: "a.go"}, {Type: "Edit", Detail: "a.go"}},
			"• Read: a.go\n• Edit: a.go",
		},
		{
			"same type different detail kept",
			[]Event{{Type: "Read", Detail: "a.go"}, {Type: "Read", Detail: "b.go"}},
			"• Read: a.go\n• Read: b.go",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.events); got != tt.want {
				t.Errorf("Format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatKeepsTail(t *testing.T) {
	var events []Event
	for i := 0; i < formatTail+4; i++ {
		events = append(events, Event{Type: fmt.Sprintf("tool-%d", i)})
	}

	got := Format(events)
	lines := 1
	for _, r := range got {
		if r == '\n' {
			lines++
		}
	}
	if lines != formatTail {
		t.Errorf("formatted %d lines, want %d", lines, formatTail)
	}
	if want := "• tool-4"; got[:len(want)] != want {
		t.Errorf("first line = %q, want it to start with %q", got, want)
	}
}
