// Package progress buffers the child's tool-use events between Slack
// flushes so the relay can edit one progress message in place instead
// of posting a line per tool call.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/util"
)

const (
	// maxEvents caps the buffer; older events fall off the front.
	maxEvents = 100

	// flushIntervalMS is the minimum spacing between progress edits.
	flushIntervalMS = 3000

	// formatTail is how many events a formatted update shows.
	formatTail = 8
)

// Event is one buffered tool use. TS is milliseconds since the epoch.
type Event struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	TS     int64  `json:"ts"`
}

// Buffer is the on-disk shape of one session's progress file.
type Buffer struct {
	Events      []Event `json:"events"`
	LastFlushTS int64   `json:"last_flush_ts"`
}

// FlushDue reports whether enough time has passed since the last
// flush for another progress edit.
func (b *Buffer) FlushDue(now time.Time) bool {
	return now.UnixMilli()-b.LastFlushTS >= flushIntervalMS
}

// Store reads and writes per-session progress files in one directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore builds a Store over the given directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Open builds a Store on the default progress directory.
func Open() (*Store, error) {
	dir, err := config.ProgressDir()
	if err != nil {
		return nil, err
	}
	return NewStore(dir), nil
}

func (s *Store) pathFor(sessionID string) string {
	return filepath.Join(s.dir, "progress-"+sessionID+".json")
}

// Read returns the session's buffer. A missing file reads as
// last_flush_ts zero so the first event flushes immediately; an empty
// or corrupt file reads as freshly flushed so a bad write cannot
// trigger a burst of immediate updates.
func (s *Store) Read(sessionID string) (*Buffer, error) {
	data, err := os.ReadFile(s.pathFor(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return &Buffer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress buffer: %w", err)
	}

	var b Buffer
	if len(data) == 0 || json.Unmarshal(data, &b) != nil {
		return &Buffer{LastFlushTS: s.now().UnixMilli()}, nil
	}
	return &b, nil
}

// Append adds one event, stamping it when unstamped, and returns the
// updated buffer.
func (s *Store) Append(sessionID string, ev Event) (*Buffer, error) {
	b, err := s.Read(sessionID)
	if err != nil {
		return nil, err
	}

	if ev.TS == 0 {
		ev.TS = s.now().UnixMilli()
	}
	b.Events = append(b.Events, ev)
	if len(b.Events) > maxEvents {
		b.Events = b.Events[len(b.Events)-maxEvents:]
	}

	if err := s.write(sessionID, b); err != nil {
		return nil, err
	}
	return b, nil
}

// MarkFlushed empties the event list and records the flush time.
func (s *Store) MarkFlushed(sessionID string) error {
	b, err := s.Read(sessionID)
	if err != nil {
		return err
	}
	b.Events = nil
	b.LastFlushTS = s.now().UnixMilli()
	return s.write(sessionID, b)
}

// Clear removes the session's progress file entirely.
func (s *Store) Clear(sessionID string) error {
	err := os.Remove(s.pathFor(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing progress buffer: %w", err)
	}
	return nil
}

func (s *Store) write(sessionID string, b *Buffer) error {
	if err := util.AtomicWriteJSON(s.pathFor(sessionID), b); err != nil {
		return fmt.Errorf("writing progress buffer: %w", err)
	}
	return nil
}

// Format renders events as a bullet list for the progress message:
// consecutive duplicates collapse and only the trailing events show.
// Returns "" when there is nothing to report.
func Format(events []Event) string {
	var deduped []Event
	for _, ev := range events {
		if n := len(deduped); n > 0 && deduped[n-1].Type == ev.Type && deduped[n-1].Detail == ev.Detail {
			continue
		}
		deduped = append(deduped, ev)
	}
	if len(deduped) > formatTail {
		deduped = deduped[len(deduped)-formatTail:]
	}

	var b strings.Builder
	for _, ev := range deduped {
		b.WriteString("• ")
		b.WriteString(ev.Type)
		if ev.Detail != "" {
			b.WriteString(": ")
			b.WriteString(ev.Detail)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
