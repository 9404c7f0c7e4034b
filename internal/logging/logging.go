// Package logging wires charmbracelet/log to a size-capped file for
// the relay daemon and hook entrypoints. CLI-facing output goes through
// internal/style instead; this package is for the paths nobody watches.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// maxLogBytes caps the log file before rotation. One rotated backup is
// kept; older history is discarded.
const maxLogBytes = 5 << 20

// RotatingWriter appends to a log file and rotates it to a single
// "<path>.1" backup once it reaches the size cap. Safe for use from
// multiple goroutines.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

// NewRotatingWriter opens (or creates) the log file at path.
func NewRotatingWriter(path string) (*RotatingWriter, error) {
	w := &RotatingWriter{path: path, maxBytes: maxLogBytes}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when the write would cross the cap.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate moves the current file to <path>.1, replacing any previous
// backup, and starts a fresh file.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return w.open()
}

// Close releases the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// New returns a structured logger writing to w.
func New(w io.Writer, prefix string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          prefix,
	})
	if os.Getenv("CCSWAP_DEBUG") != "" {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// NewFile returns a logger appending to the rotating file at path. The
// caller owns the returned writer and closes it on shutdown.
func NewFile(path, prefix string) (*log.Logger, *RotatingWriter, error) {
	w, err := NewRotatingWriter(path)
	if err != nil {
		return nil, nil, err
	}
	return New(w, prefix), w, nil
}
