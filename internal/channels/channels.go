// Package channels maintains the durable session → Slack channel
// registry and the Slack operations that keep it current. Every
// mutating operation re-reads the map file, applies its change, and
// writes the file back atomically, so the relay daemon and concurrent
// hook invocations never clobber each other's fields.
package channels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/util"
)

// pruneAfter is how long inactive entries survive before a write
// drops them from the map.
const pruneAfter = 7 * 24 * time.Hour

// ErrNoChannel reports an operation on a session with no active
// channel mapping.
var ErrNoChannel = errors.New("no active channel for session")

// Entry maps one session to its Slack channel. Timestamps are
// milliseconds since the epoch.
type Entry struct {
	SessionID   string `json:"session_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TmuxSession string `json:"tmux_session,omitempty"`
	Project     string `json:"project,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   int64  `json:"created_at"`
	ArchivedAt  int64  `json:"archived_at,omitempty"`

	// PendingMessageTS is the relayed message currently carrying the
	// typing reaction.
	PendingMessageTS string `json:"pending_message_ts,omitempty"`

	// ProgressMessageTS is the live progress message being edited in
	// place between flushes.
	ProgressMessageTS string `json:"progress_message_ts,omitempty"`
}

type mapFile struct {
	Sessions map[string]*Entry `json:"sessions"`
}

// Map is the channel registry backed by a single JSON file.
type Map struct {
	path     string
	api      SlackAPI
	settings config.SlackSettings
	now      func() time.Time
}

// NewMap builds a Map over the given file.
func NewMap(path string, api SlackAPI, settings config.SlackSettings) *Map {
	return &Map{path: path, api: api, settings: settings, now: time.Now}
}

// Open builds a Map on the default channel-map location.
func Open(api SlackAPI, settings config.SlackSettings) (*Map, error) {
	path, err := config.ChannelMapPath()
	if err != nil {
		return nil, err
	}
	return NewMap(path, api, settings), nil
}

func (m *Map) load() (*mapFile, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return &mapFile{Sessions: map[string]*Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading channel map: %w", err)
	}

	var mf mapFile
	if err := json.Unmarshal(data, &mf); err != nil {
		// A corrupt map starts over rather than wedging the relay;
		// the next write replaces the file.
		return &mapFile{Sessions: map[string]*Entry{}}, nil
	}
	if mf.Sessions == nil {
		mf.Sessions = map[string]*Entry{}
	}
	for id, e := range mf.Sessions {
		e.SessionID = id
	}
	return &mf, nil
}

func (m *Map) save(mf *mapFile) error {
	m.pruneLocked(mf)
	if err := util.AtomicWriteJSON(m.path, mf); err != nil {
		return fmt.Errorf("writing channel map: %w", err)
	}
	return nil
}

func (m *Map) pruneLocked(mf *mapFile) {
	cutoff := m.now().Add(-pruneAfter).UnixMilli()
	for id, e := range mf.Sessions {
		if e.Active {
			continue
		}
		ref := e.ArchivedAt
		if ref == 0 {
			ref = e.CreatedAt
		}
		if ref < cutoff {
			delete(mf.Sessions, id)
		}
	}
}

// Get returns the entry for a session id, or nil when none exists.
func (m *Map) Get(sessionID string) (*Entry, error) {
	mf, err := m.load()
	if err != nil {
		return nil, err
	}
	return mf.Sessions[sessionID], nil
}

// GetByCwd returns the most recently created active entry for a
// working directory, or nil.
func (m *Map) GetByCwd(cwd string) (*Entry, error) {
	mf, err := m.load()
	if err != nil {
		return nil, err
	}
	var best *Entry
	for _, e := range mf.Sessions {
		if e.Active && e.Cwd == cwd && (best == nil || e.CreatedAt > best.CreatedAt) {
			best = e
		}
	}
	return best, nil
}

// GetByChannelID returns the active entry bound to a Slack channel,
// or nil.
func (m *Map) GetByChannelID(channelID string) (*Entry, error) {
	mf, err := m.load()
	if err != nil {
		return nil, err
	}
	for _, e := range mf.Sessions {
		if e.Active && e.ChannelID == channelID {
			return e, nil
		}
	}
	return nil, nil
}

// GetByTmuxSession returns the most recently created active entry for
// a tmux session, or nil.
func (m *Map) GetByTmuxSession(name string) (*Entry, error) {
	mf, err := m.load()
	if err != nil {
		return nil, err
	}
	var best *Entry
	for _, e := range mf.Sessions {
		if e.Active && e.TmuxSession == name && (best == nil || e.CreatedAt > best.CreatedAt) {
			best = e
		}
	}
	return best, nil
}

// Deactivate marks a session's entry inactive. Missing entries are
// not an error.
func (m *Map) Deactivate(sessionID string) error {
	mf, err := m.load()
	if err != nil {
		return err
	}
	e := mf.Sessions[sessionID]
	if e == nil || !e.Active {
		return nil
	}
	e.Active = false
	e.ArchivedAt = m.now().UnixMilli()
	return m.save(mf)
}

// ReuseForTmux remaps the active channel for a tmux session to a new
// session id: the old entry is deactivated and a fresh entry pointing
// at the same channel is keyed by sessionID. The typing reaction
// carries over so it can still be cleared; the progress message does
// not. Returns nil when the tmux session has no active entry.
func (m *Map) ReuseForTmux(sessionID, tmuxSession string) (*Entry, error) {
	mf, err := m.load()
	if err != nil {
		return nil, err
	}

	var old *Entry
	for _, e := range mf.Sessions {
		if e.Active && e.TmuxSession == tmuxSession && (old == nil || e.CreatedAt > old.CreatedAt) {
			old = e
		}
	}
	if old == nil {
		return nil, nil
	}
	if old.SessionID == sessionID {
		return old, nil
	}

	now := m.now().UnixMilli()
	fresh := &Entry{
		SessionID:        sessionID,
		ChannelID:        old.ChannelID,
		ChannelName:      old.ChannelName,
		TmuxSession:      old.TmuxSession,
		Project:          old.Project,
		Cwd:              old.Cwd,
		Active:           true,
		CreatedAt:        now,
		PendingMessageTS: old.PendingMessageTS,
	}
	old.Active = false
	old.ArchivedAt = now
	mf.Sessions[sessionID] = fresh

	if err := m.save(mf); err != nil {
		return nil, err
	}
	return fresh, nil
}

// DeactivateOthersForTmux retires every active entry for a tmux
// session except the one keyed by keepSessionID. The swap loop calls
// this after a resume changes the session id out from under the map.
func (m *Map) DeactivateOthersForTmux(tmuxSession, keepSessionID string) error {
	mf, err := m.load()
	if err != nil {
		return err
	}

	now := m.now().UnixMilli()
	changed := false
	for id, e := range mf.Sessions {
		if e.Active && e.TmuxSession == tmuxSession && id != keepSessionID {
			e.Active = false
			e.ArchivedAt = now
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.save(mf)
}
