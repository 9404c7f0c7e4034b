// Package hook turns the child's lifecycle events into Slack traffic:
// channel setup on session start, progress edits during tool use, and
// transcript posts when the child pauses for input or finishes a turn.
//
// Each invocation reads exactly one JSON context from stdin. Failures
// are logged and swallowed; the child never sees a hook error.
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/slack-go/slack"

	"github.com/ccswap/ccswap/internal/channels"
	"github.com/ccswap/ccswap/internal/progress"
	"github.com/ccswap/ccswap/internal/tmux"
	"github.com/ccswap/ccswap/internal/transcript"
)

// Hook event names as delivered in the stdin context.
const (
	EventSessionStart    = "session-start"
	EventToolUse         = "tool-use"
	EventWaitingForInput = "waiting-for-input"
	EventCompleted       = "completed"
	EventAccountSwitch   = "account-switch"
	EventSleepUntilReset = "sleep-until-reset"
	EventSleepWake       = "sleep-wake"
)

const (
	// postLimit keeps a transcript post inside one Slack message;
	// anything longer continues in a thread.
	postLimit = 39000

	// detailLimit caps the argument excerpt shown per progress bullet.
	detailLimit = 120
)

// Context is the JSON document one hook invocation reads from stdin.
// Account and ResetsAt accompany only the swap notices.
type Context struct {
	HookEventName  string          `json:"hook_event_name"`
	SessionID      string          `json:"session_id"`
	Cwd            string          `json:"cwd"`
	TranscriptPath string          `json:"transcript_path"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	Account        string          `json:"account,omitempty"`
	ResetsAt       string          `json:"resets_at,omitempty"`
}

// ChannelMap is the slice of the channel registry the hook drives.
// *channels.Map satisfies it.
type ChannelMap interface {
	GetOrCreate(sessionID, project, cwd, tmuxSession string) (*channels.Entry, error)
	ReuseForTmux(sessionID, tmuxSession string) (*channels.Entry, error)
	Post(sessionID, text string, blocks ...slack.Block) (string, error)
	PostThread(sessionID, parentTS, text string) error
	UpdateProgress(sessionID, text string) error
	ClearProgress(sessionID string) error
	ClearTyping(sessionID string) error
}

// Handler dispatches hook events.
type Handler struct {
	channels ChannelMap
	progress *progress.Store
	log      *log.Logger

	// currentTmux names the tmux session the hook runs inside, or ""
	// outside tmux.
	currentTmux func() string

	now func() time.Time
}

// NewHandler wires a Handler to the real tmux client.
func NewHandler(ch ChannelMap, store *progress.Store, logger *log.Logger) *Handler {
	tm := tmux.NewTmux()
	return &Handler{
		channels: ch,
		progress: store,
		log:      logger,
		currentTmux: func() string {
			name, err := tm.CurrentSession()
			if err != nil {
				return ""
			}
			return name
		},
		now: time.Now,
	}
}

// Run reads one hook context from r and handles it. Errors are logged
// rather than returned. A session with no channel mapping is the
// normal case when the relay is not in use, so ErrNoChannel stays
// silent.
func (h *Handler) Run(r io.Reader) {
	var ctx Context
	if err := json.NewDecoder(r).Decode(&ctx); err != nil {
		h.log.Error("undecodable hook context", "error", err)
		return
	}
	if err := h.Handle(ctx); err != nil && !errors.Is(err, channels.ErrNoChannel) {
		h.log.Error("hook event failed", "event", ctx.HookEventName, "error", err)
	}
}

// Handle routes one event. Unknown events and contexts without a
// session id are ignored.
func (h *Handler) Handle(ctx Context) error {
	if ctx.SessionID == "" {
		return nil
	}
	switch ctx.HookEventName {
	case EventSessionStart:
		return h.handleSessionStart(ctx)
	case EventToolUse:
		return h.handleToolUse(ctx)
	case EventWaitingForInput:
		return h.handleWaitingForInput(ctx)
	case EventCompleted:
		return h.handleCompleted(ctx)
	case EventAccountSwitch, EventSleepUntilReset, EventSleepWake:
		return h.handleNotice(ctx)
	default:
		return nil
	}
}

func (h *Handler) handleSessionStart(ctx Context) error {
	tmuxName := h.currentTmux()
	if tmuxName != "" {
		e, err := h.channels.ReuseForTmux(ctx.SessionID, tmuxName)
		if err != nil {
			return err
		}
		if e != nil {
			return nil
		}
	}
	_, err := h.channels.GetOrCreate(ctx.SessionID, filepath.Base(ctx.Cwd), ctx.Cwd, tmuxName)
	return err
}

func (h *Handler) handleToolUse(ctx Context) error {
	ev := progress.Event{Type: ctx.ToolName, Detail: toolDetail(ctx.ToolInput)}
	if ev.Type == "" {
		ev.Type = "tool"
	}

	buf, err := h.progress.Append(ctx.SessionID, ev)
	if err != nil {
		return err
	}
	if !buf.FlushDue(h.now()) {
		return nil
	}
	text := progress.Format(buf.Events)
	if text == "" {
		return nil
	}
	if err := h.channels.UpdateProgress(ctx.SessionID, text); err != nil {
		return err
	}
	return h.progress.MarkFlushed(ctx.SessionID)
}

func (h *Handler) handleWaitingForInput(ctx Context) error {
	if !pausesForUser(ctx.ToolName) {
		return nil
	}
	if err := h.channels.ClearProgress(ctx.SessionID); err != nil {
		h.log.Warn("clearing progress", "error", err)
	}

	text, err := transcript.LastAssistantText(ctx.TranscriptPath)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	body, _ := truncateRunes(transcript.ToMrkdwn(text), postLimit)
	_, err = h.channels.Post(ctx.SessionID, body)
	return err
}

func (h *Handler) handleCompleted(ctx Context) error {
	if err := h.channels.ClearTyping(ctx.SessionID); err != nil {
		h.log.Warn("clearing typing reaction", "error", err)
	}
	if err := h.channels.ClearProgress(ctx.SessionID); err != nil {
		h.log.Warn("clearing progress", "error", err)
	}

	turn, err := transcript.LastTurn(ctx.TranscriptPath)
	if err != nil {
		return err
	}
	if turn == nil {
		return nil
	}

	full := transcript.ToMrkdwn(turn.FinalText)
	if full == "" {
		if len(turn.ToolUses) == 0 {
			return nil
		}
		full = "Done. Tools used: " + strings.Join(turn.ToolUses, ", ")
	}

	body, truncated := truncateRunes(full, postLimit)
	if truncated {
		body += "\n_(full text in thread)_"
	}
	ts, err := h.channels.Post(ctx.SessionID, body)
	if err != nil {
		return err
	}
	if truncated && ts != "" {
		return h.channels.PostThread(ctx.SessionID, ts, full)
	}
	return nil
}

func (h *Handler) handleNotice(ctx Context) error {
	var text string
	switch ctx.HookEventName {
	case EventAccountSwitch:
		text = fmt.Sprintf(":arrows_counterclockwise: Switched to account `%s`; the session continues.", ctx.Account)
	case EventSleepUntilReset:
		text = fmt.Sprintf(":zzz: Every account is rate limited. Sleeping until %s.", ctx.ResetsAt)
	case EventSleepWake:
		text = ":sunrise: Rate limit reset. Resuming the session."
	}
	_, err := h.channels.Post(ctx.SessionID, text)
	return err
}

// pausesForUser reports whether a tool invocation means the child is
// blocked on a human answer rather than still working.
func pausesForUser(tool string) bool {
	switch tool {
	case "AskUserQuestion", "ExitPlanMode":
		return true
	}
	return false
}

// toolDetail pulls a short human-readable argument out of a
// tool_input document: the command for shell tools, the path for
// file tools.
func toolDetail(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"command", "file_path", "path", "pattern", "url", "description", "prompt"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return clampDetail(v)
		}
	}
	return ""
}

func clampDetail(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if utf8.RuneCountInString(s) <= detailLimit {
		return s
	}
	return string([]rune(s)[:detailLimit]) + "…"
}

func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	return string([]rune(s)[:limit]), true
}
