// Package relay runs the Slack socket-mode daemon: inbound channel
// messages are typed into the tmux session bound to that channel, and
// a small set of built-in commands inspect or control the session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ccswap/ccswap/internal/channels"
	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/tmux"
)

const (
	// statusPaneLines is how much terminal history !status captures.
	statusPaneLines = 100

	// statusLimit keeps the fenced !status output inside one Slack
	// section block.
	statusLimit = 3900
)

const helpText = "`!stop` interrupts the session (Ctrl-C). `!status` shows the last terminal lines. " +
	"`!archive` archives this channel. Anything else is typed into the session."

// leading user mentions, as in app_mention payloads
var mentionRE = regexp.MustCompile(`^(?:\s*<@[UW][A-Z0-9]+>[\s:,]*)+`)

// TmuxClient is the tmux surface the relay drives. *tmux.Tmux
// satisfies it.
type TmuxClient interface {
	HasSession(name string) (bool, error)
	RelayText(session, text string) error
	SendKey(session, key string) error
	CapturePane(session string, lines int) (string, error)
}

// ChannelMap is the slice of the channel registry the relay uses.
// *channels.Map satisfies it.
type ChannelMap interface {
	GetByChannelID(channelID string) (*channels.Entry, error)
	SetTyping(channelID, msgTS string) error
	Post(sessionID, text string, blocks ...slack.Block) (string, error)
	Archive(channelID string) error
}

// poster posts outside the channel map, for DMs and the dedicated
// channel.
type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Bot is the socket-mode relay daemon.
type Bot struct {
	api      poster
	socket   *socketmode.Client
	channels ChannelMap
	tmux     TmuxClient
	settings config.SlackSettings
	log      *log.Logger
}

// New validates the Slack configuration and assembles the daemon. No
// network traffic happens until Run.
func New(settings config.SlackSettings, logger *log.Logger, debug bool) (*Bot, error) {
	if settings.BotToken == "" {
		return nil, errors.New("bot token is required")
	}
	if !strings.HasPrefix(settings.BotToken, "xoxb-") {
		return nil, errors.New("bot token must start with xoxb-")
	}
	if settings.AppToken == "" {
		return nil, errors.New("app token is required for socket mode")
	}
	if !strings.HasPrefix(settings.AppToken, "xapp-") {
		return nil, errors.New("app token must start with xapp-")
	}

	client := slack.New(
		settings.BotToken,
		slack.OptionDebug(debug),
		slack.OptionAppLevelToken(settings.AppToken),
	)
	socket := socketmode.New(client, socketmode.OptionDebug(debug))

	api := channels.Throttle(client)
	cm, err := channels.Open(api, settings)
	if err != nil {
		return nil, err
	}

	return &Bot{
		api:      api,
		socket:   socket,
		channels: cm,
		tmux:     tmux.NewTmux(),
		settings: settings,
		log:      logger,
	}, nil
}

// Run connects to Slack and processes events until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	go func() {
		for evt := range b.socket.Events {
			b.handleEvent(evt)
		}
	}()
	return b.socket.RunContext(ctx)
}

func (b *Bot) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.log.Info("connecting to Slack")
	case socketmode.EventTypeConnected:
		b.log.Info("connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.log.Error("socket-mode connection error", "error", evt.Data)
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			b.socket.Ack(*evt.Request)
		}
		b.handleEventsAPI(apiEvent)
	}
}

func (b *Bot) handleEventsAPI(evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := evt.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Bot echoes and message edits never relay.
		if ev.BotID != "" || ev.SubType != "" {
			return
		}
		b.handleInbound(ev.Channel, ev.ChannelType, ev.User, ev.Text, ev.TimeStamp)
	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.BotID != "" {
			return
		}
		b.handleInbound(ev.Channel, "channel", ev.User, ev.Text, ev.TimeStamp)
	}
}

// handleInbound routes one human message: session channels get the
// built-ins and the relay, DMs and the dedicated channel fall through
// to the default tmux session.
func (b *Bot) handleInbound(channelID, channelType, user, text, ts string) {
	if !b.userAllowed(user) {
		b.log.Warn("message from unlisted user ignored", "user", user, "channel", channelID)
		return
	}
	text = strings.TrimSpace(mentionRE.ReplaceAllString(text, ""))
	if text == "" {
		return
	}

	entry, err := b.channels.GetByChannelID(channelID)
	if err != nil {
		b.log.Error("channel lookup failed", "channel", channelID, "error", err)
		return
	}
	if entry != nil {
		if b.handleBuiltin(entry, channelID, text) {
			return
		}
		b.relayToTmux(entry.SessionID, entry.TmuxSession, channelID, text, ts)
		return
	}

	if (channelType == "im" || channelID == b.settings.DedicatedChannel) && b.settings.DefaultTmuxSession != "" {
		b.relayToTmux("", b.settings.DefaultTmuxSession, channelID, text, ts)
	}
}

// handleBuiltin serves the ! commands. Unrecognized text returns
// false and relays as regular input.
func (b *Bot) handleBuiltin(entry *channels.Entry, channelID, text string) bool {
	switch text {
	case "!help":
		b.post(entry.SessionID, channelID, helpText)

	case "!stop":
		if err := b.tmux.SendKey(entry.TmuxSession, "C-c"); err != nil {
			b.post(entry.SessionID, channelID, ":warning: Could not send the interrupt: "+err.Error())
			return true
		}
		b.post(entry.SessionID, channelID, ":octagonal_sign: Sent an interrupt to the session.")

	case "!status":
		out, err := b.tmux.CapturePane(entry.TmuxSession, statusPaneLines)
		if err != nil {
			b.post(entry.SessionID, channelID, ":warning: Could not capture the terminal: "+err.Error())
			return true
		}
		out = tailTruncate(strings.TrimSpace(out), statusLimit)
		if out == "" {
			out = "(the terminal is empty)"
		}
		b.post(entry.SessionID, channelID, "```\n"+out+"\n```")

	case "!archive":
		b.post(entry.SessionID, channelID, "Archiving this channel.")
		if err := b.channels.Archive(channelID); err != nil {
			b.log.Error("archiving channel", "channel", channelID, "error", err)
		}

	default:
		return false
	}
	return true
}

func (b *Bot) relayToTmux(sessionID, tmuxSession, channelID, text, ts string) {
	if tmuxSession == "" {
		b.post(sessionID, channelID, ":warning: No tmux session is bound to this channel.")
		return
	}
	alive, err := b.tmux.HasSession(tmuxSession)
	if err != nil {
		b.log.Error("tmux lookup failed", "session", tmuxSession, "error", err)
		return
	}
	if !alive {
		b.post(sessionID, channelID, fmt.Sprintf(":warning: tmux session `%s` is gone.", tmuxSession))
		return
	}

	if sessionID != "" {
		if err := b.channels.SetTyping(channelID, ts); err != nil {
			b.log.Warn("setting typing reaction", "error", err)
		}
	}
	if err := b.tmux.RelayText(tmuxSession, text); err != nil {
		b.log.Error("relaying text", "session", tmuxSession, "error", err)
		b.post(sessionID, channelID, ":warning: Could not deliver the message to the session.")
	}
}

func (b *Bot) post(sessionID, channelID, text string) {
	var err error
	if sessionID != "" {
		_, err = b.channels.Post(sessionID, text)
	} else {
		_, _, err = b.api.PostMessage(channelID, slack.MsgOptionText(text, false))
	}
	if err != nil && !errors.Is(err, channels.ErrNoChannel) {
		b.log.Warn("posting to Slack", "channel", channelID, "error", err)
	}
}

func (b *Bot) userAllowed(user string) bool {
	if len(b.settings.AllowedUsers) == 0 {
		return true
	}
	for _, u := range b.settings.AllowedUsers {
		if u == user {
			return true
		}
	}
	return false
}

// tailTruncate keeps the end of s, where the freshest terminal output
// lives.
func tailTruncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[len(runes)-limit:])
}
