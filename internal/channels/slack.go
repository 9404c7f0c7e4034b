package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/ccswap/ccswap/internal/util"
)

const (
	// postChunkLimit splits long posts under Slack's 40,000-character
	// message body cap, with headroom for continuation markers.
	postChunkLimit = 39500

	// typingReaction marks a relayed message as being worked on.
	typingReaction = "eyes"

	// shortIDLen trims session UUIDs for channel names and topics.
	shortIDLen = 8
)

// SlackAPI is the subset of the Slack Web API the channel map uses.
// *slack.Client satisfies it; tests substitute a fake.
type SlackAPI interface {
	CreateConversation(params slack.CreateConversationParams) (*slack.Channel, error)
	SetTopicOfConversation(channelID, topic string) (*slack.Channel, error)
	InviteUsersToConversation(channelID string, users ...string) (*slack.Channel, error)
	ArchiveConversation(channelID string) error
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, timestamp string) (string, string, error)
	AddReaction(name string, item slack.ItemRef) error
	RemoveReaction(name string, item slack.ItemRef) error
	GetConversationHistory(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// Throttle wraps api so message traffic respects Slack's posting rate
// limit: one message per second with a small burst.
func Throttle(api SlackAPI) SlackAPI {
	return &throttled{SlackAPI: api, lim: rate.NewLimiter(rate.Every(time.Second), 3)}
}

type throttled struct {
	SlackAPI
	lim *rate.Limiter
}

func (t *throttled) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	_ = t.lim.Wait(context.Background())
	return t.SlackAPI.PostMessage(channelID, options...)
}

func (t *throttled) UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	_ = t.lim.Wait(context.Background())
	return t.SlackAPI.UpdateMessage(channelID, timestamp, options...)
}

func (t *throttled) DeleteMessage(channelID, timestamp string) (string, string, error) {
	_ = t.lim.Wait(context.Background())
	return t.SlackAPI.DeleteMessage(channelID, timestamp)
}

// isChannelGone reports a Slack error meaning the channel no longer
// accepts traffic and the mapping should be retired.
func isChannelGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "channel_not_found") || strings.Contains(msg, "is_archived")
}

// GetOrCreate returns the active entry for a session, creating the
// Slack channel and recording the mapping when none exists. An entry
// whose channel turns out to be archived or deleted is retired and
// replaced.
func (m *Map) GetOrCreate(sessionID, project, cwd, tmuxSession string) (*Entry, error) {
	mf, err := m.load()
	if err != nil {
		return nil, err
	}

	if e := mf.Sessions[sessionID]; e != nil && e.Active {
		if m.channelAlive(e.ChannelID) {
			return e, nil
		}
		e.Active = false
		e.ArchivedAt = m.now().UnixMilli()
	}

	ch, err := m.createChannel(project, sessionID)
	if err != nil {
		return nil, err
	}

	short := shortID(sessionID)
	topic := cwd
	if project != "" {
		topic = fmt.Sprintf("%s · %s", project, cwd)
	}
	if _, err := m.api.SetTopicOfConversation(ch.ID, topic); err != nil {
		return nil, fmt.Errorf("setting topic on %s: %w", ch.Name, err)
	}
	if m.settings.InviteUser != "" {
		// Invite failures never block the relay; the channel still
		// works for anyone who joins it.
		_, _ = m.api.InviteUsersToConversation(ch.ID, m.settings.InviteUser)
	}

	welcome := fmt.Sprintf(
		"Relaying session `%s` in `%s`. Reply here to send input. Commands: `!stop` `!status` `!archive` `!help`",
		short, cwd,
	)
	if _, _, err := m.api.PostMessage(ch.ID, slack.MsgOptionText(welcome, false)); err != nil {
		return nil, fmt.Errorf("posting welcome to %s: %w", ch.Name, err)
	}

	entry := &Entry{
		SessionID:   sessionID,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		TmuxSession: tmuxSession,
		Project:     project,
		Cwd:         cwd,
		Active:      true,
		CreatedAt:   m.now().UnixMilli(),
	}
	mf.Sessions[sessionID] = entry
	if err := m.save(mf); err != nil {
		return nil, err
	}
	return entry, nil
}

// channelAlive probes a channel with a one-message history read.
// Transient failures count as alive so a network blip does not churn
// channels.
func (m *Map) channelAlive(channelID string) bool {
	_, err := m.api.GetConversationHistory(&slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     1,
	})
	return !isChannelGone(err)
}

func (m *Map) createChannel(project, sessionID string) (*slack.Channel, error) {
	name := m.channelName(project, sessionID)
	ch, err := m.api.CreateConversation(slack.CreateConversationParams{ChannelName: name})
	if err != nil && strings.Contains(err.Error(), "name_taken") {
		name = name + "-" + strings.ToLower(uuid.NewString()[:4])
		ch, err = m.api.CreateConversation(slack.CreateConversationParams{ChannelName: name})
	}
	if err != nil {
		return nil, fmt.Errorf("creating channel %s: %w", name, err)
	}
	return ch, nil
}

func (m *Map) channelName(project, sessionID string) string {
	return fmt.Sprintf("%s-%s-%s", m.settings.ChannelPrefix, util.ChannelSlug(project), shortID(sessionID))
}

func shortID(sessionID string) string {
	if len(sessionID) > shortIDLen {
		return sessionID[:shortIDLen]
	}
	return sessionID
}

// Post sends text to the session's channel, splitting oversized
// messages at the nearest newline, and returns the timestamp of the
// first message for threading. Blocks, when given, ride on the first
// chunk. A gone channel deactivates the mapping.
func (m *Map) Post(sessionID, text string, blocks ...slack.Block) (string, error) {
	mf, err := m.load()
	if err != nil {
		return "", err
	}
	e := mf.Sessions[sessionID]
	if e == nil || !e.Active {
		return "", ErrNoChannel
	}

	var firstTS string
	for i, chunk := range chunkText(text, postChunkLimit) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if i == 0 && len(blocks) > 0 {
			opts = append(opts, slack.MsgOptionBlocks(blocks...))
		}
		_, ts, err := m.api.PostMessage(e.ChannelID, opts...)
		if err != nil {
			if isChannelGone(err) {
				e.Active = false
				e.ArchivedAt = m.now().UnixMilli()
				_ = m.save(mf)
			}
			return firstTS, fmt.Errorf("posting to %s: %w", e.ChannelName, err)
		}
		if i == 0 {
			firstTS = ts
		}
	}
	return firstTS, nil
}

// PostThread sends text as a reply under parentTS in the session's
// channel.
func (m *Map) PostThread(sessionID, parentTS, text string) error {
	mf, err := m.load()
	if err != nil {
		return err
	}
	e := mf.Sessions[sessionID]
	if e == nil || !e.Active {
		return ErrNoChannel
	}

	for _, chunk := range chunkText(text, postChunkLimit) {
		_, _, err := m.api.PostMessage(e.ChannelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionTS(parentTS))
		if err != nil {
			return fmt.Errorf("posting thread reply to %s: %w", e.ChannelName, err)
		}
	}
	return nil
}

// SetTyping adds the typing reaction to a relayed message and records
// its timestamp so ClearTyping can find it later.
func (m *Map) SetTyping(channelID, msgTS string) error {
	err := m.api.AddReaction(typingReaction, slack.NewRefToMessage(channelID, msgTS))
	if err != nil && !strings.Contains(err.Error(), "already_reacted") {
		return fmt.Errorf("adding typing reaction: %w", err)
	}

	mf, err := m.load()
	if err != nil {
		return err
	}
	changed := false
	for _, e := range mf.Sessions {
		if e.Active && e.ChannelID == channelID {
			e.PendingMessageTS = msgTS
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.save(mf)
}

// ClearTyping removes the typing reaction recorded for a session. The
// timestamp is cleared even when the reaction removal fails.
func (m *Map) ClearTyping(sessionID string) error {
	mf, err := m.load()
	if err != nil {
		return err
	}
	e := mf.Sessions[sessionID]
	if e == nil || e.PendingMessageTS == "" {
		return nil
	}

	_ = m.api.RemoveReaction(typingReaction, slack.NewRefToMessage(e.ChannelID, e.PendingMessageTS))
	e.PendingMessageTS = ""
	return m.save(mf)
}

// UpdateProgress edits the session's progress message in place,
// posting a fresh one the first time or when the old message was
// deleted out from under us.
func (m *Map) UpdateProgress(sessionID, text string) error {
	mf, err := m.load()
	if err != nil {
		return err
	}
	e := mf.Sessions[sessionID]
	if e == nil || !e.Active {
		return ErrNoChannel
	}

	if e.ProgressMessageTS != "" {
		_, _, _, err := m.api.UpdateMessage(e.ChannelID, e.ProgressMessageTS, slack.MsgOptionText(text, false))
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "message_not_found") {
			return fmt.Errorf("updating progress message: %w", err)
		}
	}

	_, ts, err := m.api.PostMessage(e.ChannelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting progress message: %w", err)
	}
	e.ProgressMessageTS = ts
	return m.save(mf)
}

// ClearProgress deletes the session's progress message. The map is
// re-read after the delete so that only the progress field changes;
// a concurrent hook may have touched other fields in between.
func (m *Map) ClearProgress(sessionID string) error {
	mf, err := m.load()
	if err != nil {
		return err
	}
	e := mf.Sessions[sessionID]
	if e == nil || e.ProgressMessageTS == "" {
		return nil
	}
	_, _, _ = m.api.DeleteMessage(e.ChannelID, e.ProgressMessageTS)

	mf, err = m.load()
	if err != nil {
		return err
	}
	if e := mf.Sessions[sessionID]; e != nil {
		e.ProgressMessageTS = ""
	}
	return m.save(mf)
}

// Archive archives the Slack channel and retires every entry bound
// to it.
func (m *Map) Archive(channelID string) error {
	err := m.api.ArchiveConversation(channelID)
	if err != nil && !strings.Contains(err.Error(), "already_archived") {
		return fmt.Errorf("archiving channel: %w", err)
	}

	mf, err := m.load()
	if err != nil {
		return err
	}
	now := m.now().UnixMilli()
	for _, e := range mf.Sessions {
		if e.Active && e.ChannelID == channelID {
			e.Active = false
			e.ArchivedAt = now
		}
	}
	return m.save(mf)
}

// chunkText splits text into pieces of at most limit bytes, cutting
// at the last newline inside the window when one exists.
func chunkText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
