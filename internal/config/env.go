package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Slack-related environment variables, normally supplied through the
// .env file in the config directory.
const (
	EnvSlackBotToken         = "SLACK_BOT_TOKEN"
	EnvSlackAppToken         = "SLACK_APP_TOKEN"
	EnvSlackAllowedUsers     = "SLACK_ALLOWED_USERS"
	EnvSlackInviteUser       = "SLACK_INVITE_USER"
	EnvSlackChannelPrefix    = "SLACK_CHANNEL_PREFIX"
	EnvSlackDedicatedChannel = "SLACK_DEDICATED_CHANNEL"
)

// DefaultChannelPrefix namespaces the Slack channels ccswap creates.
const DefaultChannelPrefix = "cc"

// LoadEnv loads the .env file from the config directory into the
// process environment. Variables already set in the environment win;
// a missing file is not an error.
func LoadEnv() error {
	path, err := EnvFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// SlackSettings carries everything the relay daemon and hook entrypoint
// need to talk to Slack. Read from the environment after LoadEnv.
type SlackSettings struct {
	// BotToken is the xoxb- token used for Web API calls.
	BotToken string

	// AppToken is the xapp- token used for the socket-mode connection.
	AppToken string

	// AllowedUsers restricts who may relay messages; empty allows anyone.
	AllowedUsers []string

	// InviteUser is invited to each newly created channel.
	InviteUser string

	// ChannelPrefix namespaces created channel names.
	ChannelPrefix string

	// DedicatedChannel relays into the default tmux session even
	// without a channel-map entry.
	DedicatedChannel string

	// DefaultTmuxSession receives relayed DMs and dedicated-channel
	// messages.
	DefaultTmuxSession string
}

// Slack assembles SlackSettings from the environment.
func Slack() SlackSettings {
	s := SlackSettings{
		BotToken:           os.Getenv(EnvSlackBotToken),
		AppToken:           os.Getenv(EnvSlackAppToken),
		InviteUser:         os.Getenv(EnvSlackInviteUser),
		ChannelPrefix:      os.Getenv(EnvSlackChannelPrefix),
		DedicatedChannel:   os.Getenv(EnvSlackDedicatedChannel),
		DefaultTmuxSession: os.Getenv(EnvDefaultTmuxSession),
	}
	if s.ChannelPrefix == "" {
		s.ChannelPrefix = DefaultChannelPrefix
	}
	if raw := os.Getenv(EnvSlackAllowedUsers); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				s.AllowedUsers = append(s.AllowedUsers, u)
			}
		}
	}
	return s
}

// Configured reports whether the minimum Slack configuration for the
// relay daemon is present.
func (s SlackSettings) Configured() bool {
	return s.BotToken != "" && s.AppToken != ""
}

// ChildBinary returns the child CLI to invoke.
func ChildBinary() string {
	if bin := os.Getenv(EnvChildBinary); bin != "" {
		return bin
	}
	return DefaultChildBinary
}

// ChildEnv builds the environment for a child invocation: the current
// environment with the profile directory designated, truecolor forced so
// the child styles its output, and the nested-run marker removed.
func ChildEnv(profileDir string, remote bool) []string {
	drop := map[string]bool{
		EnvChildMarker:    true,
		EnvChildConfigDir: true,
		"COLORTERM":       true,
		"FORCE_COLOR":     true,
		EnvRemoteMode:     true,
	}

	env := make([]string, 0, len(os.Environ())+4)
	for _, kv := range os.Environ() {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if drop[key] {
			continue
		}
		env = append(env, kv)
	}

	env = append(env,
		EnvChildConfigDir+"="+profileDir,
		"COLORTERM=truecolor",
		"FORCE_COLOR=1",
	)
	if remote {
		env = append(env, EnvRemoteMode+"=1")
	}
	return env
}
