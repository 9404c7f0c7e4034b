package config

// API endpoints consumed by the credential and usage layers. The beta
// header value is version pinning for the OAuth surface and must be sent
// unchanged.
const (
	TokenURL   = "https://console.anthropic.com/v1/oauth/token"
	UsageURL   = "https://api.anthropic.com/api/oauth/usage"
	ProfileURL = "https://api.anthropic.com/api/oauth/profile"

	OAuthClientID   = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	OAuthBetaHeader = "oauth-2025-04-20"

	// AccessTokenPrefix is the fixed prefix of every valid access token.
	AccessTokenPrefix = "sk-ant-"
)

// Environment variables understood by ccswap and the child.
const (
	// EnvChildConfigDir designates the child's profile directory.
	EnvChildConfigDir = "CLAUDE_CONFIG_DIR"

	// EnvChildMarker is set by the child in its own subprocesses; it is
	// removed from the child environment so nested runs are not confused.
	EnvChildMarker = "CLAUDECODE"

	// EnvChildBinary overrides the child binary name.
	EnvChildBinary = "CCSWAP_CHILD"

	// EnvRemoteMode marks a child run driven through the chat relay.
	EnvRemoteMode = "CCSWAP_REMOTE"

	// EnvDefaultTmuxSession names the multiplexer session that direct
	// messages relay into when no channel mapping exists.
	EnvDefaultTmuxSession = "CCSWAP_DEFAULT_TMUX_SESSION"
)

// DefaultChildBinary is the child CLI invoked when CCSWAP_CHILD is unset.
const DefaultChildBinary = "claude"
