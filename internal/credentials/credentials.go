// Package credentials reads, writes, and refreshes OAuth credential
// blobs in the OS-native secret store, one entry per profile directory.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ccswap/ccswap/internal/config"
)

// Error kinds surfaced by this layer. Callers that build per-account
// snapshots store Error() strings as data for the scorer to filter on.
var (
	ErrNoCredentials       = errors.New("no_credentials")
	ErrNoRefreshToken      = errors.New("no_refresh_token")
	ErrParseFailed         = errors.New("parse_failed")
	ErrInvalidTokenFormat  = errors.New("invalid_token_format")
	ErrKeychainWriteFailed = errors.New("keychain_write_failed")
	ErrTimeout             = errors.New("timeout")
	ErrUnsupportedPlatform = errors.New("unsupported_platform")
)

// Credentials is the OAuth credential blob for one profile. Tokens are
// single-use secrets: a refresh must persist the new pair before the next
// read, and token values never appear in logs or error strings.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // epoch milliseconds; zero means unknown
	Email        string
	Name         string

	// Passthrough fields the child manages; preserved across rewrites.
	Scopes           []string
	SubscriptionType string
}

// IsExpired reports whether the access token's expiry has passed.
// A zero ExpiresAt is treated as not expired; the API will reject a stale
// token and the refresh path handles it then.
func (c *Credentials) IsExpired() bool {
	return c.ExpiresAt > 0 && time.Now().UnixMilli() >= c.ExpiresAt
}

// Validate checks the access token shape. The token value itself is
// never included in the returned error.
func (c *Credentials) Validate() error {
	if c.AccessToken == "" {
		return ErrNoCredentials
	}
	if !strings.HasPrefix(c.AccessToken, config.AccessTokenPrefix) {
		return ErrInvalidTokenFormat
	}
	return nil
}

// wireEnvelope is the blob shape the child itself writes: credentials
// nested under a single key, camelCase fields, expiry in epoch ms.
type wireEnvelope struct {
	ClaudeAiOauth *wireFields `json:"claudeAiOauth,omitempty"`
}

type wireFields struct {
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken,omitempty"`
	ExpiresAt        int64    `json:"expiresAt,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	SubscriptionType string   `json:"subscriptionType,omitempty"`
	Email            string   `json:"email,omitempty"`
	Name             string   `json:"name,omitempty"`
}

// flatBlob is the legacy flat shape some profiles carry.
type flatBlob struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
}

// parseBlob accepts either the child's nested shape or the legacy flat
// shape. It returns ErrParseFailed for malformed JSON and
// ErrNoCredentials when neither shape yields an access token.
func parseBlob(raw string) (*Credentials, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoCredentials
	}

	var env wireEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && env.ClaudeAiOauth != nil && env.ClaudeAiOauth.AccessToken != "" {
		f := env.ClaudeAiOauth
		return &Credentials{
			AccessToken:      f.AccessToken,
			RefreshToken:     f.RefreshToken,
			ExpiresAt:        f.ExpiresAt,
			Email:            f.Email,
			Name:             f.Name,
			Scopes:           f.Scopes,
			SubscriptionType: f.SubscriptionType,
		}, nil
	}

	var flat flatBlob
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, ErrParseFailed
	}
	if flat.AccessToken == "" {
		return nil, ErrNoCredentials
	}
	return &Credentials{
		AccessToken:  flat.AccessToken,
		RefreshToken: flat.RefreshToken,
		ExpiresAt:    flat.ExpiresAt,
		Email:        flat.Email,
		Name:         flat.Name,
	}, nil
}

// marshalBlob serializes in the nested shape so the child can consume
// profiles ccswap manages.
func marshalBlob(c *Credentials) ([]byte, error) {
	env := wireEnvelope{ClaudeAiOauth: &wireFields{
		AccessToken:      c.AccessToken,
		RefreshToken:     c.RefreshToken,
		ExpiresAt:        c.ExpiresAt,
		Scopes:           c.Scopes,
		SubscriptionType: c.SubscriptionType,
		Email:            c.Email,
		Name:             c.Name,
	}}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling credential blob: %w", err)
	}
	return data, nil
}
