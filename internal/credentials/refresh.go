package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ccswap/ccswap/internal/config"
)

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error,omitempty"`
}

// HTTPError carries a non-2xx status from the OAuth endpoint, preferring
// the server's own error string when one was returned.
type HTTPError struct {
	Status int
	Reason string
}

func (e *HTTPError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// IsAuthRejection reports whether err means the refresh token itself was
// rejected, which calls for re-authentication rather than retry.
func IsAuthRejection(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && (he.Status == http.StatusUnauthorized || he.Status == http.StatusForbidden)
}

// TokenFor returns the access token to send with API calls for a
// profile, refreshing first when the stored one has expired. A failed
// refresh falls back to the stored token so the caller's own request
// surfaces the rejection.
func (s *Store) TokenFor(ctx context.Context, profileDir string) (string, error) {
	creds, err := s.Read(profileDir)
	if err != nil {
		return "", err
	}
	if creds.IsExpired() && creds.RefreshToken != "" {
		if fresh, err := s.Refresh(ctx, profileDir); err == nil {
			return fresh.AccessToken, nil
		}
	}
	return creds.AccessToken, nil
}

// Refresh exchanges the profile's refresh token for a new access token
// and persists the new pair BEFORE returning. Refresh tokens are
// single-use: a crash between receiving and persisting new tokens loses
// the account, so the write is not deferrable.
func (s *Store) Refresh(ctx context.Context, profileDir string) (*Credentials, error) {
	creds, err := s.Read(profileDir)
	if err != nil {
		return nil, err
	}
	if creds.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: creds.RefreshToken,
		ClientID:     config.OAuthClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-beta", config.OAuthBetaHeader)

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}

	var parsed refreshResponse
	_ = json.Unmarshal(payload, &parsed) // shape errors surface below

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Reason: parsed.Error}
	}
	if parsed.AccessToken == "" {
		return nil, ErrParseFailed
	}

	creds.AccessToken = parsed.AccessToken
	if parsed.RefreshToken != "" {
		creds.RefreshToken = parsed.RefreshToken
	}
	creds.ExpiresAt = time.Now().UnixMilli() + parsed.ExpiresIn*1000

	if err := s.Write(profileDir, creds); err != nil {
		return nil, err
	}
	return creds, nil
}
