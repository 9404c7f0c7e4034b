package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func linuxStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()
	return &Store{goos: "linux"}
}

func TestStore_LinuxRoundTrip(t *testing.T) {
	s := linuxStore(t)
	profile := t.TempDir()

	in := &Credentials{AccessToken: "sk-ant-rt", RefreshToken: "rt", ExpiresAt: 99}
	if err := s.Write(profile, in); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	out, err := s.Read(profile)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if out.AccessToken != "sk-ant-rt" || out.RefreshToken != "rt" || out.ExpiresAt != 99 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestStore_LinuxFileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	s := &Store{goos: "linux"}
	profile := t.TempDir()

	in := &Credentials{AccessToken: "sk-ant-fb"}
	if err := s.Write(profile, in); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	// The fallback file exists with owner-only permissions.
	path := filepath.Join(profile, fallbackFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("fallback file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("fallback mode = %o, want 0600", perm)
	}

	out, err := s.Read(profile)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if out.AccessToken != "sk-ant-fb" {
		t.Errorf("Read = %+v", out)
	}
}

func TestStore_ReadMissing(t *testing.T) {
	keyring.MockInitWithError(keyring.ErrNotFound)
	s := &Store{goos: "linux"}

	if _, err := s.Read(t.TempDir()); err != ErrNoCredentials {
		t.Errorf("Read missing = %v, want ErrNoCredentials", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := linuxStore(t)
	profile := t.TempDir()

	if err := s.Write(profile, &Credentials{AccessToken: "sk-ant-d"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := s.Delete(profile); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Read(profile); err != ErrNoCredentials {
		t.Errorf("Read after delete = %v, want ErrNoCredentials", err)
	}

	// Deleting again is fine.
	if err := s.Delete(profile); err != nil {
		t.Errorf("second Delete error: %v", err)
	}
}

func TestStore_UnsupportedPlatform(t *testing.T) {
	s := &Store{goos: "plan9"}

	if _, err := s.Read("/p"); err != ErrUnsupportedPlatform {
		t.Errorf("Read = %v, want ErrUnsupportedPlatform", err)
	}
	if err := s.Write("/p", &Credentials{AccessToken: "sk-ant-x"}); err != ErrUnsupportedPlatform {
		t.Errorf("Write = %v, want ErrUnsupportedPlatform", err)
	}
}

func seedCreds(t *testing.T, s *Store, profile string, c *Credentials) {
	t.Helper()
	if err := s.Write(profile, c); err != nil {
		t.Fatalf("seeding credentials: %v", err)
	}
}

func TestRefresh_PersistsBeforeReturn(t *testing.T) {
	var gotBody refreshRequest
	var gotBeta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("anthropic-beta")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "sk-ant-new",
			"refresh_token": "rt-new",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	keyring.MockInit()
	s := &Store{goos: "linux", tokenURL: srv.URL, client: srv.Client()}
	profile := t.TempDir()
	seedCreds(t, s, profile, &Credentials{AccessToken: "sk-ant-old", RefreshToken: "rt-old", ExpiresAt: 1})

	before := time.Now().UnixMilli()
	creds, err := s.Refresh(context.Background(), profile)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	if gotBody.GrantType != "refresh_token" || gotBody.RefreshToken != "rt-old" || gotBody.ClientID == "" {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotBeta == "" {
		t.Error("anthropic-beta header not sent")
	}

	if creds.AccessToken != "sk-ant-new" || creds.RefreshToken != "rt-new" {
		t.Errorf("returned creds = %+v", creds)
	}
	if creds.ExpiresAt < before+3_500_000 {
		t.Errorf("ExpiresAt = %d, want ~now+3600s", creds.ExpiresAt)
	}

	// The new pair must already be in the store when Refresh returns.
	stored, err := s.Read(profile)
	if err != nil {
		t.Fatalf("Read after refresh: %v", err)
	}
	if stored.AccessToken != "sk-ant-new" || stored.RefreshToken != "rt-new" {
		t.Errorf("store not updated before return: %+v", stored)
	}
}

func TestRefresh_KeepsOldRefreshTokenWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "sk-ant-new2",
			"expires_in":   60,
		})
	}))
	defer srv.Close()

	keyring.MockInit()
	s := &Store{goos: "linux", tokenURL: srv.URL, client: srv.Client()}
	profile := t.TempDir()
	seedCreds(t, s, profile, &Credentials{AccessToken: "sk-ant-old", RefreshToken: "rt-keep"})

	creds, err := s.Refresh(context.Background(), profile)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if creds.RefreshToken != "rt-keep" {
		t.Errorf("RefreshToken = %q, want old token kept", creds.RefreshToken)
	}
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	keyring.MockInit()
	s := &Store{goos: "linux"}
	profile := t.TempDir()
	seedCreds(t, s, profile, &Credentials{AccessToken: "sk-ant-only"})

	if _, err := s.Refresh(context.Background(), profile); err != ErrNoRefreshToken {
		t.Errorf("Refresh = %v, want ErrNoRefreshToken", err)
	}
}

func TestRefresh_HTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantReject bool
	}{
		{"server error string", 400, `{"error":"invalid_grant"}`, "invalid_grant", false},
		{"bare status", 500, `{}`, "HTTP 500", false},
		{"unauthorized", 401, `{}`, "HTTP 401", true},
		{"forbidden", 403, `{"error":"revoked"}`, "revoked", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			keyring.MockInit()
			s := &Store{goos: "linux", tokenURL: srv.URL, client: srv.Client()}
			profile := t.TempDir()
			seedCreds(t, s, profile, &Credentials{AccessToken: "sk-ant-o", RefreshToken: "rt"})

			_, err := s.Refresh(context.Background(), profile)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Refresh error = %v, want %q", err, tt.wantErr)
			}
			if IsAuthRejection(err) != tt.wantReject {
				t.Errorf("IsAuthRejection = %v, want %v", IsAuthRejection(err), tt.wantReject)
			}

			// Failed refresh must not clobber the stored blob.
			stored, readErr := s.Read(profile)
			if readErr != nil || stored.AccessToken != "sk-ant-o" {
				t.Errorf("stored blob changed after failed refresh: %+v (%v)", stored, readErr)
			}
		})
	}
}

func TestRefresh_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	keyring.MockInit()
	s := &Store{goos: "linux", tokenURL: srv.URL, client: srv.Client()}
	profile := t.TempDir()
	seedCreds(t, s, profile, &Credentials{AccessToken: "sk-ant-o", RefreshToken: "rt"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := s.Refresh(ctx, profile); err != ErrTimeout {
		t.Errorf("Refresh = %v, want ErrTimeout", err)
	}
}
