package credentials

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/platform"
	"github.com/ccswap/ccswap/internal/util"
)

const (
	// refreshTimeout bounds the OAuth token refresh call.
	refreshTimeout = 10 * time.Second

	// fallbackFileName holds credentials inside the profile directory
	// when no secret service is reachable.
	fallbackFileName = ".credentials.json"
)

// Store reads and writes credential blobs in the platform secret store:
// the macOS keychain via the security utility, or the freedesktop secret
// service with a 0600 file fallback.
type Store struct {
	goos     string
	tokenURL string
	client   *http.Client
	runner   *platform.Runner
}

// NewStore returns a Store for the current platform.
func NewStore() *Store {
	return &Store{
		goos:     runtime.GOOS,
		tokenURL: config.TokenURL,
		client:   &http.Client{Timeout: refreshTimeout},
		runner:   platform.NewRunner(),
	}
}

// Read loads, parses, and validates the blob for a profile directory.
func (s *Store) Read(profileDir string) (*Credentials, error) {
	raw, err := s.readRaw(profileDir)
	if err != nil {
		return nil, err
	}
	creds, err := parseBlob(raw)
	if err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// Write persists the blob for a profile directory.
func (s *Store) Write(profileDir string, creds *Credentials) error {
	blob, err := marshalBlob(creds)
	if err != nil {
		return err
	}
	switch s.goos {
	case platform.Darwin:
		return s.writeDarwin(profileDir, blob)
	case platform.Linux:
		return s.writeLinux(profileDir, blob)
	default:
		return ErrUnsupportedPlatform
	}
}

// Delete removes the credential entry for a profile directory. Absent
// entries are not an error.
func (s *Store) Delete(profileDir string) error {
	switch s.goos {
	case platform.Darwin:
		_ = s.runner.Run("security", "delete-generic-password",
			"-s", ServiceName(profileDir))
		return nil
	case platform.Linux:
		_ = keyring.Delete(ServiceName(profileDir), serviceAccount)
		_ = os.Remove(s.fallbackPath(profileDir))
		return nil
	default:
		return ErrUnsupportedPlatform
	}
}

func (s *Store) readRaw(profileDir string) (string, error) {
	switch s.goos {
	case platform.Darwin:
		return s.readDarwin(profileDir)
	case platform.Linux:
		return s.readLinux(profileDir)
	default:
		return "", ErrUnsupportedPlatform
	}
}

// readDarwin shells out to the macOS security utility. A non-zero exit
// means the entry does not exist (or the keychain is locked); both read
// as missing credentials.
func (s *Store) readDarwin(profileDir string) (string, error) {
	out, err := s.runner.Output("security", "find-generic-password",
		"-s", ServiceName(profileDir), "-w")
	if err != nil {
		if errors.Is(err, platform.ErrTimeout) {
			return "", ErrTimeout
		}
		return "", ErrNoCredentials
	}
	return out, nil
}

func (s *Store) writeDarwin(profileDir string, blob []byte) error {
	// -U updates an existing entry in place. Output is discarded: it can
	// reference the stored secret.
	err := s.runner.Run("security", "add-generic-password",
		"-U",
		"-s", ServiceName(profileDir),
		"-a", serviceAccount,
		"-w", string(blob),
	)
	if err != nil {
		if errors.Is(err, platform.ErrTimeout) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrKeychainWriteFailed, err)
	}
	return nil
}

// readLinux tries the secret service first, then the file fallback.
func (s *Store) readLinux(profileDir string) (string, error) {
	if raw, err := keyring.Get(ServiceName(profileDir), serviceAccount); err == nil {
		return raw, nil
	}
	data, err := os.ReadFile(s.fallbackPath(profileDir))
	if err != nil {
		return "", ErrNoCredentials
	}
	return string(data), nil
}

func (s *Store) writeLinux(profileDir string, blob []byte) error {
	if err := keyring.Set(ServiceName(profileDir), serviceAccount, string(blob)); err == nil {
		return nil
	}
	if err := util.AtomicWriteFile(s.fallbackPath(profileDir), blob, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrKeychainWriteFailed, err)
	}
	return nil
}

func (s *Store) fallbackPath(profileDir string) string {
	return filepath.Join(util.ExpandHome(profileDir), fallbackFileName)
}
