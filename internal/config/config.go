// Package config owns the ccswap configuration directory layout and
// environment handling. All other packages resolve paths through it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccswap/ccswap/internal/util"
)

// EnvConfigDir overrides the configuration directory root.
const EnvConfigDir = "CCSWAP_CONFIG_DIR"

// Dir returns the ccswap configuration directory:
// $CCSWAP_CONFIG_DIR if set, else <os user config dir>/ccswap.
func Dir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return util.ExpandHome(dir), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(base, "ccswap"), nil
}

// EnsureDir creates the configuration directory tree (profiles, data,
// logs) and returns the root. Safe to call repeatedly.
func EnsureDir() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	for _, sub := range []string{"", "profiles", "data", filepath.Join("data", "progress"), "logs"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0700); err != nil {
			return "", fmt.Errorf("creating config dir %s: %w", sub, err)
		}
	}
	return root, nil
}

// RegistryPath returns the account registry file (config.json).
func RegistryPath() (string, error) {
	return inDir("config.json")
}

// EnvFilePath returns the .env file holding chat-system tokens.
func EnvFilePath() (string, error) {
	return inDir(".env")
}

// ProfilesDir returns the directory holding per-account profile dirs.
func ProfilesDir() (string, error) {
	return inDir("profiles")
}

// ProfileDir returns the profile directory for a named account.
func ProfileDir(name string) (string, error) {
	return inDir(filepath.Join("profiles", name))
}

// ChannelMapPath returns the channel map JSON file.
func ChannelMapPath() (string, error) {
	return inDir(filepath.Join("data", "channel-map.json"))
}

// ProgressDir returns the directory holding progress buffers.
func ProgressDir() (string, error) {
	return inDir(filepath.Join("data", "progress"))
}

// RelayLogPath returns the relay daemon log file.
func RelayLogPath() (string, error) {
	return inDir(filepath.Join("logs", "webhook.log"))
}

// DaemonPidPath returns the relay daemon PID file.
func DaemonPidPath() (string, error) {
	return inDir("daemon.pid")
}

// DaemonLockPath returns the relay daemon lock file.
func DaemonLockPath() (string, error) {
	return inDir("daemon.lock")
}

// DefaultProfileDir returns the child's system-default profile directory
// (~/.claude expanded).
func DefaultProfileDir() string {
	return util.ExpandHome("~/.claude")
}

func inDir(rel string) (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}
