package util

import (
	"os"
	"strings"
)

// ExpandHome expands a leading ~ or ~/ to the current user's home
// directory. Paths without the prefix come back unchanged, as does
// anything when the home directory cannot be resolved.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return home + path[1:]
}
