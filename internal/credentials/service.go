package credentials

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/ccswap/ccswap/internal/util"
)

const (
	// serviceBase is the service name the child uses for its own
	// credentials at the default profile directory.
	serviceBase = "Claude Code-credentials"

	// defaultProfileName is the child's default config directory under
	// the user's home (stored in the secret store without a suffix).
	defaultProfileName = ".claude"

	// serviceAccount labels secret-store entries we write.
	serviceAccount = "claude-code"
)

// ServiceName computes the secret-store service name for a profile
// directory. The default directory (~/.claude) maps to the bare base name
// so ccswap interoperates with credentials the child wrote itself; any
// other directory gets the first 8 hex chars of the SHA-256 of the
// expanded path appended, isolating per-profile entries.
func ServiceName(profileDir string) string {
	expanded := util.ExpandHome(profileDir)

	home, err := os.UserHomeDir()
	if err == nil && expanded == home+"/"+defaultProfileName {
		return serviceBase
	}

	h := sha256.Sum256([]byte(expanded))
	return fmt.Sprintf("%s-%x", serviceBase, h[:4])
}
