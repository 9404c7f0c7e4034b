// Package session locates and migrates child session transcripts across
// profile directories.
//
// A session is materialized as <profile_dir>/projects/<cwd_hash>/<id>.jsonl
// with an optional sibling directory <id>/ of sidecar artifacts. Session
// ids are validated against the UUID character shape before any path is
// built from them; that validation is the sole defence against path
// traversal through the identifier.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ccswap/ccswap/internal/registry"
	"github.com/ccswap/ccswap/internal/util"
)

var (
	ErrInvalidID = errors.New("invalid session ID")
	ErrNotFound  = errors.New("session file not found")
)

// idRe is the UUID v4 character shape: 8-4-4-4-12 hex, case-insensitive.
// Deliberately shape-only; version and variant bits are not inspected.
var idRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateID rejects anything that does not look like a UUID.
func ValidateID(id string) error {
	if !idRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// CwdHash flattens an absolute working directory into the transcript
// subdirectory name: expand a leading ~, then replace every / with -.
func CwdHash(cwd string) string {
	return strings.ReplaceAll(util.ExpandHome(cwd), "/", "-")
}

// validHash guards hash values that arrive from callers rather than
// from CwdHash itself.
func validHash(hash string) bool {
	return hash != "" && hash != "." && hash != ".." && !strings.ContainsRune(hash, '/')
}

// Ref locates one transcript on disk.
type Ref struct {
	SessionID  string
	Path       string
	ProfileDir string
	CwdHash    string
	ModTime    time.Time
}

// FindLatestInProfile returns the most recently modified transcript for
// cwd inside one profile.
func FindLatestInProfile(profileDir, cwd string) (*Ref, bool) {
	hash := CwdHash(cwd)
	dir := filepath.Join(util.ExpandHome(profileDir), "projects", hash)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}

	var best *Ref
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		if ValidateID(id) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == nil || info.ModTime().After(best.ModTime) {
			best = &Ref{
				SessionID:  id,
				Path:       filepath.Join(dir, e.Name()),
				ProfileDir: profileDir,
				CwdHash:    hash,
				ModTime:    info.ModTime(),
			}
		}
	}
	return best, best != nil
}

// FindByID scans every project directory of every account for the
// session's transcript and returns the newest match.
func FindByID(accounts []registry.Account, sessionID string) (*Ref, bool, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, false, err
	}

	var best *Ref
	for _, acct := range accounts {
		projects := filepath.Join(util.ExpandHome(acct.ProfileDir), "projects")
		hashes, err := os.ReadDir(projects)
		if err != nil {
			continue
		}
		for _, h := range hashes {
			if !h.IsDir() {
				continue
			}
			path := filepath.Join(projects, h.Name(), sessionID+".jsonl")
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if best == nil || info.ModTime().After(best.ModTime) {
				best = &Ref{
					SessionID:  sessionID,
					Path:       path,
					ProfileDir: acct.ProfileDir,
					CwdHash:    h.Name(),
					ModTime:    info.ModTime(),
				}
			}
		}
	}
	return best, best != nil, nil
}

// FindLatestAcrossProfiles returns the newest transcript for cwd across
// all accounts.
func FindLatestAcrossProfiles(accounts []registry.Account, cwd string) (*Ref, bool) {
	var best *Ref
	for _, acct := range accounts {
		ref, ok := FindLatestInProfile(acct.ProfileDir, cwd)
		if !ok {
			continue
		}
		if best == nil || ref.ModTime.After(best.ModTime) {
			best = ref
		}
	}
	return best, best != nil
}

// Migrate copies a session transcript (and its sidecar directory, if
// present) from one profile to another so the child can resume there.
// The id and hash are validated before any filesystem operation.
func Migrate(fromProfile, toProfile, cwdHash, sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	if !validHash(cwdHash) {
		return fmt.Errorf("invalid project hash %q", cwdHash)
	}
	// Same profile means the transcript is already in place. Copying a
	// file onto itself would truncate it before the read.
	if util.ExpandHome(fromProfile) == util.ExpandHome(toProfile) {
		return nil
	}

	srcDir := filepath.Join(util.ExpandHome(fromProfile), "projects", cwdHash)
	dstDir := filepath.Join(util.ExpandHome(toProfile), "projects", cwdHash)

	src := filepath.Join(srcDir, sessionID+".jsonl")
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("creating destination project dir: %w", err)
	}
	if err := copyFile(src, filepath.Join(dstDir, sessionID+".jsonl")); err != nil {
		return fmt.Errorf("copying transcript: %w", err)
	}

	sidecar := filepath.Join(srcDir, sessionID)
	if info, err := os.Stat(sidecar); err == nil && info.IsDir() {
		if err := copyDir(sidecar, filepath.Join(dstDir, sessionID)); err != nil {
			return fmt.Errorf("copying sidecar dir: %w", err)
		}
	}
	return nil
}

// copyFile copies src to dst, overwriting dst and preserving the source
// file mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyDir recursively copies a directory tree.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
