package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccswap/ccswap/internal/registry"
)

const (
	idOne = "aaaabbbb-cccc-dddd-eeee-ffff00001111"
	idTwo = "11112222-3333-4444-5555-666677778888"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"lowercase uuid", idOne, true},
		{"uppercase uuid", "AAAABBBB-CCCC-DDDD-EEEE-FFFF00001111", true},
		{"empty", "", false},
		{"short", "aaaabbbb-cccc-dddd-eeee", false},
		{"path traversal", "../../../etc/passwd", false},
		{"embedded slash", "aaaabbbb-cccc-dddd-eeee-ffff0000111/", false},
		{"non-hex", "zzzzbbbb-cccc-dddd-eeee-ffff00001111", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.ok && err != nil {
				t.Errorf("ValidateID(%q) = %v, want nil", tt.id, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidID) {
				t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", tt.id, err)
			}
		})
	}
}

func TestCwdHash(t *testing.T) {
	if got := CwdHash("/home/user/my project"); got != "-home-user-my project" {
		t.Errorf("CwdHash = %q", got)
	}
}

// writeTranscript creates a transcript file with a fixed mod time.
func writeTranscript(t *testing.T, profileDir, hash, id string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(profileDir, "projects", hash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, id+".jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"user"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindLatestInProfile(t *testing.T) {
	profile := t.TempDir()
	cwd := "/work/project"
	hash := CwdHash(cwd)
	base := time.Now().Add(-time.Hour)

	writeTranscript(t, profile, hash, idOne, base)
	writeTranscript(t, profile, hash, idTwo, base.Add(10*time.Minute))

	// Files that are not valid session transcripts are ignored.
	junk := filepath.Join(profile, "projects", hash, "notes.jsonl")
	if err := os.WriteFile(junk, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ref, ok := FindLatestInProfile(profile, cwd)
	if !ok {
		t.Fatal("FindLatestInProfile found nothing")
	}
	if ref.SessionID != idTwo {
		t.Errorf("latest = %s, want %s", ref.SessionID, idTwo)
	}
	if ref.CwdHash != hash {
		t.Errorf("hash = %q, want %q", ref.CwdHash, hash)
	}
}

func TestFindLatestInProfileMissingDir(t *testing.T) {
	if _, ok := FindLatestInProfile(t.TempDir(), "/nowhere"); ok {
		t.Error("found a session in an empty profile")
	}
}

func TestFindLatestAcrossProfiles(t *testing.T) {
	profileA := t.TempDir()
	profileB := t.TempDir()
	accounts := []registry.Account{
		{Name: "a", ProfileDir: profileA},
		{Name: "b", ProfileDir: profileB},
	}
	cwd := "/work/project"
	hash := CwdHash(cwd)
	base := time.Now().Add(-time.Hour)

	writeTranscript(t, profileA, hash, idOne, base.Add(20*time.Minute))
	writeTranscript(t, profileB, hash, idTwo, base)

	ref, ok := FindLatestAcrossProfiles(accounts, cwd)
	if !ok {
		t.Fatal("FindLatestAcrossProfiles found nothing")
	}
	if ref.SessionID != idOne || ref.ProfileDir != profileA {
		t.Errorf("ref = %+v, want %s in profile a", ref, idOne)
	}

	if _, ok := FindLatestAcrossProfiles(accounts, "/elsewhere"); ok {
		t.Error("found a session for an unused cwd")
	}
}

func TestFindByID(t *testing.T) {
	profileA := t.TempDir()
	profileB := t.TempDir()
	accounts := []registry.Account{
		{Name: "a", ProfileDir: profileA},
		{Name: "b", ProfileDir: profileB},
	}
	base := time.Now().Add(-time.Hour)

	// The same id exists in both profiles; the newer copy wins.
	writeTranscript(t, profileA, "-work-x", idOne, base)
	writeTranscript(t, profileB, "-work-x", idOne, base.Add(5*time.Minute))

	ref, ok, err := FindByID(accounts, idOne)
	if err != nil || !ok {
		t.Fatalf("FindByID = %v, %v, %v", ref, ok, err)
	}
	if ref.ProfileDir != profileB {
		t.Errorf("ref profile = %q, want the newer copy in %q", ref.ProfileDir, profileB)
	}

	if _, ok, err := FindByID(accounts, idTwo); err != nil || ok {
		t.Errorf("FindByID(absent) = %v, %v; want not found", ok, err)
	}

	if _, _, err := FindByID(accounts, "not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("FindByID(invalid) error = %v, want ErrInvalidID", err)
	}
}

func TestMigrate(t *testing.T) {
	from := t.TempDir()
	to := t.TempDir()
	hash := "-work-project"
	src := writeTranscript(t, from, hash, idOne, time.Now())

	// Sidecar artifacts move with the transcript.
	sidecar := filepath.Join(from, "projects", hash, idOne)
	if err := os.MkdirAll(filepath.Join(sidecar, "tool-results"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sidecar, "tool-results", "r1.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Migrate(from, to, hash, idOne); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	want, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(to, "projects", hash, idOne+".jsonl"))
	if err != nil {
		t.Fatalf("migrated transcript missing: %v", err)
	}
	if string(got) != string(want) {
		t.Error("migrated transcript differs from source")
	}
	if _, err := os.Stat(filepath.Join(to, "projects", hash, idOne, "tool-results", "r1.json")); err != nil {
		t.Errorf("sidecar not migrated: %v", err)
	}

	// The source stays in place; migration copies.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source removed by migration: %v", err)
	}
}

func TestMigrateSameProfileKeepsTranscript(t *testing.T) {
	profile := t.TempDir()
	hash := "-work-project"
	src := writeTranscript(t, profile, hash, idOne, time.Now())

	if err := Migrate(profile, profile, hash, idOne); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("same-profile migration truncated the transcript")
	}
}

func TestMigrateErrors(t *testing.T) {
	from, to := t.TempDir(), t.TempDir()

	if err := Migrate(from, to, "-work-x", "bad id"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("invalid id error = %v, want ErrInvalidID", err)
	}
	if err := Migrate(from, to, "../escape", idOne); err == nil {
		t.Error("invalid hash accepted")
	}
	if err := Migrate(from, to, "-work-x", idOne); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source error = %v, want ErrNotFound", err)
	}
}
