// Package registry persists the set of named accounts the swap loop can
// run the child under. The registry is a single JSON document mutated by
// read-modify-write with atomic replacement.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/ccswap/ccswap/internal/config"
	"github.com/ccswap/ccswap/internal/util"
)

// DefaultName is the reserved account name bound to the child's own
// default profile directory.
const DefaultName = "default"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var (
	ErrNameInvalid      = errors.New("name must match [A-Za-z0-9_-]{1,64}")
	ErrNameReserved     = errors.New("name is reserved")
	ErrDuplicate        = errors.New("account already exists")
	ErrNotFound         = errors.New("account not found")
	ErrDefaultImmutable = errors.New("default account cannot be removed")
	ErrDefaultDirTaken  = errors.New("another account already uses the default profile directory")
	ErrBadPriority      = errors.New("priority must be a positive integer")
)

// Account is one named profile.
type Account struct {
	// Name identifies the account in CLI arguments and logs.
	Name string `json:"name"`

	// ProfileDir is the directory the child treats as its config root.
	ProfileDir string `json:"profile_dir"`

	// Priority orders accounts under the priority policy; lower is
	// preferred, zero means unset.
	Priority int `json:"priority,omitempty"`
}

// File is the on-disk registry document.
type File struct {
	Accounts []Account `json:"accounts"`
}

// Registry manages the account registry JSON at a fixed path.
type Registry struct {
	path string
}

// New returns a Registry stored at path.
func New(path string) *Registry {
	return &Registry{path: path}
}

// Open returns the Registry at the standard config location.
func Open() (*Registry, error) {
	path, err := config.RegistryPath()
	if err != nil {
		return nil, err
	}
	return New(path), nil
}

// Load reads the registry; a missing file is an empty registry.
func (r *Registry) Load() (*File, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	return &f, nil
}

// Save writes the registry atomically with mode 0600.
func (r *Registry) Save(f *File) error {
	return util.AtomicWriteJSON(r.path, f)
}

// Get returns the named account.
func (r *Registry) Get(name string) (*Account, error) {
	f, err := r.Load()
	if err != nil {
		return nil, err
	}
	for i := range f.Accounts {
		if f.Accounts[i].Name == name {
			return &f.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", name, ErrNotFound)
}

// List returns all accounts in registry order.
func (r *Registry) List() ([]Account, error) {
	f, err := r.Load()
	if err != nil {
		return nil, err
	}
	return f.Accounts, nil
}

// Add registers a new account. The reserved default name is managed by
// EnsureDefault only, and at most one account may point at the child's
// default profile directory.
func (r *Registry) Add(name, profileDir string, priority int) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("account %q: %w", name, ErrNameInvalid)
	}
	if name == DefaultName {
		return fmt.Errorf("account %q: %w", name, ErrNameReserved)
	}
	if priority < 0 {
		return ErrBadPriority
	}

	f, err := r.Load()
	if err != nil {
		return err
	}

	expanded := util.ExpandHome(profileDir)
	for _, a := range f.Accounts {
		if a.Name == name {
			return fmt.Errorf("account %q: %w", name, ErrDuplicate)
		}
		if expanded == config.DefaultProfileDir() && util.ExpandHome(a.ProfileDir) == expanded {
			return ErrDefaultDirTaken
		}
	}

	f.Accounts = append(f.Accounts, Account{Name: name, ProfileDir: profileDir, Priority: priority})
	return r.Save(f)
}

// Remove deletes an account. The default account is immutable.
func (r *Registry) Remove(name string) error {
	if name == DefaultName {
		return ErrDefaultImmutable
	}

	f, err := r.Load()
	if err != nil {
		return err
	}
	for i, a := range f.Accounts {
		if a.Name == name {
			f.Accounts = append(f.Accounts[:i], f.Accounts[i+1:]...)
			return r.Save(f)
		}
	}
	return fmt.Errorf("account %q: %w", name, ErrNotFound)
}

// SetPriority assigns a positive priority to an account.
func (r *Registry) SetPriority(name string, priority int) error {
	if priority <= 0 {
		return ErrBadPriority
	}
	return r.update(name, func(a *Account) { a.Priority = priority })
}

// ClearPriority removes an account's priority.
func (r *Registry) ClearPriority(name string) error {
	return r.update(name, func(a *Account) { a.Priority = 0 })
}

func (r *Registry) update(name string, mutate func(*Account)) error {
	f, err := r.Load()
	if err != nil {
		return err
	}
	for i := range f.Accounts {
		if f.Accounts[i].Name == name {
			mutate(&f.Accounts[i])
			return r.Save(f)
		}
	}
	return fmt.Errorf("account %q: %w", name, ErrNotFound)
}

// EnsureDefault inserts the default account when the child's default
// profile directory exists on disk and is not registered yet. Idempotent;
// reports whether an insert happened.
func (r *Registry) EnsureDefault() (bool, error) {
	defaultDir := config.DefaultProfileDir()
	if info, err := os.Stat(defaultDir); err != nil || !info.IsDir() {
		return false, nil
	}

	f, err := r.Load()
	if err != nil {
		return false, err
	}
	for _, a := range f.Accounts {
		if a.Name == DefaultName || util.ExpandHome(a.ProfileDir) == defaultDir {
			return false, nil
		}
	}

	f.Accounts = append([]Account{{Name: DefaultName, ProfileDir: defaultDir}}, f.Accounts...)
	if err := r.Save(f); err != nil {
		return false, err
	}
	return true, nil
}
