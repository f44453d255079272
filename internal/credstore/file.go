package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aelexs/session-gateway/internal/session"
)

const (
	// DefaultConfigDir is the directory under the user config home.
	DefaultConfigDir = "sessionctl"
	// CredentialsFileName is the name of the credentials file.
	CredentialsFileName = "credentials.json"

	filePermissions = 0o600
	dirPermissions  = 0o700
)

var _ session.CredentialStore = (*FileStore)(nil)

// credentialsFile is the on-disk layout: one pair per profile.
type credentialsFile struct {
	Profiles map[string]session.CredentialPair `json:"profiles"`
}

// FileStore persists the pair of one profile in a JSON file readable only
// by the owner. Other profiles in the same file are preserved.
type FileStore struct {
	path    string
	profile string
	mu      sync.Mutex
}

// NewFileStore creates a FileStore. An empty path selects DefaultPath.
func NewFileStore(path, profile string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{path: path, profile: profile}, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/sessionctl/credentials.json, falling
// back to ~/.config.
func DefaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultConfigDir, CredentialsFileName), nil
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context) (session.CredentialPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return session.CredentialPair{}, false, err
	}
	pair, ok := f.Profiles[s.profile]
	return pair, ok, nil
}

func (s *FileStore) Set(_ context.Context, pair session.CredentialPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	f.Profiles[s.profile] = pair
	return s.save(f)
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Profiles[s.profile]; !ok {
		return nil
	}
	delete(f.Profiles, s.profile)
	return s.save(f)
}

// load reads the file. A missing file is an empty one.
func (s *FileStore) load() (*credentialsFile, error) {
	f := &credentialsFile{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read credentials file: %w", err)
	default:
		if err := json.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parse credentials file %s: %w", s.path, err)
		}
	}
	if f.Profiles == nil {
		f.Profiles = make(map[string]session.CredentialPair)
	}
	return f, nil
}

// save writes through a temporary file and a rename so readers never see a
// partial file.
func (s *FileStore) save(f *credentialsFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(filePermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp credentials file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
