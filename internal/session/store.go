package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spigell/hireboard/internal/backend"
)

// Store persists the auth session between runs.
type Store interface {
	Load() (*backend.Session, error)
	Save(*backend.Session) error
	Clear() error
}

// FileStore keeps the session as a JSON file readable by the owner only.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (*backend.Session, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var s backend.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session file %q: %w", f.Path, err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (f FileStore) Save(s *backend.Session) error {
	if s == nil {
		return f.Clear()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func (f FileStore) Clear() error {
	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemoryStore keeps nothing across runs.
type MemoryStore struct{}

func (MemoryStore) Load() (*backend.Session, error) { return nil, nil }
func (MemoryStore) Save(*backend.Session) error     { return nil }
func (MemoryStore) Clear() error                    { return nil }
