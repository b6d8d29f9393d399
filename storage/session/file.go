package sessionstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core/session"
)

// FileStore persists tokens as a small JSON file under fixed keys, the
// terminal equivalent of browser local storage.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ session.Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (session.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Tokens{}, nil
		}
		return session.Tokens{}, errors.Wrap(err, "reading session file")
	}
	var tokens session.Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		// a corrupt file is the same as no session
		return session.Tokens{}, nil
	}
	return tokens, nil
}

func (s *FileStore) Save(tokens session.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "creating session dir")
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return errors.Wrap(os.WriteFile(s.path, data, 0o600), "writing session file")
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing session file")
	}
	return nil
}
