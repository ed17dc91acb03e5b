package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/gotd/td/session"
)

// SessionStorage keeps the MTProto session in a single JSON file. Writes
// land in a sibling .tmp file first and are renamed into place, and a read
// that finds garbage (for example null bytes after a hard power-off) is
// reported as no session so the client can re-authorize.
type SessionStorage struct {
	mu   sync.Mutex
	path string
}

func NewSessionStorage(path string) *SessionStorage {
	return &SessionStorage{path: path}
}

func (s *SessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, session.ErrNotFound
	case err != nil:
		return nil, err
	case !json.Valid(data):
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (s *SessionStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
