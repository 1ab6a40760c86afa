// Package credential keeps the logged-in user's token between runs.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
)

const encPrefix = "enc:"

// FileStore is a domain.CredentialStore backed by a single 0600 file. With
// a passphrase the file holds the credentials encrypted (Argon2id +
// AES-256-GCM, as for config secrets); without one it holds plain JSON.
type FileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{path: path, passphrase: passphrase}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load returns the stored credentials, or domain.ErrNotAuthenticated when
// nothing is stored.
func (s *FileStore) Load() (*domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, encPrefix) {
		if s.passphrase == "" {
			return nil, fmt.Errorf("%w: credentials are encrypted, set COMPANION_CONFIG_KEY", domain.ErrDecryption)
		}
		if text, err = config.DecryptValue(strings.TrimPrefix(text, encPrefix), s.passphrase); err != nil {
			return nil, err
		}
	}

	var creds domain.Credentials
	if err := json.Unmarshal([]byte(text), &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, domain.ErrNotAuthenticated
	}
	return &creds, nil
}

// Save replaces the stored credentials.
func (s *FileStore) Save(creds domain.Credentials) error {
	if creds.Token == "" {
		return fmt.Errorf("%w: empty token", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	out := string(data)
	if s.passphrase != "" {
		enc, err := config.EncryptValue(out, s.passphrase)
		if err != nil {
			return err
		}
		out = encPrefix + enc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(out+"\n"), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear removes the stored credentials. Clearing an empty store is not an
// error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

var _ domain.CredentialStore = (*FileStore)(nil)
