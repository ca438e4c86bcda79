// Package credential persists the access token for the advanced
// diarization engine.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Load when no token has been stored.
var ErrNotFound = errors.New("no diarization credential stored")

// Token is an opaque access token. It never prints its value.
type Token string

// String redacts the token so it cannot leak into logs.
func (t Token) String() string {
	if t == "" {
		return "<none>"
	}
	return "<redacted>"
}

// Reveal returns the raw token for use in an Authorization header.
func (t Token) Reveal() string { return string(t) }

// IsSet reports whether the token is non-empty.
func (t Token) IsSet() bool { return strings.TrimSpace(string(t)) != "" }

type file struct {
	HFToken string `json:"hf_token"`
}

// Store reads and writes the token file.
type Store struct {
	path string
}

// NewStore uses path, or ~/.scribe-engine/hf_config.json when empty.
func NewStore(path string) *Store {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".scribe-engine", "hf_config.json")
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the stored token.
func (s *Store) Load() (Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse credential %s: %w", s.path, err)
	}
	tok := Token(strings.TrimSpace(f.HFToken))
	if !tok.IsSet() {
		return "", ErrNotFound
	}
	return tok, nil
}

// Save writes tok with owner-only permissions.
func (s *Store) Save(tok Token) error {
	if !tok.IsSet() {
		return errors.New("refusing to store an empty credential")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.Marshal(file{HFToken: strings.TrimSpace(tok.Reveal())})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename credential: %w", err)
	}
	return nil
}

// Clear removes the stored token. Clearing a missing token is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// Resolve picks the token to use: an explicit value (e.g. from HF_TOKEN)
// wins over the stored one. A missing token is not an error; the caller
// decides whether the advanced engine is usable.
func Resolve(explicit string, s *Store) (Token, error) {
	if tok := Token(strings.TrimSpace(explicit)); tok.IsSet() {
		return tok, nil
	}
	if s == nil {
		return "", nil
	}
	tok, err := s.Load()
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return tok, err
}
