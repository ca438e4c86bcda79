package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// tempPrefix marks in-flight writes. scanDir skips dot files, so the
// reconciler and pruner never see a partial artifact.
const tempPrefix = ".partial-"

// LocalStore keeps artifacts in a directory tree.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// resolve maps a key to a path under the root. Keys that would escape the
// root are rejected with fs.ErrInvalid.
func (s *LocalStore) resolve(key string) (string, error) {
	if !fs.ValidPath(key) || key == "." {
		return "", fmt.Errorf("artifact key %q: %w", key, fs.ErrInvalid)
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

// Save writes data to a temp file in the target directory, syncs it and
// renames it into place, so readers see either the old file or the whole
// new one.
func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(f.Name(), path)
	}
	if err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	path, err := s.resolve(key)
	if err != nil {
		return ""
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}

// URL is always empty: local files are streamed by the server.
func (s *LocalStore) URL(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	return s.LocalPath(key) != ""
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the store root.
func (s *LocalStore) Dir() string { return s.dir }
