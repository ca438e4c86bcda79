package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

// TieredStore keeps every artifact on local disk and mirrors it to a remote
// bucket. Local disk is authoritative; the remote copy survives cache
// eviction and lost disks.
type TieredStore struct {
	local  *LocalStore
	remote Remote
	log    zerolog.Logger
}

// NewTieredStore creates a store that writes local first, then remote.
func NewTieredStore(local *LocalStore, remote Remote, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		local:  local,
		remote: remote,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save fails only when the local write fails. A failed remote write is left
// for the upload reconciler.
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.local.Save(ctx, key, data, ct); err != nil {
		return err
	}
	if err := s.remote.Save(ctx, key, data, ct); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remote copy failed, reconciler will retry")
	}
	return nil
}

func (s *TieredStore) LocalPath(key string) string {
	return s.local.LocalPath(key)
}

// URL is empty while the file is cached locally, otherwise a presigned
// remote link.
func (s *TieredStore) URL(ctx context.Context, key string) (string, error) {
	if s.local.Exists(ctx, key) {
		return "", nil
	}
	return s.remote.URL(ctx, key)
}

// Open prefers the local copy. An evicted file is fetched from the remote
// and written back to the cache.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if r, err := s.local.Open(ctx, key); err == nil {
		return r, nil
	}
	r, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := s.local.Save(ctx, key, data, ""); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to re-cache remote file")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	return s.local.Exists(ctx, key) || s.remote.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }
