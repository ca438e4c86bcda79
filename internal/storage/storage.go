// Package storage persists transcript outputs and recordings on local disk,
// in an S3-compatible bucket, or both.
package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
)

// ArtifactStore abstracts artifact storage backends. Keys are slash-separated
// paths relative to the store root, e.g. "meeting.srt" or "recordings/x.wav".
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a link clients should fetch instead of having the server
	// stream the file. It is "" when the file is served from local disk.
	URL(ctx context.Context, key string) (string, error)

	Open(ctx context.Context, key string) (io.ReadCloser, error)

	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Remote is the durable copy behind local disk. *S3Store satisfies it.
type Remote interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
	URL(ctx context.Context, key string) (string, error)
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// New creates an ArtifactStore rooted at dir based on config. Returns the
// store and optional background services (pruner, reconciler) that the caller
// must Start/Stop. Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, dir string, log zerolog.Logger) (ArtifactStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	tiered := NewTieredStore(NewLocalStore(dir), s3store, log)
	var services []BackgroundService
	if cfg.CacheRetention > 0 || cfg.CacheMaxGB > 0 {
		services = append(services, NewDiskPruner(dir, cfg.CacheRetention, int64(cfg.CacheMaxGB)<<30, s3store, log))
	}
	services = append(services, NewUploadReconciler(dir, s3store, log))
	return tiered, services, nil
}

// RemoteOf returns the remote tier behind store, or nil for local-only
// stores.
func RemoteOf(store ArtifactStore) Remote {
	switch s := store.(type) {
	case *TieredStore:
		return s.remote
	case *S3Store:
		return s
	}
	return nil
}

// ContentTypeFromExt returns the MIME type for an artifact file extension.
func ContentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// localFile is one artifact found on disk under a store root.
type localFile struct {
	path    string
	key     string
	size    int64
	modTime time.Time
}

// scanDir lists the artifacts under dir, oldest first. Dot files, which
// include in-flight temp writes, are skipped.
func scanDir(dir string) []localFile {
	var out []localFile
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		out = append(out, localFile{path: path, key: filepath.ToSlash(rel), size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].modTime.Before(out[j].modTime) })
	return out
}
