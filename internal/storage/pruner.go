package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
)

// DiskPruner keeps the local cache of a tiered store within an age and size
// budget. A file is removed only after its remote copy is confirmed, so the
// bucket always holds everything the pruner deletes.
type DiskPruner struct {
	periodic
	dir       string
	retention time.Duration
	maxBytes  int64
	remote    Remote
	now       func() time.Time
	log       zerolog.Logger
}

// NewDiskPruner creates a pruner that runs at Start and hourly after. A
// zero retention or maxBytes disables that limit.
func NewDiskPruner(dir string, retention time.Duration, maxBytes int64, remote Remote, log zerolog.Logger) *DiskPruner {
	p := &DiskPruner{
		dir:       dir,
		retention: retention,
		maxBytes:  maxBytes,
		remote:    remote,
		now:       time.Now,
		log:       log.With().Str("component", "disk-pruner").Logger(),
	}
	p.periodic = periodic{delay: 0, interval: time.Hour, fn: func(ctx context.Context) { p.prune(ctx) }}
	return p
}

func (p *DiskPruner) Start() { p.start() }

func (p *DiskPruner) Stop() { p.stop() }

type pruneResult struct {
	removed     int
	freed       int64
	notUploaded int
}

func (p *DiskPruner) prune(ctx context.Context) pruneResult {
	var res pruneResult
	for _, f := range evictable(scanDir(p.dir), p.now(), p.retention, p.maxBytes) {
		if ctx.Err() != nil {
			break
		}
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		backedUp := p.remote == nil || p.remote.Exists(hctx, f.key)
		cancel()
		if !backedUp {
			res.notUploaded++
			continue
		}
		if err := os.Remove(f.path); err != nil {
			p.log.Warn().Err(err).Str("key", f.key).Msg("evict failed")
			continue
		}
		res.removed++
		res.freed += f.size
		metrics.CacheEvictionsTotal.Inc()
	}
	removeEmptyDirs(p.dir)

	if res.removed > 0 || res.notUploaded > 0 {
		p.log.Info().
			Int("removed", res.removed).
			Int64("freed_bytes", res.freed).
			Int("not_uploaded", res.notUploaded).
			Msg("cache prune complete")
	}
	return res
}

// evictable picks the files to drop from files, which are sorted oldest
// first: everything older than retention, then the oldest of the rest until
// the total fits in maxBytes.
func evictable(files []localFile, now time.Time, retention time.Duration, maxBytes int64) []localFile {
	var total int64
	for _, f := range files {
		total += f.size
	}
	cutoff := now.Add(-retention)
	var out []localFile
	for _, f := range files {
		expired := retention > 0 && f.modTime.Before(cutoff)
		over := maxBytes > 0 && total > maxBytes
		if !expired && !over {
			continue
		}
		out = append(out, f)
		total -= f.size
	}
	return out
}

// removeEmptyDirs deletes empty subdirectories bottom-up, never the root.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, err := os.ReadDir(dirs[i]); err == nil && len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
}
