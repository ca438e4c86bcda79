package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
)

// UploadReconciler finds recent local artifacts that never reached the
// remote tier, after a failed write or a crash, and uploads them.
type UploadReconciler struct {
	periodic
	dir    string
	remote Remote
	window time.Duration
	log    zerolog.Logger
}

// NewUploadReconciler checks files modified in the last 24h. The first pass
// runs two minutes after Start so it does not race startup uploads; later
// passes run every five minutes.
func NewUploadReconciler(dir string, remote Remote, log zerolog.Logger) *UploadReconciler {
	r := &UploadReconciler{
		dir:    dir,
		remote: remote,
		window: 24 * time.Hour,
		log:    log.With().Str("component", "upload-reconciler").Logger(),
	}
	r.periodic = periodic{delay: 2 * time.Minute, interval: 5 * time.Minute, fn: func(ctx context.Context) { r.reconcile(ctx) }}
	return r
}

func (r *UploadReconciler) Start() { r.start() }

func (r *UploadReconciler) Stop() { r.stop() }

// reconcile returns how many files it uploaded and how many failed.
func (r *UploadReconciler) reconcile(ctx context.Context) (uploaded, failed int) {
	cutoff := time.Now().Add(-r.window)
	for _, f := range scanDir(r.dir) {
		if ctx.Err() != nil {
			break
		}
		if f.modTime.Before(cutoff) || r.present(ctx, f.key) {
			continue
		}
		if err := r.upload(ctx, f); err != nil {
			r.log.Warn().Err(err).Str("key", f.key).Msg("reconcile upload failed")
			metrics.UploadsTotal.WithLabelValues("reconcile", "failed").Inc()
			failed++
			continue
		}
		metrics.UploadsTotal.WithLabelValues("reconcile", "uploaded").Inc()
		uploaded++
	}
	if uploaded > 0 || failed > 0 {
		r.log.Info().Int("uploaded", uploaded).Int("failed", failed).Msg("reconcile complete")
	}
	return uploaded, failed
}

func (r *UploadReconciler) present(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.remote.Exists(ctx, key)
}

func (r *UploadReconciler) upload(ctx context.Context, f localFile) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.remote.Save(ctx, f.key, data, ContentTypeFromExt(filepath.Ext(f.path)))
}
