package transcript

import (
	"bytes"
	"context"
	"errors"

	"github.com/snarg/scribe-engine/internal/errs"
)

// Saver persists a rendered artifact under key. storage.ArtifactStore
// satisfies it.
type Saver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// Output records one successfully written format.
type Output struct {
	Format Format `json:"format"`
	Key    string `json:"key"`
}

// Writer renders a transcript into each requested format and saves it as
// <base>.<ext>.
type Writer struct {
	Store Saver
}

// WriteAll writes every format independently. A failure in one format does
// not stop the others; all failures are returned joined, each classified
// as a format error.
func (w Writer) WriteAll(ctx context.Context, t *Transcript, base string, formats []Format) ([]Output, error) {
	var (
		outputs []Output
		failed  []error
	)
	for _, f := range formats {
		key := base + "." + f.Ext()
		var buf bytes.Buffer
		if err := Render(&buf, t, f); err != nil {
			failed = append(failed, errs.Format("render "+string(f), key, err))
			continue
		}
		if err := w.Store.Save(ctx, key, buf.Bytes(), f.ContentType()); err != nil {
			failed = append(failed, errs.Format("write "+string(f), key, err))
			continue
		}
		outputs = append(outputs, Output{Format: f, Key: key})
	}
	return outputs, errors.Join(failed...)
}
