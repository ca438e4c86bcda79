package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 64 << 10

// upload is one multipart audio submission to a speech engine.
type upload struct {
	provider  string // used in error messages
	url       string
	fileField string
	header    http.Header
	fields    [][2]string // sent in order after the file part
}

// field appends a form field. Empty values are skipped so engines apply
// their own defaults.
func (u *upload) field(name, value string) {
	if value != "" {
		u.fields = append(u.fields, [2]string{name, value})
	}
}

// post streams audioPath to the engine and decodes a 200 JSON reply into
// out. The file is piped into the request body, so long recordings are
// never held in memory.
func (u *upload) post(ctx context.Context, client *http.Client, audioPath string, out any) error {
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		pw.CloseWithError(u.writeForm(mw, f, filepath.Base(audioPath)))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, pr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range u.header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request: %v", ErrModelLoad, u.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(u.provider, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", u.provider, err)
	}
	return nil
}

func (u *upload) writeForm(mw *multipart.Writer, audio io.Reader, name string) error {
	part, err := mw.CreateFormFile(u.fileField, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	for _, kv := range u.fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return mw.Close()
}
