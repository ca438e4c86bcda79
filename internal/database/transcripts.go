package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// TranscriptSummary is one archived transcript without its utterances.
type TranscriptSummary struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`
	Language    string    `json:"language,omitempty"`
	Task        string    `json:"task"`
	Model       string    `json:"model,omitempty"`
	Diarization string    `json:"diarization"`
	Duration    float64   `json:"duration"`
	Speakers    int       `json:"speakers"`
	WordCount   int       `json:"word_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// TranscriptFilter narrows ListTranscripts. Zero values disable a filter.
type TranscriptFilter struct {
	Source   string
	Language string
	Query    string
	Limit    int
	Offset   int
}

// InsertTranscript archives t and returns its id.
func (db *DB) InsertTranscript(ctx context.Context, t *transcript.Transcript) (int64, error) {
	utterances, err := json.Marshal(t.Utterances)
	if err != nil {
		return 0, fmt.Errorf("marshal utterances: %w", err)
	}
	text := plainText(t.Utterances)
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO transcripts (
			source, language, task, model, diarization,
			duration_s, speakers, word_count, text, utterances, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		t.Source, t.Language, string(t.Task), t.Model, t.Diarization,
		t.Duration, len(t.Speakers()), len(strings.Fields(text)), text, utterances, created,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}
	return id, nil
}

// GetTranscript loads a full transcript by id.
func (db *DB) GetTranscript(ctx context.Context, id int64) (*transcript.Transcript, error) {
	var (
		t   transcript.Transcript
		raw []byte
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT source, language, task, model, diarization, duration_s, utterances, created_at
		FROM transcripts
		WHERE id = $1
	`, id).Scan(&t.Source, &t.Language, &t.Task, &t.Model, &t.Diarization, &t.Duration, &raw, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript %d: %w", id, err)
	}
	if err := json.Unmarshal(raw, &t.Utterances); err != nil {
		return nil, fmt.Errorf("decode utterances for transcript %d: %w", id, err)
	}
	return &t, nil
}

// ListTranscripts returns archived transcripts newest first, together with
// the total number matching the filter.
func (db *DB) ListTranscripts(ctx context.Context, f TranscriptFilter) ([]TranscriptSummary, int, error) {
	limit := clampLimit(f.Limit, 50, 500)
	args := []any{pqString(f.Source), pqString(f.Language), pqString(f.Query)}
	where := `
		WHERE ($1::text IS NULL OR source = $1)
		  AND ($2::text IS NULL OR language = $2)
		  AND ($3::text IS NULL OR to_tsvector('simple', text) @@ plainto_tsquery('simple', $3))`

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM transcripts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transcripts: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, source, language, task, model, diarization,
			duration_s, speakers, word_count, created_at
		FROM transcripts`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, append(args, limit, max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var result []TranscriptSummary
	for rows.Next() {
		var s TranscriptSummary
		if err := rows.Scan(
			&s.ID, &s.Source, &s.Language, &s.Task, &s.Model, &s.Diarization,
			&s.Duration, &s.Speakers, &s.WordCount, &s.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		result = append(result, s)
	}
	return result, total, rows.Err()
}

// DeleteTranscript removes an archived transcript.
func (db *DB) DeleteTranscript(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM transcripts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transcript %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func plainText(us []transcript.Utterance) string {
	var b strings.Builder
	for i, u := range us {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(u.Text)
	}
	return b.String()
}
