package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStreamEvents(t *testing.T) {
	live := &fakeLive{
		replay: []SSEEvent{{ID: "e1", Type: "job_queued", Data: []byte(`{"job_id":"a"}`)}},
		ch:     make(chan SSEEvent, 2),
	}
	live.ch <- SSEEvent{ID: "e2", Type: "recording", SubType: "saved", Data: []byte(`{"path":"x.wav"}`)}
	close(live.ch)

	opts := testOptions()
	opts.Live = live
	req := httptest.NewRequest("GET", "/api/v1/events/stream?types=job_queued,recording:saved&jobs=a", nil)
	req.Header.Set("Last-Event-ID", "e0")
	rec := serve(opts, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	replayed := "id: e1\nevent: job_queued\ndata: {\"job_id\":\"a\"}\n\n"
	streamed := "id: e2\nevent: recording:saved\ndata: {\"path\":\"x.wav\"}\n\n"
	if !strings.HasPrefix(body, "retry: 3000\n\n"+replayed) {
		t.Errorf("replay missing or out of order: %q", body)
	}
	if !strings.Contains(body, streamed) {
		t.Errorf("streamed event missing: %q", body)
	}
	if live.lastID != "e0" {
		t.Errorf("ReplaySince got %q", live.lastID)
	}
	if f := live.lastFilter; len(f.Types) != 2 || f.Types[1] != "recording:saved" || len(f.Jobs) != 1 || f.Jobs[0] != "a" {
		t.Errorf("filter = %+v", f)
	}
}

func TestStreamEvents_SkipsReplayedDuplicates(t *testing.T) {
	dup := SSEEvent{ID: "7", Type: "job_completed", Data: []byte(`{}`)}
	live := &fakeLive{replay: []SSEEvent{dup}, ch: make(chan SSEEvent, 2)}
	live.ch <- dup
	live.ch <- SSEEvent{ID: "8", Type: "job_queued", Data: []byte(`{}`)}
	close(live.ch)

	opts := testOptions()
	opts.Live = live
	rec := serve(opts, httptest.NewRequest("GET", "/api/v1/events/stream?last_event_id=6", nil))

	body := rec.Body.String()
	if n := strings.Count(body, "id: 7\n"); n != 1 {
		t.Errorf("event 7 sent %d times: %q", n, body)
	}
	if !strings.Contains(body, "id: 8\n") {
		t.Errorf("live event missing: %q", body)
	}
	if live.lastID != "6" {
		t.Errorf("query last_event_id not used: %q", live.lastID)
	}
}

func TestStreamEvents_NoReplayWithoutHeader(t *testing.T) {
	live := &fakeLive{
		replay: []SSEEvent{{ID: "e1", Type: "job_queued"}},
		ch:     make(chan SSEEvent),
	}
	close(live.ch)
	opts := testOptions()
	opts.Live = live
	rec := serve(opts, httptest.NewRequest("GET", "/api/v1/events/stream", nil))
	if strings.Contains(rec.Body.String(), "id: e1") {
		t.Error("events replayed without Last-Event-ID")
	}
}

func TestStreamEvents_Unavailable(t *testing.T) {
	rec := serve(testOptions(), httptest.NewRequest("GET", "/api/v1/events/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
