package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeQueue struct{ pending, running int }

func (q fakeQueue) Pending() int { return q.pending }
func (q fakeQueue) Running() int { return q.running }

type fakeStatus struct{}

func (fakeStatus) Recording() bool         { return true }
func (fakeStatus) SSESubscriberCount() int { return 3 }

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(nil, fakeQueue{pending: 2, running: 1}, fakeStatus{}))

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 7 {
		t.Fatalf("GatherAndCount = %d, %v; want 7 metrics", n, err)
	}
	mfs, _ := reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() == "scribe_engine_queue_pending_jobs" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 2 {
				t.Errorf("pending = %v, want 2", v)
			}
		}
	}
}

func TestInstrumentHandler_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/jobs/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/jobs/{id}", "418"))
	if after != before+1 {
		t.Errorf("counter went from %v to %v, want +1", before, after)
	}
}
