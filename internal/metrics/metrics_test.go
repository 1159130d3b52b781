package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("anchord")

	c := r.RegisterCounter("events_ingested_total", "Total ingested")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("counter = %d, want 5", c.Value())
	}

	g := r.RegisterGauge("pending_events", "Buffered events")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Fatalf("gauge = %d, want 9", g.Value())
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry("anchord")
	a := r.RegisterCounter("events_ingested_total", "Total ingested")
	b := r.RegisterCounter("events_ingested_total", "Total ingested")
	if a != b {
		t.Fatal("re-registering a name must return the same counter")
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.RegisterHistogram("anchor_duration_seconds", "Anchor latency", []float64{0.1, 1, 10})

	h.Observe(0.05)  // <= 0.1
	h.Observe(0.1)   // le is inclusive: still the 0.1 bucket
	h.Observe(0.5)   // <= 1
	h.ObserveDuration(30 * time.Second) // +Inf

	if h.Count() != 4 {
		t.Fatalf("count = %d, want 4", h.Count())
	}

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		`anchor_duration_seconds_bucket{le="0.100000"} 2`,
		`anchor_duration_seconds_bucket{le="1.000000"} 3`,
		`anchor_duration_seconds_bucket{le="10.000000"} 3`,
		`anchor_duration_seconds_bucket{le="+Inf"} 4`,
		`anchor_duration_seconds_count 4`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWritePrometheusFormat(t *testing.T) {
	r := NewRegistry("anchord")
	r.RegisterCounter("batches_flushed_total", "Total batches created").Inc()
	r.RegisterGauge("failed_batches", "Failed batches").Set(2)

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"# HELP anchord_batches_flushed_total Total batches created",
		"# TYPE anchord_batches_flushed_total counter",
		"anchord_batches_flushed_total 1",
		"# TYPE anchord_failed_batches gauge",
		"anchord_failed_batches 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("anchord")
	r.RegisterCounter("events_ingested_total", "Total ingested").Add(3)

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; version=0.0.4" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "anchord_events_ingested_total 3") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestPipelineRegistersEverything(t *testing.T) {
	r := NewRegistry("anchord")
	p := NewPipeline(r)

	p.EventsIngested.Inc()
	p.AnchorLatency.Observe(0.2)

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"anchord_events_ingested_total 1",
		"anchord_events_rejected_total 0",
		"anchord_batches_flushed_total 0",
		"anchord_anchor_attempts_total 0",
		"anchord_anchor_failures_total 0",
		"anchord_pending_events 0",
		"anchord_failed_batches 0",
		"anchord_anchor_duration_seconds_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
