package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestObserveDispatchCountsFailures(t *testing.T) {
	m := NewMetrics()
	m.ObserveDispatch("allocation.allocated", "publish_allocated_event", "success", 10*time.Millisecond)
	m.ObserveDispatch("allocation.allocated", "publish_allocated_event", "failed", 20*time.Millisecond)
	m.ObserveDispatch("allocation.allocated", "publish_allocated_event", "skipped", time.Millisecond)

	if got := m.failuresTotal.Value("allocation.allocated", "publish_allocated_event"); got != 1 {
		t.Fatalf("failures: got=%v want=1", got)
	}
	if got := m.dispatchLatency.Count("allocation.allocated", "publish_allocated_event"); got != 3 {
		t.Fatalf("latency observations: got=%d want=3", got)
	}
}

func TestWritePrometheus(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("POST", "/allocate", "201", 30*time.Millisecond)
	m.ApiInflightInc()

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE alloc_api_requests_total counter",
		`alloc_api_requests_total{method="POST",route="/allocate",status="201"} 1.000000`,
		`alloc_api_request_duration_seconds_bucket{method="POST",route="/allocate",status="201",le="0.05"} 1`,
		`alloc_api_request_duration_seconds_bucket{method="POST",route="/allocate",status="201",le="0.025"} 0`,
		"alloc_api_inflight_requests 1.000000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ObserveDispatch("x", "y", "failed", time.Millisecond)
	m.ApiInflightInc()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"a"}, []string{"q\"x\n"})
	if got != `{a="q\"x\n"}` {
		t.Fatalf("escaped: %s", got)
	}
}
