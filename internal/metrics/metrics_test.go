package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedSource struct{ subs, pending int }

func (s fixedSource) Subscribers() int { return s.subs }
func (s fixedSource) Pending() int     { return s.pending }

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New(fixedSource{subs: 3, pending: 1})
	m.RecordRead()
	m.RecordRead()
	m.SubscriberDropped()
	m.CorrelationTimeout("tools/list")
	m.HTTPRequest("/mcp/invoke", 202)

	if got := testutil.ToFloat64(m.records); got != 2 {
		t.Fatalf("records: got %v", got)
	}
	if got := testutil.ToFloat64(m.dropped); got != 1 {
		t.Fatalf("dropped: got %v", got)
	}
	if got := testutil.ToFloat64(m.timeouts.WithLabelValues("tools/list")); got != 1 {
		t.Fatalf("timeouts: got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/mcp/invoke", "202")); got != 1 {
		t.Fatalf("http requests: got %v", got)
	}
}

func TestMetrics_HandlerExposesGauges(t *testing.T) {
	t.Parallel()

	m := New(fixedSource{subs: 4, pending: 2})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"mcp_bridge_sse_subscribers 4", "mcp_bridge_pending_requests 2"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordRead()
	m.SubscriberDropped()
	m.CorrelationTimeout("x")
	m.HTTPRequest("/", 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics, got %d", rec.Code)
	}
}
