package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordDebit("text", 1, false)
	m.RecordRefund("text")
	m.RecordFileOp("upload", errors.New("x"))
	m.RecordHTTPRequest("GET", "/v1/me", 200, time.Millisecond)
	m.InFlight(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("nil metrics handler should 404, got %d", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.RecordDebit("text", 1, false)
	m.RecordDebit("image", 3, false)
	m.RecordDebit("text", 0, true)
	m.RecordFileOp("upload", nil)
	m.RecordFileOp("upload", errors.New("quota"))
	m.RecordStorageDrift()

	if got := testutil.ToFloat64(m.debits.WithLabelValues("image", "false")); got != 3 {
		t.Fatalf("expected 3 image credits, got %v", got)
	}
	if got := testutil.ToFloat64(m.fileOps.WithLabelValues("upload", "error")); got != 1 {
		t.Fatalf("expected 1 failed upload, got %v", got)
	}
	if got := testutil.ToFloat64(m.storageDrift); got != 1 {
		t.Fatalf("expected 1 drift, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordMessage("text")
	m.RecordHTTPRequest("get", "/v1/me", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`walletchat_messaging_messages_total{kind="text"} 1`,
		`walletchat_http_requests_total{method="GET",path="/v1/me",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
