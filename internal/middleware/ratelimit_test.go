package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/R3E-Network/walletchat/internal/metrics"
	"github.com/R3E-Network/walletchat/pkg/logger"
	addrs "github.com/R3E-Network/walletchat/pkg/testutil"
)

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimiterPerCaller(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	h := rl.Handler(ok())

	alice, bob := addrs.Address(1), addrs.Address(2)
	as := func(addr string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(WithAddress(req.Context(), addr))
	}

	for i := 0; i < 2; i++ {
		if rec := serve(h, as(alice)); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := serve(h, as(alice))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once burst is spent, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rec := serve(h, as(bob)); rec.Code != http.StatusOK {
		t.Fatalf("second caller should have a separate bucket, got %d", rec.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	h := NewRateLimiter(0, 0, logger.Discard()).Handler(ok())
	for i := 0; i < 50; i++ {
		if rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusOK {
			t.Fatalf("expected unlimited, got %d", rec.Code)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logger.Discard())
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.getLimiter("idle")
	now = now.Add(time.Hour)
	rl.getLimiter("active")

	if removed := rl.Cleanup(time.Minute); removed != 1 {
		t.Fatalf("expected 1 idle caller removed, got %d", removed)
	}
	if _, ok := rl.visitors["active"]; !ok {
		t.Fatalf("active caller should be kept")
	}
	rl.Close()
	rl.Close()
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	m := metrics.New()
	r := mux.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Handle("/v1/messages/{id}", ok()).Methods(http.MethodGet)

	serve(r, httptest.NewRequest(http.MethodGet, "/v1/messages/abc", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/v1/messages/def", nil))

	expected := `
# HELP walletchat_http_requests_total Total number of HTTP requests handled.
# TYPE walletchat_http_requests_total counter
walletchat_http_requests_total{method="GET",path="/v1/messages/{id}",status="200"} 2
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "walletchat_http_requests_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	h := RequestID(NewCORSMiddleware([]string{"https://app.example"}).Handler(ok()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("expected allowed origin to be echoed")
	}

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.app.example")
	req.Header.Set(RequestIDHeader, "abc")
	rec = serve(h, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("suffix match must not be allowed")
	}
	if rec.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("expected caller request id to be kept")
	}
}
