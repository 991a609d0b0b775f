package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/slack/commands":               "/slack/commands",
		"/v1/tickets/abc/comments":      "/v1/tickets/:id/comments",
		"/v1/tickets/abc/extra":         "/v1/tickets/abc/extra",
		"/slack/oauth/callback?code=xx": "/slack/oauth/callback",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	m := NewMetrics(nil)
	handler := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	req := httptest.NewRequest(http.MethodPost, "/slack/commands", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodPost, "/slack/commands", "401"))
	if got != 1 {
		t.Fatalf("expected 1 request counted, got %v", got)
	}
}

func TestHandlerExposesBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if err := RegisterBuildInfo(reg, "1.2.3", "abc"); err != nil {
		t.Fatalf("RegisterBuildInfo: %v", err)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `build_info{commit="abc",version="1.2.3"} 1`) {
		t.Fatalf("build_info missing from exposition:\n%s", rr.Body.String())
	}
}
