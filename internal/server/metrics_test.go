package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/cropsage/cropsage/internal/assistant"
)

// newMetricsTestServer builds a *Server whose metrics are registered in the
// returned fresh registry, keeping assertions hermetic.
func newMetricsTestServer(a answerer) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	s := &Server{
		assistant: a,
		cfg:       &Config{Port: 8080, ChatTimeout: time.Minute},
		log:       slog.Default(),
		metrics:   newServerMetrics(reg),
	}
	return s, reg
}

// counterValue returns the value of the counter with the given name and
// label pairs, or -1 when absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestMetrics_ChatOKCounted verifies that a successful chat turn increments
// both the ok-outcome request counter and the per-path turn counter.
func TestMetrics_ChatOKCounted(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{turn: &assistant.Turn{Answer: "hi", Path: assistant.PathDirect}}
	s, reg := newMetricsTestServer(a)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	s.handleChat(w, req)

	if got := counterValue(t, reg, "cropsage_chat_requests_total", map[string]string{"outcome": "ok"}); got != 1 {
		t.Errorf("cropsage_chat_requests_total{outcome=ok}: expected 1, got %v", got)
	}
	if got := counterValue(t, reg, "cropsage_chat_turns_total", map[string]string{"path": "direct"}); got != 1 {
		t.Errorf("cropsage_chat_turns_total{path=direct}: expected 1, got %v", got)
	}
}

// TestMetrics_ChatErrorCounted verifies that a failed turn increments the
// error-outcome counter and leaves the turn counter untouched.
func TestMetrics_ChatErrorCounted(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{err: assistant.ErrGenerationUnavailable}
	s, reg := newMetricsTestServer(a)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	s.handleChat(w, req)

	if got := counterValue(t, reg, "cropsage_chat_requests_total", map[string]string{"outcome": "error"}); got != 1 {
		t.Errorf("cropsage_chat_requests_total{outcome=error}: expected 1, got %v", got)
	}
	if got := counterValue(t, reg, "cropsage_chat_turns_total", map[string]string{"path": "direct"}); got != -1 {
		t.Errorf("expected no turn counter samples after a failed turn, got %v", got)
	}
}

// TestMetrics_InstrumentRecordsHTTP verifies the instrument middleware
// records method, handler, and status code for wrapped endpoints.
func TestMetrics_InstrumentRecordsHTTP(t *testing.T) {
	t.Parallel()

	s, reg := newMetricsTestServer(nil)

	h := s.instrument("health", http.HandlerFunc(s.handleHealth))
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	want := map[string]string{"method": "GET", "handler": "health", "code": "200"}
	if got := counterValue(t, reg, "cropsage_http_requests_total", want); got != 1 {
		t.Errorf("cropsage_http_requests_total: expected 1, got %v", got)
	}
}
