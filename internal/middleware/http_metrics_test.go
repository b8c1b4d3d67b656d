package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/movies", "/movies"},
		{"/movies/42", "/movies/{id}"},
		{"/movies/42/tree", "/movies/{id}/tree"},
		{"/movies/42/active", "/movies/{id}/active"},
		{"/scenes/7", "/scenes/{id}"},
		{"/scenes/7/children", "/scenes/{id}/children"},
		{"/escrows/3", "/escrows/{id}"},
		{"/escrows/3/confirm", "/escrows/{id}/confirm"},
		{"/escrows/3/refund", "/escrows/{id}/refund"},
		{"/escrows/3/check-expired", "/escrows/{id}/check-expired"},
		{"/receipts/1f2a", "/receipts/{tx_ref}"},
		{"/slots/lock", "/slots/lock"},
		{"/slots/verify-payment", "/slots/verify-payment"},
		{"/events/ws", "/events/ws"},
		{"/unknown/route", "/unknown/route"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// findMetric returns the metric family with the given name, or nil.
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestHTTPMetrics_RecordsNormalizedRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/scenes/42", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	mf := findMetric(t, reg, MetricHTTPRequestsTotal)
	if mf == nil {
		t.Fatal("http_requests_total not gathered")
	}
	found := false
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["path"] == "/scenes/{id}" && labels["method"] == "GET" && labels["status"] == "200" {
			found = true
			if m.GetCounter().GetValue() != 1 {
				t.Errorf("counter = %v, want 1", m.GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Error("no sample with normalized path /scenes/{id}")
	}
}

func TestHTTPMetrics_SkipsHealthEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	mf := findMetric(t, reg, MetricHTTPRequestsTotal)
	if mf != nil && len(mf.GetMetric()) != 0 {
		t.Errorf("expected no samples for /health, got %d", len(mf.GetMetric()))
	}
}
