package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func TestHealth_AlwaysOK(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{})

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	decodeResponse(t, rr, &resp)
	if resp.Status != "healthy" || resp.Checks["runtime"] != "ok" {
		t.Errorf("response = %+v", resp)
	}
}

func TestReady_AllDependenciesHealthy(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:    stubChecker{},
		RedisChecker: stubChecker{},
		AMQPChecker:  stubChecker{},
	})

	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	decodeResponse(t, rr, &resp)
	for _, dep := range []string{"database", "redis", "amqp"} {
		if resp.Checks[dep] != "ok" {
			t.Errorf("check %q = %q, want ok", dep, resp.Checks[dep])
		}
	}
}

func TestReady_FailingDependency(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{
		DBChecker: stubChecker{err: errors.New("connection refused")},
	})

	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	var resp HealthResponse
	decodeResponse(t, rr, &resp)
	if resp.Status != "unhealthy" || resp.Checks["database"] != "error" {
		t.Errorf("response = %+v", resp)
	}
	// Unconfigured dependencies still count as healthy.
	if resp.Checks["redis"] != "ok" {
		t.Errorf("redis check = %q, want ok", resp.Checks["redis"])
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{})
	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}
