package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestDeepHealthHandlerReportsFailure(t *testing.T) {
	h := DeepHealthHandler(func(ctx context.Context) error {
		return errors.New("redis unhealthy: connection refused")
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "redis unhealthy") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestDeepHealthHandlerPassesWhenHealthy(t *testing.T) {
	h := DeepHealthHandler(func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestJSONStatus(t *testing.T) {
	h := JSONStatus(func() any {
		return map[string]any{"node_types": []string{"http", "llm"}}
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"node_types":["http","llm"]`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
