//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "bad input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "bad input" {
		t.Errorf("Expected error message, got %v", got)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubCounter int

func (s stubCounter) Count() int { return int(s) }

type healthBody struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Sessions  int               `json:"sessions"`
	Timestamp string            `json:"timestamp"`
}

func serveHealth(t *testing.T, h *HealthHandler) (int, healthBody) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return w.Code, body
}

func TestHealthHealthy(t *testing.T) {
	h := NewHealthHandler(stubPinger{}, stubCounter(3), time.Second)
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	code, body := serveHealth(t, h)
	if code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", code)
	}
	if body.Status != "healthy" || body.Checks["database"] != "ok" || body.Checks["api"] != "ok" {
		t.Errorf("Unexpected body %+v", body)
	}
	if body.Sessions != 3 {
		t.Errorf("Expected 3 sessions, got %d", body.Sessions)
	}
	if body.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("Unexpected timestamp %q", body.Timestamp)
	}
}

func TestHealthDegraded(t *testing.T) {
	code, body := serveHealth(t, NewHealthHandler(stubPinger{err: errors.New("locked")}, nil, 0))
	if code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", code)
	}
	if body.Status != "degraded" || body.Checks["database"] != "unreachable" {
		t.Errorf("Unexpected body %+v", body)
	}
}
