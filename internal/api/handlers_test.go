package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomengine/loom/internal/engine"
)

type fakeEngineSource struct {
	eng *engine.Engine
}

func (f *fakeEngineSource) ActiveEngine() *engine.Engine { return f.eng }

func TestHealthz_AlwaysOK(t *testing.T) {
	h := NewHandler(&fakeEngineSource{}, "test-version")
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test-version" {
		t.Errorf("version = %q, want test-version", resp.Version)
	}
}

func TestStats_NoActiveSessionReturns404(t *testing.T) {
	h := NewHandler(&fakeEngineSource{}, "test-version")
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal problem: %v", err)
	}
	if p.Detail != "no active session" {
		t.Errorf("detail = %q, want 'no active session'", p.Detail)
	}
}

func TestNewRouter_UnknownRouteReturns404(t *testing.T) {
	h := NewHandler(&fakeEngineSource{}, "test-version")
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lore", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
