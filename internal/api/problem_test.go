package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProblem_JSONSerialization(t *testing.T) {
	p := Problem{
		Type:     "https://loomengine.dev/errors/not-found",
		Title:    "Not Found",
		Status:   404,
		Detail:   "session not found",
		Instance: "/stats",
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("failed to marshal Problem: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal Problem JSON: %v", err)
	}

	if decoded["type"] != "https://loomengine.dev/errors/not-found" {
		t.Errorf("type = %v, want %v", decoded["type"], "https://loomengine.dev/errors/not-found")
	}
	if decoded["title"] != "Not Found" {
		t.Errorf("title = %v, want %v", decoded["title"], "Not Found")
	}
	if decoded["status"] != float64(404) {
		t.Errorf("status = %v, want %v", decoded["status"], 404)
	}
	if decoded["detail"] != "session not found" {
		t.Errorf("detail = %v, want %v", decoded["detail"], "session not found")
	}
}

func TestWriteProblem_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stats", nil)

	WriteProblem(w, r, http.StatusNotFound, "no active session")

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", contentType)
	}
}

func TestWriteProblem_StatusCode(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stats", nil)

	WriteProblem(w, r, http.StatusNotFound, "no active session")

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestWriteProblem_BodyFormat(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stats", nil)

	WriteProblem(w, r, http.StatusNotFound, "no active session")

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}

	if p.Type != "https://loomengine.dev/errors/not-found" {
		t.Errorf("type = %v, want https://loomengine.dev/errors/not-found", p.Type)
	}
	if p.Title != "Not Found" {
		t.Errorf("title = %v, want Not Found", p.Title)
	}
	if p.Status != 404 {
		t.Errorf("status = %d, want 404", p.Status)
	}
	if p.Detail != "no active session" {
		t.Errorf("detail = %v, want 'no active session'", p.Detail)
	}
	if p.Instance != "/stats" {
		t.Errorf("instance = %v, want /stats", p.Instance)
	}
}

func TestWriteProblem_UnknownStatusFallsBackToGenericType(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stats", nil)

	WriteProblem(w, r, http.StatusTeapot, "unused")

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Type != "https://loomengine.dev/errors/unknown" {
		t.Errorf("type = %v, want https://loomengine.dev/errors/unknown", p.Type)
	}
	if p.Title != http.StatusText(http.StatusTeapot) {
		t.Errorf("title = %v, want %v", p.Title, http.StatusText(http.StatusTeapot))
	}
}

func TestWriteProblem_503Type(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stats", nil)

	WriteProblem(w, r, http.StatusServiceUnavailable, "store unavailable")

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Type != "https://loomengine.dev/errors/service-unavailable" {
		t.Errorf("type = %v, want https://loomengine.dev/errors/service-unavailable", p.Type)
	}
}
