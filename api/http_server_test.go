package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tunnelcannon/limiter"
	"tunnelcannon/status"
)

func TestHandleSessions_ReturnsJSONList(t *testing.T) {
	mon := &status.Monitor{}
	mon.RegisterSession("client-a", nil)
	defer mon.RemoveSession("client-a")
	mon.IncConn("client-a")
	mon.AddBytes("client-a", 4096)

	srv := NewServer(mon, ":0", false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	srv.handleSessions(w, req)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 got %d", res.StatusCode)
	}

	var list []sessionDTO
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if list[0].Label != "client-a" {
		t.Errorf("Label = %q, want client-a", list[0].Label)
	}
	if list[0].ActiveConnections != 1 {
		t.Errorf("ActiveConnections = %d, want 1", list[0].ActiveConnections)
	}
	if list[0].BytesRelayed != 4096 {
		t.Errorf("BytesRelayed = %d, want 4096", list[0].BytesRelayed)
	}
}

func TestHandleSessions_MethodNotAllowed(t *testing.T) {
	mon := &status.Monitor{}
	srv := NewServer(mon, ":0", false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	srv.handleSessions(w, req)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405 got %d", res.StatusCode)
	}
}

func TestHandleBandwidth_ReflectsLimiterRates(t *testing.T) {
	mon := &status.Monitor{}
	lim := limiter.NewSharedLimiter(2048)
	mon.RegisterSession("client-b", lim)
	defer mon.RemoveSession("client-b")

	srv := NewServer(mon, ":0", false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bandwidth", nil)
	w := httptest.NewRecorder()
	srv.handleBandwidth(w, req)

	res := w.Result()
	defer res.Body.Close()

	var list []bandwidthDTO
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(list))
	}
	if list[0].MaxRateBps != 2048 {
		t.Errorf("MaxRateBps = %d, want 2048", list[0].MaxRateBps)
	}
}
