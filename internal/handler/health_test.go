package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"portal-proxy/internal/config"
	"portal-proxy/internal/mock"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, nil, "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		mockOn   bool
		wantMock bool
	}{
		{"mock fallback off", false, false},
		{"mock fallback on", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				App:      config.AppConfig{Environment: "production"},
				Server:   config.ServerConfig{RoutePrefix: "/api"},
				Upstream: config.UpstreamConfig{BaseURL: "https://backend.example.com"},
				Mock:     config.MockConfig{Enabled: tt.mockOn},
			}
			mocks, err := mock.NewRegistry(cfg)
			if err != nil {
				t.Fatalf("NewRegistry: %v", err)
			}

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
			rec := httptest.NewRecorder()

			h := NewHealthHandler(cfg, mocks, "1.2.3")
			if err := h.Status(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Status() error = %v", err)
			}

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["version"] != "1.2.3" {
				t.Errorf("body.version = %v, want %q", body["version"], "1.2.3")
			}
			if body["upstream_url"] != "https://backend.example.com" {
				t.Errorf("body.upstream_url = %v, want %q", body["upstream_url"], "https://backend.example.com")
			}
			if body["environment"] != "production" {
				t.Errorf("body.environment = %v, want %q", body["environment"], "production")
			}
			if body["mock_fallback"] != tt.wantMock {
				t.Errorf("body.mock_fallback = %v, want %v", body["mock_fallback"], tt.wantMock)
			}
		})
	}
}
