package mock

import (
	"encoding/json"
	"net/http"
	"testing"

	"portal-proxy/internal/config"
)

func TestNewRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry(&config.Config{Mock: config.MockConfig{Enabled: true}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if r.Paths() != len(DefaultRoutes) {
		t.Errorf("Paths() = %d, want %d", r.Paths(), len(DefaultRoutes))
	}

	for _, route := range DefaultRoutes {
		t.Run(route.Path, func(t *testing.T) {
			resp, ok := r.Lookup(route.Path)
			if !ok {
				t.Fatalf("Lookup(%q) missed", route.Path)
			}
			if resp.Status != http.StatusOK {
				t.Errorf("Status = %d, want %d", resp.Status, http.StatusOK)
			}
			var body map[string]any
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["success"] != true {
				t.Errorf("success = %v, want true", body["success"])
			}
		})
	}
}

func TestNewRegistry_Configured(t *testing.T) {
	cfg := &config.Config{Mock: config.MockConfig{
		Enabled: true,
		Routes: []config.MockRoute{
			{Path: "/api/courses/", Body: `[]`},
			{Path: "/api/jobs", Status: http.StatusAccepted, Body: `{"items":[],"total":0}`},
		},
	}}
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		path       string
		wantOK     bool
		wantStatus int
	}{
		{"/api/courses", true, http.StatusOK},
		{"/api/courses/", true, http.StatusOK},
		{"/api/jobs", true, http.StatusAccepted},
		{"/api/users/profile", false, 0}, // defaults are replaced, not merged
		{"/api/unknown", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, ok := r.Lookup(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && resp.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestNewRegistry_InvalidBody(t *testing.T) {
	cfg := &config.Config{Mock: config.MockConfig{
		Routes: []config.MockRoute{{Path: "/api/x", Body: `{not json`}},
	}}
	if _, err := NewRegistry(cfg); err == nil {
		t.Fatal("NewRegistry() expected error for invalid JSON body, got nil")
	}
}

func TestRegistry_Disabled(t *testing.T) {
	r, err := NewRegistry(&config.Config{})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if r.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if _, ok := r.Lookup("/api/users/profile"); ok {
		t.Error("Lookup() should miss while the fallback is disabled")
	}

	var nilRegistry *Registry
	if nilRegistry.Enabled() {
		t.Error("nil registry should report disabled")
	}
	if _, ok := nilRegistry.Lookup("/api/users/profile"); ok {
		t.Error("nil registry Lookup() should miss")
	}
}
