package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders_AddsHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeaders_PresentOnStreamedResponse(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/stream", func(c echo.Context) error {
		c.Response().WriteHeader(http.StatusOK)
		_, err := c.Response().Write([]byte("chunk"))
		return err
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", http.NoBody))

	if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
}

func TestSecurityHeaders_StripsConnectionHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())

	var got http.Header
	e.GET("/test", func(c echo.Context) error {
		got = c.Request().Header.Clone()
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	for k, v := range map[string]string{
		"Connection":          "keep-alive",
		"Proxy-Connection":    "keep-alive",
		"Proxy-Authorization": "Basic abc",
		"Keep-Alive":          "timeout=5",
		"Te":                  "trailers",
		"Upgrade":             "h2c",
		"Authorization":       "Bearer token",
	} {
		req.Header.Set(k, v)
	}
	e.ServeHTTP(httptest.NewRecorder(), req)

	tests := []struct {
		key  string
		want string
	}{
		{"Connection", ""},
		{"Proxy-Connection", ""},
		{"Proxy-Authorization", "Basic abc"},
		{"Keep-Alive", "timeout=5"},
		{"Te", "trailers"},
		{"Upgrade", "h2c"},
		{"Authorization", "Bearer token"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if v := got.Get(tt.key); v != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, v, tt.want)
			}
		})
	}
}
