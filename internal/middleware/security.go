package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are connection-scoped headers removed before a request
// reaches the forwarder. Every other header is left for the forwarder's own
// denylist.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
}

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips connection headers from requests.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next runs: proxied responses are streamed and
			// headers written after the handler returns would be lost.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			return next(c)
		}
	}
}
