// Package mock holds the canned responses served for a small set of backend
// paths when the upstream is unreachable during a local production test.
package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"portal-proxy/internal/config"
)

// DefaultRoutes are used when the config defines no mock routes: the profile
// fetch and the running-text ad ticker, the two calls every dashboard page
// makes on load.
var DefaultRoutes = []config.MockRoute{
	{
		Path:   "/api/users/profile",
		Status: http.StatusOK,
		Body: `{"success":true,"data":{"id":"local-test-user","name":"Local Test User",` +
			`"email":"local.test@example.com","role":"student","avatar":null}}`,
	},
	{
		Path:   "/api/running-text",
		Status: http.StatusOK,
		Body: `{"success":true,"data":[{"id":1,"text":"Backend offline: showing sample announcements.",` +
			`"isActive":true},{"id":2,"text":"New courses open for enrollment this month.","isActive":true}]}`,
	},
}

// Response is a canned upstream reply.
type Response struct {
	Status int
	Body   []byte
}

// Registry maps backend paths to canned responses.
// It is read-only after construction.
type Registry struct {
	enabled bool
	routes  map[string]Response
}

// NewRegistry builds the registry from config. Route bodies must be valid JSON.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	routes := cfg.Mock.Routes
	if len(routes) == 0 {
		routes = DefaultRoutes
	}

	r := &Registry{
		enabled: cfg.Mock.Enabled,
		routes:  make(map[string]Response, len(routes)),
	}
	for _, route := range routes {
		body := []byte(route.Body)
		if !json.Valid(body) {
			return nil, fmt.Errorf("mock route %s: body is not valid JSON", route.Path)
		}
		status := route.Status
		if status == 0 {
			status = http.StatusOK
		}
		r.routes[normalize(route.Path)] = Response{Status: status, Body: body}
	}
	return r, nil
}

// Enabled reports whether the fallback is active for this process.
func (r *Registry) Enabled() bool {
	return r != nil && r.enabled
}

// Lookup returns the canned response for a backend path. It always misses
// when the fallback is disabled.
func (r *Registry) Lookup(path string) (Response, bool) {
	if !r.Enabled() {
		return Response{}, false
	}
	resp, ok := r.routes[normalize(path)]
	return resp, ok
}

// Paths returns the number of registered paths.
func (r *Registry) Paths() int {
	if r == nil {
		return 0
	}
	return len(r.routes)
}

func normalize(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
