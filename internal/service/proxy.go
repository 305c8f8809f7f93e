// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"portal-proxy/internal/client"
	"portal-proxy/internal/config"
	"portal-proxy/internal/metrics"
	"portal-proxy/internal/mock"
	"portal-proxy/internal/model"
)

// deniedRequestHeaders are never forwarded upstream. X-Forwarded-* is matched
// by prefix in filterRequestHeaders.
var deniedRequestHeaders = map[string]bool{
	"Host":       true,
	"Expect":     true,
	"Connection": true,
	// Recomputed by the transport from the re-serialized body.
	"Content-Length": true,
	// The transport negotiates compression itself and decodes the body;
	// a client value would hand us compressed JSON we cannot normalize.
	"Accept-Encoding": true,
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":  true,
	"Set-Cookie":    true,
	"Authorization": true,
}

const (
	mimeJSON = "application/json"
	mimeForm = "application/x-www-form-urlencoded"

	defaultMaxResponseBytes = 10 * 1024 * 1024
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.BackendClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
	mocks   *mock.Registry
	metrics *metrics.Metrics

	// flights collapses identical concurrent GETs; nil unless upstream.dedup is set.
	flights *singleflight.Group

	maxResponseBytes int64
}

// NewProxyService creates a ProxyService. The mock registry and metrics are
// optional; pass nil to disable the fallback or metric recording.
func NewProxyService(c *client.BackendClient, cfg *config.Config, mocks *mock.Registry, m *metrics.Metrics, logger *slog.Logger) (*ProxyService, error) {
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		return nil, config.ErrMissingBaseURL
	}
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if !cfg.Upstream.HostAllowed(u.Hostname()) {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	s := &ProxyService{
		client:           c,
		cfg:              cfg,
		logger:           logger.With("component", "proxy_service"),
		baseURL:          u,
		mocks:            mocks,
		metrics:          m,
		maxResponseBytes: cfg.Upstream.MaxResponseBytes,
	}
	if s.maxResponseBytes <= 0 {
		s.maxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Upstream.Dedup {
		s.flights = &singleflight.Group{}
	}
	if mocks.Enabled() {
		s.logger.Warn("mock fallback active: canned responses are served when the backend is unreachable",
			"paths", mocks.Paths(),
		)
	}
	return s, nil
}

// BackendPath maps an inbound request path onto the backend: the configured
// route prefix is replaced with the upstream path prefix.
func (s *ProxyService) BackendPath(inbound string) string {
	rest := strings.TrimPrefix(inbound, s.cfg.Server.RoutePrefix)
	if rest != "" && rest[0] != '/' {
		rest = "/" + rest
	}
	return s.cfg.Upstream.PathPrefix + rest
}

// Forward sends a ProxyRequest to the upstream backend and returns the
// normalized result. It never returns nil; every failure is expressed as a
// Result of kind ResultFailure. The caller must Close the result.
func (s *ProxyService) Forward(pr *model.ProxyRequest) *model.Result {
	res := s.forward(pr)
	if s.metrics != nil {
		s.metrics.ForwardResults.WithLabelValues(res.Kind.String()).Inc()
	}
	return res
}

func (s *ProxyService) forward(pr *model.ProxyRequest) *model.Result {
	header := s.filterRequestHeaders(pr.Header)

	body, err := s.prepareBody(pr, header)
	if err != nil {
		s.logger.Warn("rejecting request body", "err", err, "path", pr.Path)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return failureResult(http.StatusRequestEntityTooLarge, "Request body too large", nil)
		}
		return failureResult(http.StatusBadRequest, "Invalid request body", err.Error())
	}

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawQuery)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	if s.flights != nil && pr.Method == http.MethodGet {
		return s.forwardShared(pr.Ctx, pr.Path, upstreamURL, header)
	}
	return s.exchange(pr.Ctx, pr.Method, pr.Path, upstreamURL, header, body, false)
}

// forwardShared runs identical concurrent GETs as one upstream call. The
// shared call is detached from any single caller's cancellation; the client
// timeout still bounds it.
func (s *ProxyService) forwardShared(ctx context.Context, path, upstreamURL string, header http.Header) *model.Result {
	key := dedupKey(upstreamURL, header)
	v, _, shared := s.flights.Do(key, func() (any, error) {
		return s.exchange(context.WithoutCancel(ctx), http.MethodGet, path, upstreamURL, header, nil, true), nil
	})
	if shared && s.metrics != nil {
		s.metrics.DedupShared.Inc()
	}
	return v.(*model.Result).Clone()
}

// dedupKey identifies requests that may share one upstream call: same URL and
// same forwarded headers. http.Header.Write emits keys in sorted order.
func dedupKey(upstreamURL string, header http.Header) string {
	var b strings.Builder
	b.WriteString(upstreamURL)
	b.WriteByte(0)
	_ = header.Write(&b)
	return b.String()
}

// exchange performs the upstream call and normalizes its outcome. When buffer
// is set, non-JSON bodies are read into memory instead of streamed.
func (s *ProxyService) exchange(ctx context.Context, method, path, upstreamURL string, header http.Header, body io.Reader, buffer bool) *model.Result {
	resp, err := s.client.Send(ctx, method, upstreamURL, header, body)
	if err != nil {
		return s.connectionFailure(path, err)
	}
	return s.normalize(method, path, resp, buffer)
}

// buildUpstreamURL joins path onto the base URL. The query string is copied
// byte for byte, so pairs url.ParseQuery would reject still reach the backend.
func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(s.baseURL.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.ForceQuery = false
	return u.String()
}

func (s *ProxyService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src)+2)
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if deniedRequestHeaders[ck] || strings.HasPrefix(ck, "X-Forwarded-") {
			continue
		}
		dst[ck] = append([]string(nil), vals...)
	}
	dst.Set("Accept", mimeJSON)
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", mimeJSON)
	}
	return dst
}

// prepareBody reads the inbound body and re-serializes it according to the
// content type the caller declared. Form bodies become JSON objects and the
// outbound Content-Type is rewritten to match.
func (s *ProxyService) prepareBody(pr *model.ProxyRequest, header http.Header) (io.Reader, error) {
	if pr.Method == http.MethodGet || pr.Method == http.MethodHead || pr.Body == nil {
		return nil, nil
	}

	raw, err := io.ReadAll(pr.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	switch mediaType(pr.Header.Get("Content-Type")) {
	case mimeJSON:
		return bytes.NewReader(raw), nil
	case mimeForm:
		converted, err := formToJSON(raw)
		if err != nil {
			return nil, err
		}
		header.Set("Content-Type", mimeJSON)
		return bytes.NewReader(converted), nil
	default:
		return bytes.NewReader(raw), nil
	}
}

// formToJSON converts a urlencoded body into a flat JSON object of strings.
// For repeated keys the last value wins. Malformed escapes are kept as
// literal text, so no form body is rejected.
func formToJSON(raw []byte) ([]byte, error) {
	obj := make(map[string]string)
	for pair := range strings.SplitSeq(string(raw), "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		obj[unescapeForm(key)] = unescapeForm(value)
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode form body: %w", err)
	}
	return out, nil
}

// unescapeForm decodes one form component without failing on bad escapes.
func unescapeForm(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}
	return c - '0'
}

// mediaType returns the lower-cased media type without parameters.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if forwardableResponseHeaders[ck] {
			dst[ck] = append([]string(nil), vals...)
		}
	}
	return dst
}
