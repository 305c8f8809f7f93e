// Package client provides the upstream HTTP client for the portal backend.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"portal-proxy/internal/config"
	"portal-proxy/internal/metrics"
	"portal-proxy/internal/model"
)

// BackendClient sends requests to the upstream backend.
type BackendClient struct {
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBackendClient creates a pooled client. upstream.timeout_seconds bounds
// the whole exchange: dial, headers and body read. m may be nil.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	return &BackendClient{
		http: &http.Client{
			Transport:     newTransport(cfg.Upstream.IdleConnections),
			Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: relayRedirect,
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

func newTransport(idle int) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// relayRedirect hands 3xx responses back unchanged; the browser follows them.
func relayRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Send performs one upstream exchange. header is used as-is. Canceling ctx
// aborts the call. On success the caller owns and must close the body.
func (c *BackendClient) Send(ctx context.Context, method, target string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request", "method", method, "path", req.URL.Path)

	start := time.Now()
	resp, err := c.http.Do(req) //nolint:bodyclose // closed by the Result consumer
	c.observe(method, resp, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// observe records latency for every call and the status for calls that
// produced a response.
func (c *BackendClient) observe(method string, resp *http.Response, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	label := metrics.NormalizeMethod(method)
	c.metrics.UpstreamDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}
}
