package handler

import (
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"portal-proxy/internal/middleware"
	"portal-proxy/internal/model"
	"portal-proxy/internal/service"
)

// ProxyHandler relays portal API calls to the backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request and writes the normalized result. Every
// outcome, including backend failures, is written as a response; the
// handler never returns an error to Echo.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	res := h.service.Forward(&model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     h.service.BackendPath(req.URL.Path),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	})
	defer func() { _ = res.Close() }()

	c.Set(middleware.ResultKey, res.Kind.String())

	out := c.Response().Header()
	for key, vals := range res.Header {
		for _, v := range vals {
			out.Add(key, v)
		}
	}
	c.Response().WriteHeader(res.StatusCode)

	if res.Stream == nil {
		if _, err := c.Response().Write(res.Body); err != nil {
			h.logger.Error("writing response body", "err", err, "path", req.URL.Path)
		}
		return nil
	}

	// The status is already sent; a failed copy leaves the client with a
	// truncated body.
	if _, err := io.Copy(c.Response(), res.Stream); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}
