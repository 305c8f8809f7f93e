package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"portal-proxy/internal/mock"
	"portal-proxy/internal/model"
)

// jsonObjectPattern spans the first '{' to the last '}' of a body; used to
// salvage an object wrapped in stray text.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// excerptLimit bounds the raw-body excerpt included in diagnostics.
const excerptLimit = 500

var errResponseTooLarge = errors.New("backend response exceeds upstream.max_response_bytes")

// normalize turns an upstream response into a Result. The response body is
// closed unless it is handed over as the Result stream.
func (s *ProxyService) normalize(method, path string, resp *model.ProxyResponse, buffer bool) *model.Result {
	status := resp.StatusCode
	header := filterResponseHeaders(resp.Header)

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		body, _ := s.readBody(resp.Body)
		return authErrorResult(status, header, body)
	}

	if status >= http.StatusInternalServerError {
		if canned, ok := s.mocks.Lookup(path); ok {
			_ = resp.Body.Close()
			s.logger.Warn("backend error, serving mock response", "path", path, "status", status)
			return mockResult(canned)
		}
	}

	if method == http.MethodHead || status == http.StatusNoContent || status == http.StatusNotModified {
		_ = resp.Body.Close()
		return &model.Result{Kind: model.ResultPassthrough, StatusCode: status, Header: header}
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		body, err := s.readBody(resp.Body)
		if err != nil {
			s.logger.Error("reading backend response", "err", err, "path", path)
			return failureResult(http.StatusInternalServerError, "Failed to read backend response", errorDetail(err))
		}
		res := normalizeJSON(status, header, body)
		if res.Kind == model.ResultRecovered {
			s.logger.Warn("recovered malformed JSON from backend", "path", path, "status", status)
		} else if res.Kind == model.ResultFailure {
			s.logger.Error("unusable JSON from backend", "path", path, "status", status, "bytes", len(body))
		}
		return res
	}

	if buffer {
		body, err := s.readBody(resp.Body)
		if err != nil {
			s.logger.Error("reading backend response", "err", err, "path", path)
			return failureResult(http.StatusInternalServerError, "Failed to read backend response", errorDetail(err))
		}
		return &model.Result{Kind: model.ResultPassthrough, StatusCode: status, Header: header, Body: body}
	}

	return &model.Result{Kind: model.ResultPassthrough, StatusCode: status, Header: header, Stream: resp.Body}
}

// connectionFailure handles an upstream call that produced no response.
func (s *ProxyService) connectionFailure(path string, err error) *model.Result {
	if canned, ok := s.mocks.Lookup(path); ok {
		s.logger.Warn("backend unreachable, serving mock response", "path", path, "err", errorDetail(err))
		return mockResult(canned)
	}

	msg := "Failed to connect to backend"
	if isTimeout(err) {
		msg = "Backend request timed out"
	}
	s.logger.Error("backend request failed", "err", errorDetail(err), "path", path)
	return failureResult(http.StatusInternalServerError, msg, errorDetail(err))
}

// readBody reads and closes body, enforcing the configured size limit.
func (s *ProxyService) readBody(body io.ReadCloser) ([]byte, error) {
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(io.LimitReader(body, s.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxResponseBytes {
		return nil, errResponseTooLarge
	}
	return data, nil
}

// normalizeJSON validates a JSON body, salvaging an embedded object when the
// body is malformed. Valid bodies pass through byte for byte.
func normalizeJSON(status int, header http.Header, body []byte) *model.Result {
	if len(bytes.TrimSpace(body)) == 0 {
		return failureResult(http.StatusInternalServerError, "Empty response from server",
			fmt.Sprintf("backend returned status %d with an empty body", status))
	}

	if json.Valid(body) {
		return &model.Result{Kind: model.ResultPassthrough, StatusCode: status, Header: header, Body: body}
	}

	if m := jsonObjectPattern.Find(body); m != nil && json.Valid(m) {
		h := header.Clone()
		h.Set("Content-Type", mimeJSON)
		return &model.Result{Kind: model.ResultRecovered, StatusCode: status, Header: h, Body: m}
	}

	return failureResult(http.StatusInternalServerError, "Invalid JSON response from server", excerpt(body))
}

// authErrorResult normalizes a 401/403, keeping the status and extracting a
// message from the upstream body when it is JSON.
func authErrorResult(status int, header http.Header, body []byte) *model.Result {
	env := model.Envelope{Success: false, Error: "Authentication failed"}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		env.Details = parsed
		if msg := firstString(parsed, "error", "message"); msg != "" {
			env.Error = msg
		}
	} else if len(bytes.TrimSpace(body)) > 0 {
		env.Details = excerpt(body)
	}

	h := header.Clone()
	h.Set("Content-Type", mimeJSON)
	return &model.Result{Kind: model.ResultAuthError, StatusCode: status, Header: h, Body: mustEnvelope(env)}
}

func mockResult(canned mock.Response) *model.Result {
	return &model.Result{
		Kind:       model.ResultMock,
		StatusCode: canned.Status,
		Header:     http.Header{"Content-Type": {mimeJSON}},
		Body:       canned.Body,
	}
}

func failureResult(status int, msg string, details any) *model.Result {
	return &model.Result{
		Kind:       model.ResultFailure,
		StatusCode: status,
		Header:     http.Header{"Content-Type": {mimeJSON}},
		Body:       mustEnvelope(model.Envelope{Success: false, Error: msg, Details: details}),
	}
}

func mustEnvelope(env model.Envelope) []byte {
	b, err := json.Marshal(env)
	if err != nil {
		// Details come from json.Unmarshal or are strings; this cannot fail.
		return []byte(`{"success":false,"error":"Internal error"}`)
	}
	return b
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// excerpt returns at most excerptLimit characters of body.
func excerpt(body []byte) string {
	s := strings.ToValidUTF8(string(body), "�")
	if utf8.RuneCountInString(s) <= excerptLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:excerptLimit])
}

func isJSON(contentType string) bool {
	mt := mediaType(contentType)
	return mt == mimeJSON || strings.HasSuffix(mt, "+json")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorDetail describes err without the upstream URL, which may carry
// credentials in its query string.
func errorDetail(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}
