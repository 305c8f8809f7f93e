package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"go.uber.org/fx"

	"portal-proxy/internal/config"
	"portal-proxy/internal/model"
	"portal-proxy/internal/service"
)

var errProbeFailed = errors.New("probe: backend request failed")

// probeReadLimit caps how much of a streamed body the probe inspects.
const probeReadLimit = 1 << 20

type probeCmd struct {
	Path  string `kong:"default='/api/running-text',help='Inbound path to probe, query string allowed.'"`
	Token string `kong:"help='Bearer token sent as Authorization.',env='PROBE_TOKEN'"`
}

// Run wires the forwarder without a listener and sends one GET through it.
func (p *probeCmd) Run(cli *config.CLI) error {
	var svc *service.ProxyService
	app := fx.New(fx.NopLogger, core(cli), fx.Populate(&svc))
	if err := app.Err(); err != nil {
		return err
	}
	return probe(context.Background(), os.Stdout, svc, p.Path, p.Token)
}

func probe(ctx context.Context, w io.Writer, svc *service.ProxyService, target, token string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("probe: parse path %q: %w", target, err)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	res := svc.Forward(&model.ProxyRequest{
		Ctx:      ctx,
		Method:   http.MethodGet,
		Path:     svc.BackendPath(u.Path),
		RawQuery: u.RawQuery,
		Header:   header,
	})
	defer func() { _ = res.Close() }()

	body := res.Body
	if res.Stream != nil {
		body, err = io.ReadAll(io.LimitReader(res.Stream, probeReadLimit))
		if err != nil {
			return fmt.Errorf("probe: read body: %w", err)
		}
	}

	_, _ = fmt.Fprintf(w, "result:  %s\n", res.Kind)
	_, _ = fmt.Fprintf(w, "status:  %d\n", res.StatusCode)
	_, _ = fmt.Fprintf(w, "type:    %s\n", res.Header.Get("Content-Type"))

	if col, err := model.DecodeCollection(body); err == nil {
		_, _ = fmt.Fprintf(w, "shape:   %s\n", col.Shape)
		_, _ = fmt.Fprintf(w, "success: %t\n", col.Success)
		_, _ = fmt.Fprintf(w, "items:   %d (total %d)\n", col.Len(), col.Total)
	} else {
		_, _ = fmt.Fprintf(w, "bytes:   %d\n", len(body))
	}

	if res.Kind == model.ResultFailure {
		return errProbeFailed
	}
	return nil
}
