// Package edge hosts the proxy as a plain http.Handler for
// request-scoped environments (FaaS runtimes, embedded mounts) where the
// caller owns the listener and process lifecycle. It composes the same
// core as cmd/streamgate; none of the pipeline is duplicated.
package edge

import (
	"log/slog"
	"net/http"
	"time"

	"streamgate/internal/admission"
	"streamgate/internal/config"
	"streamgate/internal/fetch"
	"streamgate/internal/handler"
	"streamgate/internal/metrics"
	"streamgate/internal/server"
	"streamgate/internal/token"
)

// New builds the fully routed proxy handler from an in-memory config.
// The config is validated and defaulted in place.
func New(cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	m := metrics.New()
	tokens := token.NewService(cfg.Auth.Secret, time.Duration(cfg.Auth.MaxSkewSeconds)*time.Second)
	adm := admission.NewController(cfg.Proxy.MaxConcurrent)
	fetcher := fetch.NewFetcher(cfg, logger, m)

	e := server.New(cfg, logger, m)
	handler.RegisterRoutes(e, cfg,
		handler.NewProxyHandler(tokens, adm, fetcher, m, logger),
		handler.NewSignHandler(tokens, logger),
		handler.NewHealthHandler("edge"),
		handler.NewStaticHandler(cfg.Server.StaticRoot, logger),
		m,
	)

	return e, nil
}
