package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"streamgate/internal/admission"
	"streamgate/internal/fetch"
	"streamgate/internal/metrics"
	"streamgate/internal/model"
	"streamgate/internal/relay"
	"streamgate/internal/token"
)

// ProxyHandler verifies signed requests, admits them against the
// concurrency ceiling and streams the upstream resource to the client.
type ProxyHandler struct {
	tokens    *token.Service
	admission *admission.Controller
	fetcher   *fetch.Fetcher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is
// optional; pass nil to disable stream metrics recording.
func NewProxyHandler(tokens *token.Service, adm *admission.Controller, f *fetch.Fetcher, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		tokens:    tokens,
		admission: adm,
		fetcher:   f,
		metrics:   m,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle serves GET/HEAD /proxy. Without a url parameter it acts as a
// health probe reporting admission load; with one it runs the full
// verify → admit → fetch → relay pipeline.
func (h *ProxyHandler) Handle(c echo.Context) error {
	q := c.QueryParams()
	targetURL := q.Get("url")

	if targetURL == "" {
		active, limit := h.admission.Snapshot()
		return c.JSON(http.StatusOK, map[string]any{
			"status":         "healthy",
			"activeRequests": active,
			"maxConcurrent":  limit,
		})
	}

	if err := h.tokens.Verify(targetURL, q.Get("t"), q.Get("nonce"), q.Get("sig"), time.Now()); err != nil {
		return h.rejectAuth(c, err)
	}

	if !h.admission.TryAcquire() {
		if h.metrics != nil {
			h.metrics.AdmissionRejections.Inc()
		}
		c.Response().Header().Set("Retry-After", "5")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Server busy",
		})
	}
	// Exactly one release per admitted request, on every exit path.
	defer h.admission.Release()

	if h.metrics != nil {
		h.metrics.ActiveStreams.Inc()
		defer h.metrics.ActiveStreams.Dec()
	}

	req := c.Request()
	pr := &model.ProxyRequest{
		TargetURL: targetURL,
		Method:    req.Method,
		Range:     firstNonEmpty(req.Header.Get("Range"), q.Get("range")),
		UserAgent: req.Header.Get("User-Agent"),
	}

	resp, err := h.fetcher.Fetch(req.Context(), pr)
	if err != nil {
		return h.mapFetchError(c, err)
	}

	return h.respond(c, resp)
}

// respond writes the descriptor's headers and relays the body stream.
func (h *ProxyHandler) respond(c echo.Context, resp *model.UpstreamResponse) error {
	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	header.Set("Cache-Control", "no-cache")
	if header.Get("Accept-Ranges") == "" {
		header.Set("Accept-Ranges", "bytes")
	}

	c.Response().WriteHeader(resp.StatusCode)

	if resp.Body == nil { // HEAD
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	// The status line is already on the wire: a mid-stream failure can
	// only truncate the body. Disconnects on either side are normal
	// termination for a streaming proxy; anything else is logged.
	n, err := relay.Pipe(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.StreamedBytes.Add(float64(n))
	}
	if err != nil && !relay.IsBenign(err) {
		h.logger.Error("streaming response body",
			"err", err,
			"url", c.QueryParam("url"),
			"bytes", n,
		)
	}

	return nil
}

// rejectAuth maps verification failures onto the 4xx taxonomy.
func (h *ProxyHandler) rejectAuth(c echo.Context, err error) error {
	switch {
	case errors.Is(err, token.ErrInvalidURL):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid URL"})
	case errors.Is(err, token.ErrExpired):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Link expired"})
	case errors.Is(err, token.ErrBadSignature):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid signature"})
	default:
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Unauthorized"})
	}
}

// mapFetchError maps upstream failures onto the 4xx/5xx taxonomy.
func (h *ProxyHandler) mapFetchError(c echo.Context, err error) error {
	// Client went away before upstream headers arrived: resolve cleanly.
	if errors.Is(err, context.Canceled) {
		return nil
	}

	h.logger.Error("proxy error",
		"err", err,
		"url", c.QueryParam("url"),
	)

	switch {
	case errors.Is(err, fetch.ErrInvalidTarget):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid URL"})
	case errors.Is(err, fetch.ErrUpstreamTimeout):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Upstream timed out"})
	case errors.Is(err, fetch.ErrTooManyRedirects):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Too many redirects"})
	case errors.Is(err, fetch.ErrNotStreamable):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Upstream content is not streamable"})
	default:
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Upstream request failed"})
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
