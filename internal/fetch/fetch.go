// Package fetch implements the upstream side of the proxy: it resolves
// a validated target URL to a terminal response, following redirects up
// to a bound and filtering the headers that may reach the client.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"streamgate/internal/config"
	"streamgate/internal/metrics"
	"streamgate/internal/model"
)

// Fetch failures mapped to distinct client responses.
var (
	ErrInvalidTarget    = errors.New("invalid target URL")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrUpstreamTimeout  = errors.New("upstream timed out")
	ErrNotStreamable    = errors.New("upstream returned a non-streamable document")
)

// forwardableResponseHeaders are the only upstream headers forwarded to
// the client. Everything else (cookies, upstream auth, cache directives)
// is dropped.
var forwardableResponseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
}

// Fetcher performs upstream requests with a shared keep-alive transport.
type Fetcher struct {
	client       *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	maxRedirects int
	userAgent    string
	rejectHTML   bool
}

// NewFetcher creates a Fetcher. The metrics parameter is optional; pass
// nil to disable upstream metrics recording.
//
// The client carries no overall timeout: the per-hop budget lives in the
// transport (dial, TLS handshake, response headers) so that a long media
// stream is never cut off mid-body. Cancellation of the body is driven
// by the request context.
func NewFetcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Fetcher {
	hopTimeout := time.Duration(cfg.Proxy.RequestTimeoutSeconds) * time.Second

	transport := &http.Transport{
		MaxIdleConns:        cfg.Proxy.IdleConnections,
		MaxIdleConnsPerHost: cfg.Proxy.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: hopTimeout,
		ForceAttemptHTTP2:     true,
		// Relay bytes as-is; the client negotiates its own encoding.
		DisableCompression: true,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			// Redirects are handled by the bounded loop in Fetch.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:       logger.With("component", "fetcher"),
		metrics:      m,
		maxRedirects: cfg.Proxy.MaxRedirects,
		userAgent:    cfg.Proxy.UserAgent,
		rejectHTML:   cfg.Proxy.RejectHTML,
	}
}

// Fetch resolves the target to a terminal (non-redirect) response.
// The descriptor's Body is nil for HEAD requests; otherwise the caller
// owns it and must close it. Canceling ctx aborts the in-flight hop and
// any subsequent body reads.
func (f *Fetcher) Fetch(ctx context.Context, pr *model.ProxyRequest) (*model.UpstreamResponse, error) {
	current, err := url.Parse(pr.TargetURL)
	if err != nil || (current.Scheme != "http" && current.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, pr.TargetURL)
	}

	// Everything except HEAD is normalized to GET: the proxy only ever
	// relays readable media.
	method := http.MethodGet
	if pr.Method == http.MethodHead {
		method = http.MethodHead
	}

	for redirects := 0; ; {
		resp, err := f.doHop(ctx, method, current, pr)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode >= 300 && resp.StatusCode < 400 && location != "" {
			_ = resp.Body.Close()
			f.countHop(metrics.HopRedirect)

			if redirects >= f.maxRedirects {
				return nil, fmt.Errorf("%w: exceeded %d hops", ErrTooManyRedirects, f.maxRedirects)
			}
			redirects++

			next, err := url.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("parse redirect location %q: %w", location, err)
			}
			// Relative Location values resolve against the current target.
			current = current.ResolveReference(next)
			if current.Scheme != "http" && current.Scheme != "https" {
				return nil, fmt.Errorf("%w: redirect to %q", ErrInvalidTarget, current.String())
			}

			f.logger.Debug("following redirect",
				"status", resp.StatusCode,
				"location", current.String(),
				"hop", redirects,
			)
			continue
		}

		f.countHop(metrics.HopResponse)
		if f.metrics != nil {
			f.metrics.UpstreamResponses.WithLabelValues(
				metrics.NormalizeMethod(method), strconv.Itoa(resp.StatusCode)).Inc()
		}

		if f.rejectHTML && isHTML(resp.Header.Get("Content-Type")) {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: content-type %q", ErrNotStreamable, resp.Header.Get("Content-Type"))
		}

		out := &model.UpstreamResponse{
			StatusCode: resp.StatusCode,
			Header:     filterResponseHeaders(resp.Header),
		}
		if method == http.MethodHead {
			_ = resp.Body.Close()
		} else {
			out.Body = resp.Body
		}
		return out, nil
	}
}

// doHop issues a single upstream request for the current target.
func (f *Fetcher) doHop(ctx context.Context, method string, target *url.URL, pr *model.ProxyRequest) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	ua := pr.UserAgent
	if ua == "" {
		ua = f.userAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "*/*")
	// Referer tracks the current hop, not the original target, so hosts
	// that check same-origin referers accept redirected segment URLs.
	req.Header.Set("Referer", target.Scheme+"://"+target.Host+"/")
	if pr.Range != "" {
		req.Header.Set("Range", pr.Range)
	}

	resp, err := f.client.Do(req) //nolint:bodyclose // body ownership transfers to the caller
	if err != nil {
		return nil, f.classifyHopError(ctx, err)
	}
	return resp, nil
}

// classifyHopError folds transport failures into the fetch error taxonomy.
func (f *Fetcher) classifyHopError(ctx context.Context, err error) error {
	// Client disconnect: surface the context error untouched so the
	// handler can treat it as a benign outcome.
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		f.countHop(metrics.HopTimeout)
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	f.countHop(metrics.HopError)
	return fmt.Errorf("upstream request: %w", err)
}

func (f *Fetcher) countHop(outcome string) {
	if f.metrics != nil {
		f.metrics.UpstreamHops.WithLabelValues(outcome).Inc()
	}
}

// filterResponseHeaders keeps only the allow-listed media headers.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

// isHTML reports whether a Content-Type denotes an HTML document, the
// usual signature of an upstream login or anti-bot interstitial.
func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
