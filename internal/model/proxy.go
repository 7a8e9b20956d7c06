// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
)

// ProxyRequest describes one upstream fetch on behalf of a client.
// It is owned by a single Fetch invocation.
type ProxyRequest struct {
	TargetURL string
	Method    string // GET or HEAD; anything else is normalized to GET
	Range     string // client Range header, forwarded verbatim when set
	UserAgent string // client User-Agent, default applied when empty
}

// UpstreamResponse is the descriptor returned by the fetcher once a
// non-redirect upstream response has been obtained. Header carries only
// the allow-listed subset of the upstream headers. Body is nil for HEAD
// requests; otherwise the caller owns it and must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
