// Package relay copies upstream body streams to client responses.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
)

// bufferSize is tuned for high-bandwidth media links; it affects
// throughput, not correctness.
const bufferSize = 256 * 1024

var bufPool = sync.Pool{
	New: func() any { b := make([]byte, bufferSize); return &b },
}

// Pipe copies src to dst with a pooled buffer until either side closes,
// returning the number of bytes written. Errors caused by the client or
// upstream going away are normal termination for a streaming proxy;
// classify them with IsBenign before logging.
func Pipe(dst io.Writer, src io.Reader) (int64, error) {
	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// IsBenign reports whether a relay error represents a client or upstream
// disconnect rather than a fault: canceled contexts, reset or closed
// connections, and broken pipes. These resolve the request cleanly and
// must never be surfaced as process-level errors.
func IsBenign(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// http2 stream errors and platform-specific resets only match by text.
	msg := err.Error()
	for _, s := range []string{
		"client disconnected",
		"connection reset by peer",
		"broken pipe",
		"stream closed",
		"body closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
