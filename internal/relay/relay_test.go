package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"testing"
)

func TestPipe_CopiesAllBytes(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 3*bufferSize+17)
	var dst bytes.Buffer

	n, err := Pipe(&dst, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Pipe() copied %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(dst.Bytes(), payload) {
		t.Error("Pipe() output differs from input")
	}
}

// failAfterWriter accepts limit bytes then fails like a closed client socket.
type failAfterWriter struct {
	limit int
	n     int
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	if w.n >= w.limit {
		return 0, syscall.EPIPE
	}
	if w.n+len(p) > w.limit {
		accepted := w.limit - w.n
		w.n = w.limit
		return accepted, syscall.EPIPE
	}
	w.n += len(p)
	return len(p), nil
}

func TestPipe_WriterFailureStopsCopy(t *testing.T) {
	src := strings.NewReader(strings.Repeat("y", 4*bufferSize))
	w := &failAfterWriter{limit: bufferSize}

	n, err := Pipe(w, src)
	if err == nil {
		t.Fatal("Pipe() error = nil, want write failure")
	}
	if n != int64(bufferSize) {
		t.Errorf("Pipe() copied %d bytes before failure, want %d", n, bufferSize)
	}
	if !IsBenign(err) {
		t.Errorf("EPIPE from client should be benign, got %v", err)
	}
}

func TestIsBenign(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"context canceled", context.Canceled, true},
		{"wrapped canceled", fmt.Errorf("read: %w", context.Canceled), true},
		{"broken pipe", syscall.EPIPE, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"net closed", errors.New("use of closed network connection: stream closed"), true},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"client disconnected text", errors.New("http2: client disconnected"), true},
		{"real fault", errors.New("disk quota exceeded"), false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBenign(tt.err); got != tt.want {
				t.Errorf("IsBenign(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
