package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[auth]\nsecret = \"one\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reloaded := make(chan *Config, 1)

	w, err := NewWatcher(path, logger, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watch loop a moment to start before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[auth]\nsecret = \"two\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Auth.Secret != "two" {
			t.Errorf("reloaded secret = %q, want %q", cfg.Auth.Secret, "two")
		}
		// Defaults are applied to reloaded configs too.
		if cfg.Proxy.MaxConcurrent != 20 {
			t.Errorf("reloaded max_concurrent = %d, want default 20", cfg.Proxy.MaxConcurrent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_InvalidReloadKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[auth]\nsecret = \"one\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reloaded := make(chan *Config, 4)

	w, err := NewWatcher(path, logger, func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	// Broken TOML must not reach the callback.
	if err := os.WriteFile(path, []byte("[auth\nsecret="), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	select {
	case cfg := <-reloaded:
		t.Fatalf("callback fired for invalid config: %+v", cfg)
	default:
	}

	// A subsequent valid write still reloads.
	if err := os.WriteFile(path, []byte("[auth]\nsecret = \"three\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.Auth.Secret != "three" {
			t.Errorf("reloaded secret = %q, want %q", cfg.Auth.Secret, "three")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after invalid write")
	}
}
