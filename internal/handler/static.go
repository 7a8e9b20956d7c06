package handler

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/labstack/echo/v4"
)

// StaticHandler serves the player UI and other assets from a fixed root.
type StaticHandler struct {
	root   string
	logger *slog.Logger
}

// NewStaticHandler creates a StaticHandler rooted at dir.
func NewStaticHandler(dir string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{
		root:   dir,
		logger: logger.With("component", "static_handler"),
	}
}

// Handle serves the file mapped from the request path. Paths attempting
// to escape the root yield 403; missing files yield 404.
func (h *StaticHandler) Handle(c echo.Context) error {
	reqPath := c.Request().URL.Path
	if reqPath == "/" {
		reqPath = "/index.html"
	}

	// Reject traversal attempts outright before any filesystem access.
	// The raw path is inspected: cleaning first would absorb a leading
	// "/../" and hide the attempt.
	for _, seg := range strings.Split(reqPath, "/") {
		if seg == ".." {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
	}

	// SecureJoin keeps symlinked content contained under the root.
	full, err := securejoin.SecureJoin(h.root, reqPath)
	if err != nil {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}

	return c.File(full)
}
