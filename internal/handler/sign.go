package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"streamgate/internal/token"
)

// SignHandler issues signed proxy URLs for trusted callers.
type SignHandler struct {
	tokens *token.Service
	logger *slog.Logger
}

// NewSignHandler creates a SignHandler.
func NewSignHandler(tokens *token.Service, logger *slog.Logger) *SignHandler {
	return &SignHandler{
		tokens: tokens,
		logger: logger.With("component", "sign_handler"),
	}
}

type signRequest struct {
	URL string `json:"url"`
}

// Handle signs the requested target URL and returns the relative proxy path.
func (h *SignHandler) Handle(c echo.Context) error {
	if !h.tokens.Configured() {
		h.logger.Error("signing requested but no secret is configured")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Signing is not configured",
		})
	}

	var req signRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request",
		})
	}

	signed, err := h.tokens.Sign(req.URL, time.Now())
	if err != nil {
		if errors.Is(err, token.ErrInvalidURL) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "Invalid URL",
			})
		}
		h.logger.Error("signing failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Signing failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"signedUrl": signed.Path(),
	})
}
