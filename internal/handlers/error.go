package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/audioflow/audioflow/internal/apperr"
	"github.com/audioflow/audioflow/internal/logger"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps a service error onto an HTTP error. Messages of unexpected
// failures are logged and replaced by the status text.
func httpError(c echo.Context, err error) error {
	status := apperr.HTTPStatus(err)
	if apperr.IsBusiness(err) {
		return echo.NewHTTPError(status, err.Error()).SetInternal(err)
	}
	logger.FromContext(c.Request().Context()).Error("request failed",
		slog.String("method", c.Request().Method),
		slog.String("path", c.Path()),
		slog.Any("error", err),
	)
	if status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, http.StatusText(status)).SetInternal(err)
}
