package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/audioflow/audioflow/internal/auth"
	"github.com/audioflow/audioflow/internal/ids"
)

// AdminChecker resolves the current role of a user.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// RequireUserID extracts the authenticated user ID from the request context.
func RequireUserID(c echo.Context) (int64, error) {
	return auth.UserIDFromContext(c)
}

// RequireAdmin authorizes the caller as an admin. The role is read from the
// user store so a demotion takes effect before the token expires.
func RequireAdmin(c echo.Context, checker AdminChecker) (int64, error) {
	userID, err := RequireUserID(c)
	if err != nil {
		return 0, err
	}
	if checker == nil {
		return 0, echo.NewHTTPError(http.StatusInternalServerError, "user service not configured")
	}
	ok, err := checker.IsAdmin(c.Request().Context(), userID)
	if err != nil {
		return 0, httpError(c, err)
	}
	if !ok {
		return 0, echo.NewHTTPError(http.StatusForbidden, "admin role required")
	}
	return userID, nil
}

// pathID parses a numeric path parameter.
func pathID(c echo.Context, name string) (int64, error) {
	id, ok := ids.Parse(c.Param(name))
	if !ok {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a numeric id")
	}
	return id, nil
}
