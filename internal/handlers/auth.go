// Package handlers provides the HTTP API handlers of the upload server.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/audioflow/audioflow/internal/auth"
	"github.com/audioflow/audioflow/internal/users"
)

// Authenticator verifies login credentials.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (users.User, error)
}

// AuthHandler serves /auth/login and issues JWTs.
type AuthHandler struct {
	users     Authenticator
	jwtSecret string
	expiresIn time.Duration
	logger    *slog.Logger
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the success body (access_token, user info, expires_at).
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

// NewAuthHandler creates an auth handler with the user service and JWT config.
func NewAuthHandler(log *slog.Logger, authenticator Authenticator, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{
		users:     authenticator,
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("handler", "auth")),
	}
}

// Register mounts POST /auth/login on the Echo instance.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

// Login godoc
// @Summary Login
// @Description Validate user credentials and issue a JWT
// @Tags auth
// @Param payload body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post].
func (h *AuthHandler) Login(c echo.Context) error {
	if h.users == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "user service not configured")
	}
	if strings.TrimSpace(h.jwtSecret) == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt secret not configured")
	}
	if h.expiresIn <= 0 {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt expiry not configured")
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	user, err := h.users.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(c, err)
	}
	token, expiresAt, err := auth.GenerateToken(user.ID, user.Role, h.jwtSecret, h.expiresIn)
	if err != nil {
		return httpError(c, err)
	}
	h.logger.Info("user logged in", slog.Int64("user_id", user.ID))

	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		UserID:      strconv.FormatInt(user.ID, 10),
		Role:        user.Role,
		Name:        user.Name,
		Email:       user.Email,
	})
}
