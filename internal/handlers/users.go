package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/audioflow/audioflow/internal/users"
)

// UserService is the part of users.Service the HTTP layer uses.
type UserService interface {
	AdminChecker
	Get(ctx context.Context, userID int64) (users.User, error)
	Register(ctx context.Context, req users.CreateUserRequest) (users.User, error)
}

type UsersHandler struct {
	service UserService
	logger  *slog.Logger
}

func NewUsersHandler(log *slog.Logger, service UserService) *UsersHandler {
	if log == nil {
		log = slog.Default()
	}
	return &UsersHandler{
		service: service,
		logger:  log.With(slog.String("handler", "users")),
	}
}

func (h *UsersHandler) Register(e *echo.Echo) {
	group := e.Group("/users")
	group.POST("", h.CreateUser)
	group.GET("/me", h.GetMe)
	group.GET("/:id", h.GetUser)
}

// CreateUser godoc
// @Summary Register a user
// @Description Create a regular user account; admins are only created at bootstrap
// @Tags users
// @Param payload body users.CreateUserRequest true "User payload"
// @Success 201 {object} users.User
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /users [post]
func (h *UsersHandler) CreateUser(c echo.Context) error {
	var req users.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Role = users.RoleUser
	user, err := h.service.Register(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// GetMe godoc
// @Summary Get current user
// @Description Get current user profile
// @Tags users
// @Success 200 {object} users.User
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /users/me [get]
func (h *UsersHandler) GetMe(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	user, err := h.service.Get(c.Request().Context(), userID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UsersHandler) GetUser(c echo.Context) error {
	if _, err := RequireUserID(c); err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	user, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}
