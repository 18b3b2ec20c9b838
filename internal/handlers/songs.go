package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/audioflow/audioflow/internal/songs"
)

// SongService is the part of songs.Service the HTTP layer uses.
type SongService interface {
	Upload(ctx context.Context, in songs.UploadInput) (songs.SongView, error)
	Get(ctx context.Context, songID int64) (songs.SongView, error)
	PlayURL(ctx context.Context, songID int64) (string, error)
	Page(ctx context.Context, q songs.PageQuery) (songs.Page[songs.SongView], error)
	Update(ctx context.Context, songID, userID int64, in songs.UpdateInput) (songs.SongView, error)
	UpdateForce(ctx context.Context, songID int64, in songs.UpdateInput) (songs.SongView, error)
	Remove(ctx context.Context, songID, userID int64) error
	RemoveForce(ctx context.Context, songID int64) error
}

// SongsHandler serves the /songs API.
type SongsHandler struct {
	service SongService
	admins  AdminChecker
	logger  *slog.Logger
}

// NewSongsHandler creates a songs handler. admins authorizes the force routes.
func NewSongsHandler(log *slog.Logger, service SongService, admins AdminChecker) *SongsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SongsHandler{
		service: service,
		admins:  admins,
		logger:  log.With(slog.String("handler", "songs")),
	}
}

// Register mounts the /songs routes.
func (h *SongsHandler) Register(e *echo.Echo) {
	group := e.Group("/songs")
	group.POST("", h.Upload)
	group.GET("", h.Page)
	group.GET("/:id", h.Get)
	group.GET("/:id/play", h.Play)
	group.PATCH("/:id", h.Update)
	group.PATCH("/:id/force", h.UpdateForce)
	group.DELETE("/:id", h.Remove)
	group.DELETE("/:id/force", h.RemoveForce)
}

// Upload godoc
// @Summary Upload a song
// @Description Upload an audio file (multipart field "file"); the type is detected from its content
// @Tags songs
// @Accept multipart/form-data
// @Param file formData file true "Audio file"
// @Param name formData string false "Display name, defaults to the file name"
// @Param description formData string false "Description"
// @Success 201 {object} songs.SongView
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /songs [post]
func (h *SongsHandler) Upload(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}
	files := form.File["file"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	header := files[0]

	in := songs.UploadInput{
		UploaderID:       userID,
		OriginalFilename: header.Filename,
		Size:             header.Size,
	}
	if values, ok := form.Value["name"]; ok && len(values) > 0 {
		name := strings.TrimSpace(values[0])
		if n := utf8.RuneCountInString(name); n == 0 || n > songs.MaxNameRunes {
			return httpError(c, songs.ErrInvalidName)
		}
		in.Name = &name
	}
	if values := form.Value["description"]; len(values) > 0 {
		desc := strings.TrimSpace(values[0])
		if utf8.RuneCountInString(desc) > songs.MaxDescriptionRunes {
			return httpError(c, songs.ErrInvalidDesc)
		}
		in.Description = desc
	}

	src, err := header.Open()
	if err != nil {
		return httpError(c, fmt.Errorf("open upload: %w", err))
	}
	defer func() {
		_ = src.Close()
	}()
	in.Content = src

	view, err := h.service.Upload(c.Request().Context(), in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

// Page godoc
// @Summary Search songs
// @Tags songs
// @Param uploader_keyword query string false "Uploader name substring or id"
// @Param song_keyword query string false "Song name substring or id"
// @Param asc query bool false "Oldest first"
// @Param page_index query int false "1-based page, default 1"
// @Param page_size query int false "Page size, default 10, max 100"
// @Success 200 {object} songs.Page[songs.SongView]
// @Failure 400 {object} ErrorResponse
// @Router /songs [get]
func (h *SongsHandler) Page(c echo.Context) error {
	var q songs.PageQuery
	err := echo.QueryParamsBinder(c).
		String("uploader_keyword", &q.UploaderKeyword).
		String("song_keyword", &q.SongKeyword).
		Bool("asc", &q.Asc).
		Int("page_index", &q.PageIndex).
		Int("page_size", &q.PageSize).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	page, err := h.service.Page(c.Request().Context(), q)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *SongsHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Play redirects to the access URL issued by the backend that holds the file.
func (h *SongsHandler) Play(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	url, err := h.service.PlayURL(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}

func (h *SongsHandler) Update(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	id, in, err := h.bindUpdate(c)
	if err != nil {
		return err
	}
	view, err := h.service.Update(c.Request().Context(), id, userID, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *SongsHandler) UpdateForce(c echo.Context) error {
	if _, err := RequireAdmin(c, h.admins); err != nil {
		return err
	}
	id, in, err := h.bindUpdate(c)
	if err != nil {
		return err
	}
	view, err := h.service.UpdateForce(c.Request().Context(), id, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *SongsHandler) bindUpdate(c echo.Context) (int64, songs.UpdateInput, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return 0, songs.UpdateInput{}, err
	}
	var in songs.UpdateInput
	if err := (&echo.DefaultBinder{}).BindBody(c, &in); err != nil {
		return 0, songs.UpdateInput{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return id, in, nil
}

func (h *SongsHandler) Remove(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.Remove(c.Request().Context(), id, userID); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SongsHandler) RemoveForce(c echo.Context) error {
	adminID, err := RequireAdmin(c, h.admins)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.RemoveForce(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	h.logger.Info("song force-removed", slog.Int64("song_id", id), slog.Int64("admin_id", adminID))
	return c.NoContent(http.StatusNoContent)
}
