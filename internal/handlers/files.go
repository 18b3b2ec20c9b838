package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

// FilesHandler serves the local storage directory under its public URL prefix.
type FilesHandler struct {
	dir    string
	prefix string
	logger *slog.Logger
}

// NewFilesHandler returns nil when prefix is not a local path (e.g. an absolute
// CDN URL); the server skips nil handlers.
func NewFilesHandler(log *slog.Logger, dir, prefix string) *FilesHandler {
	if dir == "" || !strings.HasPrefix(prefix, "/") || prefix == "/" {
		return nil
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FilesHandler{
		dir:    dir,
		prefix: prefix,
		logger: log.With(slog.String("handler", "files")),
	}
}

// Prefix is the mounted URL prefix.
func (h *FilesHandler) Prefix() string {
	return h.prefix
}

func (h *FilesHandler) Register(e *echo.Echo) {
	if h == nil {
		return
	}
	static := echo.StaticDirectoryHandler(os.DirFS(h.dir), false)
	serve := func(c echo.Context) error {
		// In-flight writes are never served.
		if strings.Contains(c.Param("*"), ".tmp") {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return static(c)
	}
	e.GET(h.prefix+"*", serve)
	e.HEAD(h.prefix+"*", serve)
}
