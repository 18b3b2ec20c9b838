// Package server provides the HTTP server and Echo setup for the upload API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/audioflow/audioflow/internal/auth"
	"github.com/audioflow/audioflow/internal/logger"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = ":8080"

// Server is the HTTP server (Echo) with JWT middleware and registered handlers.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Options tune NewServer.
type Options struct {
	Addr      string
	JWTSecret string
	// BodyLimit caps request bodies, e.g. "64M". Empty disables the limit.
	BodyLimit string
	// PublicPrefixes are path prefixes served without a token, such as the local files mount.
	PublicPrefixes []string
}

// NewServer builds the Echo server with recovery, request IDs, request logging, JWT auth, and the given handlers.
func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), log, rid)))
			return next(c)
		}
	})
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
				slog.String("request_id", v.RequestID),
			)
			return nil
		},
	}))
	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}
	e.Use(auth.JWTMiddleware(opts.JWTSecret, publicSkipper(opts.PublicPrefixes)))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: log.With(slog.String("component", "server")),
	}
}

func publicSkipper(prefixes []string) middleware.Skipper {
	return func(c echo.Context) bool {
		req := c.Request()
		path := req.URL.Path
		switch {
		case path == "/ping" || path == "/health" || path == "/auth/login":
			return true
		case path == "/users" && req.Method == http.MethodPost:
			return true
		}
		for _, p := range prefixes {
			if p != "" && p != "/" && strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
}

// Echo exposes the underlying instance, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start starts the HTTP server (blocks until shutdown).
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server using the given context.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
