package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/audioflow/audioflow/internal/boot"
	"github.com/audioflow/audioflow/internal/config"
	"github.com/audioflow/audioflow/internal/db"
	"github.com/audioflow/audioflow/internal/handlers"
	"github.com/audioflow/audioflow/internal/ids"
	"github.com/audioflow/audioflow/internal/logger"
	"github.com/audioflow/audioflow/internal/reconcile"
	"github.com/audioflow/audioflow/internal/server"
	"github.com/audioflow/audioflow/internal/songs"
	"github.com/audioflow/audioflow/internal/storage"
	"github.com/audioflow/audioflow/internal/storage/local"
	"github.com/audioflow/audioflow/internal/storage/s3"
	"github.com/audioflow/audioflow/internal/users"
	"github.com/audioflow/audioflow/internal/version"
)

func runServe(opts *rootOptions) error {
	app := fx.New(
		fx.Supply(opts),
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideDBConn,
			provideQuerier,
			provideIDs,

			provideLocalStrategy,
			provideRouter,

			fx.Annotate(users.NewPGStore, fx.As(new(users.Store))),
			songs.NewPGStore,
			provideSongStore,
			provideUserService,
			provideSongService,
			provideReconcileService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideUsersHandler),
			provideServerHandler(provideSongsHandler),
			provideFilesHandler,

			provideServer,
		),
		fx.Invoke(
			runAutoMigrate,
			startReconcile,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(opts *rootOptions) (config.Config, error) {
	return loadConfig(opts)
}

func provideLogger(config.Config) *slog.Logger {
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideQuerier(conn *pgxpool.Pool) db.Querier {
	return conn
}

func provideIDs(cfg config.Config) (ids.Generator, error) {
	return ids.NewSnowflake(cfg.Server.NodeID)
}

func provideLocalStrategy(log *slog.Logger, cfg config.Config) (*local.Strategy, error) {
	return local.New(log, cfg.Storage.Local.Dir, cfg.Storage.Local.URLPrefix)
}

// provideRouter registers the local backend and, when configured, S3. Both stay
// registered whichever is active so existing songs keep resolving.
func provideRouter(log *slog.Logger, rc *boot.RuntimeConfig, loc *local.Strategy) (*storage.Router, error) {
	strategies := []storage.Strategy{loc}
	if rc.S3 != nil {
		remote, err := s3.New(log, *rc.S3)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, remote)
	}
	router, err := storage.NewRouter(rc.StorageActive, strategies...)
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", slog.String("active", router.Active()), slog.Any("backends", router.Kinds()))
	return router, nil
}

type songStoreResult struct {
	fx.Out

	Store songs.Store
	Index reconcile.FileIndex
}

func provideSongStore(pg *songs.PGStore) songStoreResult {
	return songStoreResult{Store: pg, Index: pg}
}

func provideUserService(log *slog.Logger, store users.Store, gen ids.Generator) *users.Service {
	return users.NewService(log, store, gen)
}

func provideSongService(log *slog.Logger, store songs.Store, userService *users.Service, router *storage.Router, gen ids.Generator, rc *boot.RuntimeConfig) *songs.Service {
	return songs.NewService(log, store, userService, router, gen, rc.UploadMaxBytes)
}

func provideReconcileService(log *slog.Logger, router *storage.Router, index reconcile.FileIndex, rc *boot.RuntimeConfig) (*reconcile.Service, error) {
	return reconcile.NewService(log, router, index, rc.Reconcile)
}

func provideAuthHandler(log *slog.Logger, userService *users.Service, rc *boot.RuntimeConfig) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, userService, rc.JwtSecret, rc.JwtExpiresIn)
}

func provideUsersHandler(log *slog.Logger, userService *users.Service) *handlers.UsersHandler {
	return handlers.NewUsersHandler(log, userService)
}

func provideSongsHandler(log *slog.Logger, songService *songs.Service, userService *users.Service) *handlers.SongsHandler {
	return handlers.NewSongsHandler(log, songService, userService)
}

// provideFilesHandler is nil when the local URL prefix points elsewhere (e.g. a CDN).
func provideFilesHandler(log *slog.Logger, loc *local.Strategy) *handlers.FilesHandler {
	return handlers.NewFilesHandler(log, loc.Dir(), loc.URLPrefix())
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	Files          *handlers.FilesHandler
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	opts := server.Options{
		Addr:      params.RuntimeConfig.ServerAddr,
		JWTSecret: params.RuntimeConfig.JwtSecret,
		BodyLimit: params.RuntimeConfig.BodyLimit,
	}
	handlersList := params.ServerHandlers
	if params.Files != nil {
		opts.PublicPrefixes = append(opts.PublicPrefixes, params.Files.Prefix())
		handlersList = append(handlersList, params.Files)
	}
	return server.NewServer(params.Logger, opts, handlersList...)
}

func runAutoMigrate(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) {
	if !cfg.Postgres.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			migrations, err := migrationsFS()
			if err != nil {
				return err
			}
			if err := db.Up(log, cfg.Postgres, migrations); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			return nil
		},
	})
}

func startReconcile(lc fx.Lifecycle, log *slog.Logger, rc *boot.RuntimeConfig, svc *reconcile.Service) {
	if !rc.ReconcileEnabled {
		log.Info("reconcile sweep disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return svc.Start()
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	log *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
	cfg config.Config,
	userService *users.Service,
) {
	log.Info("starting audioflow", slog.String("version", version.GetInfo()))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdminUser(ctx, log, userService, cfg.Admin); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func ensureAdminUser(ctx context.Context, log *slog.Logger, userService *users.Service, admin config.AdminConfig) error {
	name := strings.TrimSpace(admin.Name)
	email := strings.TrimSpace(admin.Email)
	if name == "" || email == "" || admin.Password == "" {
		return errors.New("admin name/email/password required in config.toml")
	}
	created, err := userService.EnsureAdmin(ctx, name, email, admin.Password)
	if err != nil {
		return err
	}
	if created {
		log.Info("admin user created", slog.String("email", email))
	}
	return nil
}
