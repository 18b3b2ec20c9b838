package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/audioflow/audioflow/internal/config"
)

// RunMigrate applies or rolls back database migrations.
// The migrationsFS should contain .sql files at its root (not in a subdirectory).
// Supported commands: "up [N]", "down [N]", "version", "force N". Without N,
// up and down run every pending migration.
func RunMigrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) error {
	if logger == nil {
		logger = slog.Default()
	}
	switch command {
	case "up", "down", "version", "force":
	default:
		return fmt.Errorf("unknown migrate command: %s (use: up, down, version, force)", command)
	}
	if command == "force" && len(args) == 0 {
		return errors.New("force requires a version number argument")
	}
	steps, err := parseSteps(command, args)
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DSN(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("close migrate", slog.Any("source_error", srcErr), slog.Any("db_error", dbErr))
		}
	}()

	log := logger.With(slog.String("component", "migrate"))
	m.Log = &migrateLogger{logger: log}

	switch command {
	case "up":
		if err := ignoreNoChange(run(m, steps, m.Up)); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		ver, dirty, _ := m.Version()
		log.Info("migration complete", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))

	case "down":
		if err := ignoreNoChange(run(m, -steps, m.Down)); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		ver, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("all migrations rolled back")
			break
		}
		log.Info("rolled back", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))

	case "version":
		ver, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("no migration applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		log.Info("current version", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))

	case "force":
		if err := m.Force(steps); err != nil {
			return fmt.Errorf("migrate force: %w", err)
		}
		log.Info("forced version", slog.Int("version", steps))
	}
	return nil
}

// Up applies all pending migrations; used for auto-migration on serve.
func Up(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS) error {
	return RunMigrate(logger, cfg, migrationsFS, "up", nil)
}

// parseSteps reads the optional step count of up/down and the version of force.
// Zero means "all" for up and down.
func parseSteps(command string, args []string) (int, error) {
	if len(args) == 0 || command == "version" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return 0, fmt.Errorf("invalid %s argument %q: %w", command, args[0], err)
	}
	if command != "force" && n <= 0 {
		return 0, fmt.Errorf("%s steps must be positive, got %d", command, n)
	}
	if command == "force" && n < -1 {
		return 0, fmt.Errorf("force version must be >= -1, got %d", n)
	}
	return n, nil
}

func run(m *migrate.Migrate, steps int, all func() error) error {
	if steps == 0 {
		return all()
	}
	return m.Steps(steps)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
