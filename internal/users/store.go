package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/audioflow/audioflow/internal/db"
)

// Store persists users.
type Store interface {
	GetByID(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u User) (User, error)
	Count(ctx context.Context) (int64, error)
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	q      db.Querier
	logger *slog.Logger
}

// NewPGStore creates a store on q (usually a *pgxpool.Pool).
func NewPGStore(log *slog.Logger, q db.Querier) *PGStore {
	if log == nil {
		log = slog.Default()
	}
	return &PGStore{q: q, logger: log.With(slog.String("store", "users"))}
}

var userColumns = []string{"id", "email", "name", "password_hash", "role", "created_at", "updated_at"}

func (s *PGStore) GetByID(ctx context.Context, id int64) (User, error) {
	return s.getOne(ctx, "GetByID", sq.Eq{"id": id})
}

func (s *PGStore) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, "GetByEmail", sq.Expr("lower(email) = lower(?)", strings.TrimSpace(email)))
}

func (s *PGStore) getOne(ctx context.Context, op string, pred sq.Sqlizer) (User, error) {
	sqlStr, args, err := db.Builder().Select(userColumns...).From("users").Where(pred).ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build %s: %w", op, err)
	}
	db.LogSQL(s.logger, op, sqlStr, args)

	var u User
	err = s.q.QueryRow(ctx, sqlStr, args...).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("users %s: %w", op, err)
	}
	return u, nil
}

func (s *PGStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	sqlStr, args, err := db.Builder().
		Select("1").Prefix("SELECT EXISTS (").
		From("users").
		Where(sq.Expr("lower(email) = lower(?)", strings.TrimSpace(email))).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build ExistsByEmail: %w", err)
	}
	db.LogSQL(s.logger, "ExistsByEmail", sqlStr, args)

	var exists bool
	if err := s.q.QueryRow(ctx, sqlStr, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("users ExistsByEmail: %w", err)
	}
	return exists, nil
}

func (s *PGStore) Create(ctx context.Context, u User) (User, error) {
	now := time.Now().UTC()
	sqlStr, args, err := db.Builder().Insert("users").
		Columns("id", "email", "name", "password_hash", "role", "created_at", "updated_at").
		Values(u.ID, u.Email, u.Name, u.PasswordHash, u.Role, now, now).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build Create: %w", err)
	}
	db.LogSQL(s.logger, "Create", sqlStr, args)

	start := time.Now()
	var out User
	err = s.q.QueryRow(ctx, sqlStr, args...).Scan(
		&out.ID, &out.Email, &out.Name, &out.PasswordHash, &out.Role, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("users Create: %w", err)
	}
	s.logger.Debug("user created", slog.Int64("id", out.ID), slog.Duration("took", time.Since(start)))
	return out, nil
}

func (s *PGStore) Count(ctx context.Context) (int64, error) {
	sqlStr, args, err := db.Builder().Select("count(*)").From("users").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build Count: %w", err)
	}
	var n int64
	if err := s.q.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("users Count: %w", err)
	}
	return n, nil
}
