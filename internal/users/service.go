// Package users manages accounts: registration, login and lookup.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/audioflow/audioflow/internal/ids"
)

type Service struct {
	store  Store
	ids    ids.Generator
	cost   int
	logger *slog.Logger
}

// Option tunes a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost (tests use bcrypt.MinCost).
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(log *slog.Logger, store Store, gen ids.Generator, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:  store,
		ids:    gen,
		cost:   bcrypt.DefaultCost,
		logger: log.With(slog.String("service", "users")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, userID int64) (User, error) {
	return s.store.GetByID(ctx, userID)
}

func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}

func (s *Service) Register(ctx context.Context, req CreateUserRequest) (User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return User{}, err
	}
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameRunes {
		return User{}, ErrInvalidName
	}
	if l := len(req.Password); l < MinPasswordBytes || l > MaxPasswordBytes {
		return User{}, ErrInvalidPassword
	}
	role := RoleUser
	if req.Role == RoleAdmin {
		role = RoleAdmin
	}

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return User{}, ErrEmailTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.store.Create(ctx, User{
		ID:           s.ids.Next(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hashed),
		Role:         role,
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user registered", slog.Int64("user_id", u.ID), slog.String("role", u.Role))
	return u, nil
}

// Login verifies credentials. Unknown emails and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap admin when no user exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.Register(ctx, CreateUserRequest{
		Email:    email,
		Name:     name,
		Password: password,
		Role:     RoleAdmin,
	}); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > MaxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
