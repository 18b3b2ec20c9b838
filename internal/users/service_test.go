package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/audioflow/audioflow/internal/apperr"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Next() int64 { return s.n.Add(1) }

type memStore struct {
	mu    sync.Mutex
	users map[int64]User
	err   error
}

func newMemStore() *memStore { return &memStore{users: map[int64]User{}} }

func (m *memStore) GetByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return User{}, m.err
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memStore) Create(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(nil, store, &seqIDs{}, WithBcryptCost(bcrypt.MinCost)), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Register(ctx, CreateUserRequest{Email: " Alice@Example.com ", Name: "Alice", Password: "s3cretpass"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, RoleUser, u.Role)
	assert.NotEqual(t, "s3cretpass", u.PasswordHash)

	got, err := svc.Login(ctx, "alice@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Login(ctx, "nobody@example.com", "s3cretpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterRoleCannotBeEscalatedByDefault(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.Register(context.Background(), CreateUserRequest{Email: "b@example.com", Name: "B", Password: "password1", Role: "root"})
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateUserRequest
		want error
	}{
		{"bad email", CreateUserRequest{Email: "not-an-email", Name: "x", Password: "password1"}, ErrInvalidEmail},
		{"display email", CreateUserRequest{Email: "X <x@example.com>", Name: "x", Password: "password1"}, ErrInvalidEmail},
		{"empty name", CreateUserRequest{Email: "x@example.com", Name: "  ", Password: "password1"}, ErrInvalidName},
		{"long name", CreateUserRequest{Email: "x@example.com", Name: strings.Repeat("é", MaxNameRunes+1), Password: "password1"}, ErrInvalidName},
		{"short password", CreateUserRequest{Email: "x@example.com", Name: "x", Password: "short"}, ErrInvalidPassword},
		{"long password", CreateUserRequest{Email: "x@example.com", Name: "x", Password: strings.Repeat("p", MaxPasswordBytes+1)}, ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, CreateUserRequest{Email: "dup@example.com", Name: "one", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, CreateUserRequest{Email: "DUP@example.com", Name: "two", Password: "password2"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestLoginStoreFailurePropagates(t *testing.T) {
	svc, store := newTestService()
	boom := errors.New("db down")
	store.err = boom

	_, err := svc.Login(context.Background(), "a@example.com", "password1")
	assert.ErrorIs(t, err, boom)
}

func TestEnsureAdmin(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "admin", "admin@example.com", "change-me-please")
	require.NoError(t, err)
	assert.True(t, created)

	admin, err := svc.Login(ctx, "admin@example.com", "change-me-please")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	isAdmin, err := svc.IsAdmin(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	created, err = svc.EnsureAdmin(ctx, "admin2", "admin2@example.com", "change-me-please")
	require.NoError(t, err)
	assert.False(t, created)
	count, _ := store.Count(ctx)
	assert.Equal(t, int64(1), count)
}

func TestGetMissingUser(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
