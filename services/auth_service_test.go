package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/commsapp/server/models"
	"github.com/commsapp/server/pkg"
)

type mockUserRepo struct {
	CreateFn        func(ctx context.Context, user *models.User) error
	GetByIDFn       func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFn func(ctx context.Context, username string) (*models.User, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, fmt.Errorf("user %s: %w", id, pkg.ErrNotFound)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFn != nil {
		return m.GetByUsernameFn(ctx, username)
	}
	return nil, fmt.Errorf("user %s: %w", username, pkg.ErrNotFound)
}

func validRegister() *models.CreateUserRequest {
	return &models.CreateUserRequest{
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "correct horse battery",
	}
}

func TestRegisterIssuesValidToken(t *testing.T) {
	var stored *models.User
	repo := &mockUserRepo{
		CreateFn: func(ctx context.Context, user *models.User) error {
			stored = user
			return nil
		},
	}
	svc := NewAuthService(repo, "test-secret", 15)

	tokens, err := svc.Register(context.Background(), validRegister())
	require.NoError(t, err)
	require.NotNil(t, stored)

	// Stored hash verifies, and never leaves the service.
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct horse battery")))
	assert.Empty(t, tokens.User.PasswordHash)

	claims, err := svc.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	repo := &mockUserRepo{
		CreateFn: func(ctx context.Context, user *models.User) error {
			return fmt.Errorf("username taken: %w", pkg.ErrAlreadyExists)
		},
	}
	svc := NewAuthService(repo, "test-secret", 15)

	_, err := svc.Register(context.Background(), validRegister())
	assert.ErrorIs(t, err, pkg.ErrAlreadyExists)
}

func TestLoginWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &mockUserRepo{
		GetByUsernameFn: func(ctx context.Context, username string) (*models.User, error) {
			return &models.User{ID: "u1", Username: username, PasswordHash: string(hash)}, nil
		},
	}
	svc := NewAuthService(repo, "test-secret", 15)

	_, err = svc.Login(context.Background(), &models.LoginRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)
}

func TestLoginUnknownUserSameError(t *testing.T) {
	svc := NewAuthService(&mockUserRepo{}, "test-secret", 15)

	// Unknown user and wrong password must be indistinguishable.
	_, err := svc.Login(context.Background(), &models.LoginRequest{Username: "ghost", Password: "x"})
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)
	assert.Contains(t, err.Error(), "invalid username or password")
}

func TestValidateAccessTokenRejectsTampering(t *testing.T) {
	svc := NewAuthService(&mockUserRepo{}, "test-secret", 15)
	other := NewAuthService(&mockUserRepo{}, "other-secret", 15)

	tokens, err := svc.Register(context.Background(), validRegister())
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(tokens.AccessToken)
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)

	_, err = svc.ValidateAccessToken("not.a.token")
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)
}
