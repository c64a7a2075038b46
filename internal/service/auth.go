package service

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

const minPasswordLen = 8

// UserStore is the persistence surface AuthService needs.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// AuthService issues and refreshes HS256 JWTs and registers users.
// Tokens carry {sub, username, role, iat, exp}; middleware.Auth rejects
// any token whose iat predates the user's password_changed_at.
type AuthService struct {
	users      UserStore
	signingKey []byte
	tokenTTL   time.Duration
}

func NewAuthService(users UserStore, signingKey []byte, tokenTTL time.Duration) *AuthService {
	return &AuthService{users: users, signingKey: signingKey, tokenTTL: tokenTTL}
}

// Register creates a user with a bcrypt-hashed password and the
// default "user" role.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if username == "" {
		return nil, apperr.New(apperr.KindValidation, "username is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid email address")
	}
	if len(password) < minPasswordLen {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("service.AuthService.Register: %w", err)
	}
	if existing != nil {
		return nil, apperr.New(apperr.KindConflict, "username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("service.AuthService.Register: hash: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleRegularUser,
		Status:       model.UserEnabled,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service.AuthService.Register: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues a JWT. A disabled account is a
// 403, wrong credentials a 401 — without revealing which of the two
// inputs was wrong.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, fmt.Errorf("service.AuthService.Login: %w", err)
	}
	if user == nil {
		return "", nil, apperr.New(apperr.KindAuthentication, "invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.New(apperr.KindAuthentication, "invalid username or password")
	}
	if user.Status != model.UserEnabled {
		return "", nil, apperr.New(apperr.KindAuthorization, "account is disabled")
	}

	token, err := middleware.Issue(s.signingKey, user.ID, user.Username, user.Role, s.tokenTTL)
	if err != nil {
		return "", nil, fmt.Errorf("service.AuthService.Login: sign: %w", err)
	}
	return token, user, nil
}

// Refresh reissues a token for an already-authenticated user. The
// middleware has verified the old token, so a fresh iat here also
// survives any password change that happened before this call.
func (s *AuthService) Refresh(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service.AuthService.Refresh: %w", err)
	}
	if user == nil || user.Status != model.UserEnabled {
		return "", apperr.New(apperr.KindAuthentication, "user not found or disabled")
	}
	token, err := middleware.Issue(s.signingKey, user.ID, user.Username, user.Role, s.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("service.AuthService.Refresh: sign: %w", err)
	}
	return token, nil
}

// Me returns the authenticated user's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.AuthService.Me: %w", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	return user, nil
}
