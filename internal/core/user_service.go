package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/store"
)

const (
	msgDuplicateEmail    = "User with this email already exists"
	msgOAuthOnlyPassword = "Password changes are not available for OAuth-only accounts. Please manage your password through your OAuth provider."
	msgWrongPassword     = "Current password is incorrect"
	msgPasswordUpdated   = "Password updated successfully"
)

type SignupInput struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateNameInput struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type UpdatePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required,min=1"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=100"`
}

type Profile struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Image *string `json:"image"`
}

type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type StatusMessage struct {
	Message string `json:"message"`
}

type UserService struct {
	store store.Store
	log   *zap.Logger
}

func NewUserService(s store.Store, log *zap.Logger) *UserService {
	return &UserService{store: s, log: log.Named("user_service")}
}

// Signup registers a credentials user. A taken email is rejected before any
// row is written.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*PublicUser, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, newRequestError(msgDuplicateEmail)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &store.User{Name: in.Name, Email: in.Email, PasswordHash: &hash}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, newRequestError(msgDuplicateEmail)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return &PublicUser{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// Authenticate checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, in SignInInput) (*PublicUser, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user.PasswordHash == nil || !auth.CheckPasswordHash(in.Password, *user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &PublicUser{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{ID: user.ID, Name: user.Name, Email: user.Email, Image: user.Image}, nil
}

func (s *UserService) UpdateName(ctx context.Context, userID string, in UpdateNameInput) (*PublicUser, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserName(ctx, userID, in.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user name: %w", err)
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PublicUser{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// UpdatePassword replaces the password hash. Users with a password must prove
// the current one; OAuth-only users are refused.
func (s *UserService) UpdatePassword(ctx context.Context, userID string, in UpdatePasswordInput) (*StatusMessage, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == nil {
		accounts, err := s.store.ListAccounts(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list linked accounts: %w", err)
		}
		for _, a := range accounts {
			if a.Type == store.AccountTypeOAuth {
				return nil, newRequestError(msgOAuthOnlyPassword)
			}
		}
	} else if !auth.CheckPasswordHash(in.CurrentPassword, *user.PasswordHash) {
		return nil, newRequestError(msgWrongPassword)
	}

	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update password: %w", err)
	}
	s.log.Info("password updated", zap.String("user_id", userID))
	return &StatusMessage{Message: msgPasswordUpdated}, nil
}

func (s *UserService) getUser(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
