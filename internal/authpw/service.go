// Package authpw signs admins in with email and password.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"kiritara/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// AdminStore defines the storage interface for auth
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (store.AdminUser, error)
	CreateAdmin(ctx context.Context, user store.AdminUser) (store.AdminUser, error)
	CountAdmins(ctx context.Context) (int, error)
}

// Service provides email/password authentication
type Service struct {
	store AdminStore
	cost  int
}

// NewService creates a new auth service
func NewService(store AdminStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// SignIn checks credentials and returns the matching admin.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.AdminUser, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return store.AdminUser{}, ErrInvalidCredentials
	}

	user, err := s.store.GetAdminByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdminUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.AdminUser{}, fmt.Errorf("lookup admin: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.AdminUser{}, ErrInvalidCredentials
	}
	return user, nil
}

// Bootstrap creates the first admin when none exist. It is a no-op
// afterwards, and when email or password is blank.
func (s *Service) Bootstrap(ctx context.Context, email, password string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return false, nil
	}

	count, err := s.store.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return false, err
	}
	displayName, _, _ := strings.Cut(email, "@")
	_, err = s.store.CreateAdmin(ctx, store.AdminUser{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         "admin",
	})
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
