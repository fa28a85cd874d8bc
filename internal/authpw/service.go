// Package authpw provides email/password authentication for marketplace
// users and admins.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"marketplace/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrMissingFields      = errors.New("email, password, and full name are required")
)

const minPasswordLength = 8

// AccountStore defines the storage interface for auth
type AccountStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, email, fullName, passwordHash string) (store.User, error)
	GetAdminByEmail(ctx context.Context, email string) (store.Admin, error)
}

// Service provides email/password authentication
type Service struct {
	store AccountStore
	cost  int
	// dummyHash is compared against when the account does not exist so both
	// paths take similar time.
	dummyHash []byte
}

func NewService(store AccountStore) *Service {
	return NewServiceWithCost(store, bcrypt.DefaultCost)
}

// NewServiceWithCost is used by tests to keep bcrypt cheap.
func NewServiceWithCost(store AccountStore, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("marketplace-dummy-password"), cost)
	return &Service{store: store, cost: cost, dummyHash: dummy}
}

// HashPassword hashes a password for storage.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email    string
	Password string
	FullName string
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.FullName) == "" {
		return store.User{}, ErrMissingFields
	}
	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return store.User{}, fmt.Errorf("look up user: %w", err)
	}

	user, err := s.store.CreateUser(ctx, req.Email, req.FullName, hash)
	if errors.Is(err, store.ErrConstraint) {
		return store.User{}, ErrEmailTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignInUser authenticates a marketplace user
func (s *Service) SignInUser(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !store.IsNotFound(err) {
			return store.User{}, fmt.Errorf("look up user: %w", err)
		}
		s.burn(password)
		return store.User{}, ErrInvalidCredentials
	}
	if err := s.compare(user.PasswordHash, password); err != nil {
		return store.User{}, err
	}
	if !user.IsActive {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// SignInAdmin authenticates a back-office admin
func (s *Service) SignInAdmin(ctx context.Context, email, password string) (store.Admin, error) {
	if email == "" || password == "" {
		return store.Admin{}, ErrInvalidCredentials
	}
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if !store.IsNotFound(err) {
			return store.Admin{}, fmt.Errorf("look up admin: %w", err)
		}
		s.burn(password)
		return store.Admin{}, ErrInvalidCredentials
	}
	if err := s.compare(admin.PasswordHash, password); err != nil {
		return store.Admin{}, err
	}
	if !admin.IsActive {
		return store.Admin{}, ErrInvalidCredentials
	}
	return admin, nil
}

func (s *Service) compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) burn(password string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}
