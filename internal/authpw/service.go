// Package authpw provides email/password accounts.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/store"
	"mscolab/api/internal/util"
)

const MinPasswordLength = 8

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(st UserStore) *Service {
	return &Service{store: st, cost: bcrypt.DefaultCost}
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"username"`
}

// Register creates an account. A taken email is a Conflict.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, apperr.MalformedInput("email, password and username are required")
	}
	if !strings.Contains(email, "@") {
		return store.User{}, apperr.MalformedInput("invalid email address %q", req.Email)
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, apperr.MalformedInput("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	return s.store.CreateUser(ctx, store.User{
		ID:           util.NewID("usr"),
		DisplayName:  name,
		Email:        email,
		PasswordHash: string(hash),
	})
}

// SignIn checks the credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, apperr.MalformedInput("email and password are required")
	}
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, apperr.ErrInvalidReference) {
		return store.User{}, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}
	if err != nil {
		return store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}
	return user, nil
}
