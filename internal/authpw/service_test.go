package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/store"
)

func newTestService() *Service {
	svc := NewService(store.NewMemoryStore())
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegisterAndSignIn(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Email: " Avery@Example.test ", Password: "correct horse", DisplayName: "avery"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == "" || user.Email != "avery@example.test" || user.PasswordHash == "correct horse" {
		t.Fatalf("unexpected user %+v", user)
	}

	got, err := svc.SignIn(ctx, "AVERY@example.test", "correct horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("SignIn() user = %s, want %s", got.ID, user.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{name: "missing fields", req: RegisterRequest{Email: "a@b.c"}, want: apperr.ErrMalformedInput},
		{name: "bad email", req: RegisterRequest{Email: "nope", Password: "longenough", DisplayName: "x"}, want: apperr.ErrMalformedInput},
		{name: "short password", req: RegisterRequest{Email: "a@b.c", Password: "short", DisplayName: "x"}, want: apperr.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}

	req := RegisterRequest{Email: "dup@example.test", Password: "longenough", DisplayName: "dup"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, req); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate Register() error = %v", err)
	}
}

func TestSignInFailuresAreUnauthorized(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Email: "b@example.test", Password: "longenough", DisplayName: "b"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, tc := range [][2]string{{"b@example.test", "wrongpass"}, {"ghost@example.test", "longenough"}} {
		if _, err := svc.SignIn(ctx, tc[0], tc[1]); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("SignIn(%s) error = %v", tc[0], err)
		}
	}
}
