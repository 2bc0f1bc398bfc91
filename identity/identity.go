// Package identity authenticates users against a local password table or a
// hosted GoTrue (Supabase Auth) service.
package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailTaken          = errors.New("email already registered")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrConfirmationPending = errors.New("account created; confirmation required")
)

// Principal is the authenticated user as carried in a session.
// All three fields are set together or the principal is absent.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Valid reports whether p carries every identifying field.
func (p *Principal) Valid() bool {
	return p != nil && p.ID != "" && p.Email != "" && p.DisplayName != ""
}

// defaultDisplayName falls back to the mailbox name for accounts created
// without a display name upstream.
func (p *Principal) defaultDisplayName() {
	if p.DisplayName == "" {
		p.DisplayName, _, _ = strings.Cut(p.Email, "@")
	}
}

// SignUpRequest is a validated registration.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// Provider signs users up and in.
type Provider interface {
	// SignUp creates an account. It returns ErrConfirmationPending when the
	// account exists but cannot sign in until the address is confirmed.
	SignUp(ctx context.Context, req SignUpRequest) (*Principal, error)
	SignIn(ctx context.Context, email, password string) (*Principal, error)
}
