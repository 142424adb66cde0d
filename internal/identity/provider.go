package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the IdP rejects an email/password pair.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountExists is returned when an account with the email is already registered.
	ErrAccountExists = errors.New("an account with this email already exists")
	// ErrNotConfigured is returned by Unconfigured for every operation.
	ErrNotConfigured = errors.New("identity provider is not configured")
)

// TokenPair is the credential pair issued on sign-in or sign-up.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Session is the credential pair presented by the client, as read from its cookies.
type Session struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether the client presented no credentials at all.
func (s Session) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Registration carries the fields sent to the IdP when creating an account.
type Registration struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Profile  map[string]any `json:"profile,omitempty"`
}

// Provider is the identity provider boundary. Implementations perform exactly one
// network exchange per call and never retry.
type Provider interface {
	Authenticate(ctx context.Context, email, password string) (TokenPair, error)
	CreateAccount(ctx context.Context, reg Registration) (TokenPair, error)
	Invalidate(ctx context.Context, session Session) error
}

// ProviderError describes an IdP failure that has no dedicated sentinel.
type ProviderError struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("identity provider %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Unconfigured is the Provider used when no IdP is set up. Every call fails.
type Unconfigured struct{}

func (Unconfigured) Authenticate(context.Context, string, string) (TokenPair, error) {
	return TokenPair{}, ErrNotConfigured
}

func (Unconfigured) CreateAccount(context.Context, Registration) (TokenPair, error) {
	return TokenPair{}, ErrNotConfigured
}

func (Unconfigured) Invalidate(context.Context, Session) error {
	return ErrNotConfigured
}
