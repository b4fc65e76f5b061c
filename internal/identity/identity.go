// Package identity authenticates clinicians and tracks their sign-in
// sessions.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoSession is returned when the request carries no live session.
	ErrNoSession = errors.New("no active session")
)

// Identity is a signed-in clinician.
type Identity struct {
	ID          string `json:"id" db:"id"`
	Email       string `json:"email" db:"email"`
	DisplayName string `json:"displayName" db:"display_name"`
	// SessionID identifies the sign-in, not the user.
	SessionID string `json:"-" db:"-"`
}

// Provider is the identity contract the rest of the service depends on.
type Provider interface {
	// CurrentIdentity returns the identity attached to ctx.
	CurrentIdentity(ctx context.Context) (Identity, error)
	// VerifyCredentials checks an email/password pair.
	VerifyCredentials(ctx context.Context, email, password string) error
	// SignOut ends the session attached to ctx.
	SignOut(ctx context.Context) error
}

type ctxKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached to ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.ID != ""
}
