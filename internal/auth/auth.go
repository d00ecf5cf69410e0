// Package auth is the seam to the application's authentication collaborator.
// The request guard depends only on the Authenticator interface; the JWT
// implementation in this package is what the demo server wires in.
package auth

import (
	"context"
	"net/http"
)

// Identity is the authenticated caller as the business layer sees it
type Identity struct {
	UserID     string
	BoutiqueID string
	Role       string
}

// Session couples an identity with its server-side session ID, which also
// keys the session's CSRF token
type Session struct {
	ID       string
	Identity Identity
}

// Authenticator resolves the authenticated session of a request
type Authenticator interface {
	// Authenticate returns the request's session or an error when no valid
	// session is present
	Authenticate(r *http.Request) (*Session, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface
type AuthenticatorFunc func(r *http.Request) (*Session, error)

// Authenticate implements Authenticator
func (f AuthenticatorFunc) Authenticate(r *http.Request) (*Session, error) {
	return f(r)
}

type contextKey struct{}

// WithSession stores a resolved session in the context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SessionFromContext returns the session stored by the request guard, if any
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}

// IdentityFromContext returns the identity of the resolved session, if any
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return Identity{}, false
	}
	return s.Identity, true
}
