package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	ctlerrors "github.com/Drasasse/gestion-commerce-sub000/pkg/errors"
)

// DefaultCookieName is the session cookie inspected by the JWT authenticator
const DefaultCookieName = "commerce_session"

// sessionClaims are the JWT claims carried by a session token
type sessionClaims struct {
	BoutiqueID string `json:"boutique"`
	Role       string `json:"role"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HMAC-signed session tokens taken from the
// session cookie or, failing that, the Authorization header
type JWTAuthenticator struct {
	secret     []byte
	cookieName string
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator creates an authenticator for the given signing secret
func NewJWTAuthenticator(secret []byte, cookieName string) *JWTAuthenticator {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTAuthenticator{secret: secret, cookieName: cookieName}
}

// Authenticate resolves the request's session from its JWT
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Session, error) {
	raw := a.tokenFromRequest(r)
	if raw == "" {
		return nil, ctlerrors.NewError(ctlerrors.ErrorTypeUnauthenticated, "no session token")
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, ctlerrors.NewError(ctlerrors.ErrorTypeUnauthenticated, "invalid session token").WithCause(err)
	}
	if !token.Valid {
		return nil, ctlerrors.NewError(ctlerrors.ErrorTypeUnauthenticated, "invalid session token")
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = claims.ID
	}
	if sessionID == "" || claims.Subject == "" {
		return nil, ctlerrors.NewError(ctlerrors.ErrorTypeUnauthenticated, "incomplete session claims")
	}

	return &Session{
		ID: sessionID,
		Identity: Identity{
			UserID:     claims.Subject,
			BoutiqueID: claims.BoutiqueID,
			Role:       claims.Role,
		},
	}, nil
}

// tokenFromRequest reads the session cookie first, then the bearer header
func (a *JWTAuthenticator) tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}

// SignSession mints a session token, used by the login flow and tests
func SignSession(secret []byte, s Session, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		BoutiqueID: s.Identity.BoutiqueID,
		Role:       s.Identity.Role,
		SessionID:  s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Identity.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}
