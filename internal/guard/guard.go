// Package guard composes rate limiting, authentication, and CSRF protection
// into the request pipeline every API route passes through before its
// handler runs. The guard itself holds no durable state; all coordination
// happens through the components' shared store.
package guard

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/Drasasse/gestion-commerce-sub000/internal/auth"
	"github.com/Drasasse/gestion-commerce-sub000/internal/csrf"
	"github.com/Drasasse/gestion-commerce-sub000/internal/ratelimit"
	"github.com/Drasasse/gestion-commerce-sub000/pkg/metrics"
	"github.com/Drasasse/gestion-commerce-sub000/pkg/requestid"
)

// Middleware wraps handlers
type Middleware func(http.Handler) http.Handler

// Chain combines multiple middleware, outermost first
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// KeyFunc resolves the rate-limit identifier of a request
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc resolves the client IP, preferring the first entry of
// X-Forwarded-For when the listener sits behind a trusted proxy
func DefaultKeyFunc(trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) string {
		if trustForwardedFor {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Config holds guard settings
type Config struct {
	Limiter *ratelimit.Limiter
	Csrf    *csrf.Guard
	Auth    auth.Authenticator
	// KeyFunc overrides DefaultKeyFunc, e.g. to key on user IDs
	KeyFunc KeyFunc
	// TrustForwardedFor enables X-Forwarded-For resolution in the default
	// key function
	TrustForwardedFor bool
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Guard wires the request-control components into middleware
type Guard struct {
	limiter *ratelimit.Limiter
	csrf    *csrf.Guard
	auth    auth.Authenticator
	keyFn   KeyFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a request guard
func New(cfg Config) *Guard {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultKeyFunc(cfg.TrustForwardedFor)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Guard{
		limiter: cfg.Limiter,
		csrf:    cfg.Csrf,
		auth:    cfg.Auth,
		keyFn:   cfg.KeyFunc,
		logger:  cfg.Logger.With("component", "guard"),
		metrics: cfg.Metrics,
	}
}

// Public wraps an unauthenticated route: recovery and rate limiting only.
// Used for login and other pre-session endpoints.
func (g *Guard) Public(tier ratelimit.Tier, next http.Handler) http.Handler {
	return Chain(g.RequestID(), g.Recover(), g.RateLimit(tier))(next)
}

// Protect wraps a read route: recovery, rate limiting, then authentication
func (g *Guard) Protect(tier ratelimit.Tier, next http.Handler) http.Handler {
	return Chain(g.RequestID(), g.Recover(), g.RateLimit(tier), g.Authenticate())(next)
}

// ProtectMutating wraps a mutating route: the CSRF check runs after rate
// limiting and before identity resolution
func (g *Guard) ProtectMutating(tier ratelimit.Tier, next http.Handler) http.Handler {
	return Chain(g.RequestID(), g.Recover(), g.RateLimit(tier), g.CSRF(), g.Authenticate())(next)
}

// RequestID assigns each request an ID for response headers and logs
func (g *Guard) RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestid.GenerateRequestID()
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
		})
	}
}

// Recover converts handler panics into a generic 500 response. Full detail
// is logged server-side; nothing internal reaches the caller.
func (g *Guard) Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					g.logger.Error("panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", requestIDFromContext(r.Context()),
						"stack", string(debug.Stack()),
					)
					writeInternalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit enforces the tier's budget. Rate-limit headers are set on every
// response, allowed or not; a denial short-circuits with 429 and retry
// metadata.
func (g *Guard) RateLimit(tier ratelimit.Tier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.limiter.Limit(r.Context(), tier, g.keyFn(r))
			setRateLimitHeaders(w, decision)

			if !decision.Allowed {
				g.logger.Warn("rate limit exceeded",
					"tier", tier,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFromContext(r.Context()),
				)
				writeRateLimited(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CSRF enforces the anti-forgery token on mutating verbs. Safe methods
// bypass the check entirely; any other method needs a resolvable session and
// a token matching the session's stored token.
func (g *Guard) CSRF() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			session, err := g.resolveSession(r)
			if err != nil {
				writeUnauthenticated(w)
				return
			}

			token := r.Header.Get(HeaderCsrfToken)
			if token == "" {
				g.csrfFailure("missing")
				writeCsrfMissing(w)
				return
			}
			if !g.csrf.Validate(r.Context(), session.ID, token) {
				g.csrfFailure("invalid")
				g.logger.Warn("csrf token rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFromContext(r.Context()),
				)
				writeCsrfInvalid(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}

// Authenticate resolves the caller's identity and rejects blocked users. A
// session already resolved by the CSRF step is reused.
func (g *Guard) Authenticate() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := auth.SessionFromContext(r.Context())
			if !ok {
				resolved, err := g.resolveSession(r)
				if err != nil {
					writeUnauthenticated(w)
					return
				}
				session = resolved
				r = r.WithContext(auth.WithSession(r.Context(), session))
			}

			if g.limiter != nil && g.limiter.IsUserBlocked(r.Context(), session.Identity.UserID) {
				writeUserBlocked(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) resolveSession(r *http.Request) (*auth.Session, error) {
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		return session, nil
	}
	return g.auth.Authenticate(r)
}

func (g *Guard) csrfFailure(reason string) {
	if g.metrics != nil {
		g.metrics.CsrfFailures.WithLabelValues(reason).Inc()
	}
}

// isSafeMethod reports whether a method is idempotent/safe and therefore
// exempt from CSRF protection
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
