package guard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/auth"
	"github.com/Drasasse/gestion-commerce-sub000/internal/csrf"
	"github.com/Drasasse/gestion-commerce-sub000/internal/ratelimit"
	"github.com/Drasasse/gestion-commerce-sub000/internal/store/memory"
	ctlerrors "github.com/Drasasse/gestion-commerce-sub000/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAuth resolves a session from the X-Test-User header
var stubAuth = auth.AuthenticatorFunc(func(r *http.Request) (*auth.Session, error) {
	user := r.Header.Get("X-Test-User")
	if user == "" {
		return nil, ctlerrors.NewError(ctlerrors.ErrorTypeUnauthenticated, "no session")
	}
	return &auth.Session{
		ID:       "sess-" + user,
		Identity: auth.Identity{UserID: user, BoutiqueID: "b-1"},
	}, nil
})

type testEnv struct {
	guard   *Guard
	limiter *ratelimit.Limiter
	csrf    *csrf.Guard
	store   *memory.Store
}

func newTestEnv(t *testing.T, budgets map[ratelimit.Tier]ratelimit.Budget) *testEnv {
	t.Helper()

	kv := memory.NewStore(&memory.Config{CleanupInterval: 0})
	t.Cleanup(func() { kv.Close() })

	limiter := ratelimit.New(kv, ratelimit.Config{Budgets: budgets, Logger: testLogger()})
	csrfGuard := csrf.New(kv, csrf.Config{Logger: testLogger()})

	g := New(Config{
		Limiter: limiter,
		Csrf:    csrfGuard,
		Auth:    stubAuth,
		Logger:  testLogger(),
	})

	return &testEnv{guard: g, limiter: limiter, csrf: csrfGuard, store: kv}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestRateLimitHeadersOnSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.guard.Public(ratelimit.TierAPI, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderRateLimitLimit) != "100" {
		t.Errorf("expected limit header 100, got %s", rec.Header().Get(HeaderRateLimitLimit))
	}
	if rec.Header().Get(HeaderRateLimitRemaining) != "99" {
		t.Errorf("expected remaining header 99, got %s", rec.Header().Get(HeaderRateLimitRemaining))
	}
	if _, err := time.Parse(time.RFC3339, rec.Header().Get(HeaderRateLimitReset)); err != nil {
		t.Errorf("expected RFC 3339 reset header, got %s", rec.Header().Get(HeaderRateLimitReset))
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}
}

func TestRateLimitRejection(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Tier]ratelimit.Budget{
		ratelimit.TierLogin: {MaxRequests: 2, Window: time.Minute},
	})
	h := env.guard.Public(ratelimit.TierLogin, okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	body := decodeError(t, rec)
	if body["error"] != "Trop de requêtes" {
		t.Errorf("expected error 'Trop de requêtes', got %q", body["error"])
	}
	if _, err := time.Parse(time.RFC3339, body["retryAfter"]); err != nil {
		t.Errorf("expected RFC 3339 retryAfter, got %q", body["retryAfter"])
	}
	if rec.Header().Get(HeaderRateLimitRemaining) != "0" {
		t.Errorf("expected remaining header 0, got %s", rec.Header().Get(HeaderRateLimitRemaining))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
}

func TestRateLimitKeyedPerClient(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Tier]ratelimit.Budget{
		ratelimit.TierAPI: {MaxRequests: 1, Window: time.Minute},
	})
	h := env.guard.Public(ratelimit.TierAPI, okHandler())

	first := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
	first.RemoteAddr = "203.0.113.7:51000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for first client, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
	other.RemoteAddr = "198.51.100.23:40000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a different client, got %d", rec.Code)
	}
}

func TestCSRF(t *testing.T) {
	t.Run("GET is never rejected for CSRF reasons", func(t *testing.T) {
		env := newTestEnv(t, nil)
		h := env.guard.ProtectMutating(ratelimit.TierAPI, okHandler())

		req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
		req.Header.Set("X-Test-User", "u-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for GET without token, got %d", rec.Code)
		}
	})

	t.Run("POST without token is rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		h := env.guard.ProtectMutating(ratelimit.TierSensitive, okHandler())

		req := httptest.NewRequest(http.MethodPost, "/api/produits", nil)
		req.Header.Set("X-Test-User", "u-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		body := decodeError(t, rec)
		if body["error"] != "Jeton CSRF manquant" {
			t.Errorf("expected missing-token error, got %q", body["error"])
		}
	})

	t.Run("POST with wrong token is rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		h := env.guard.ProtectMutating(ratelimit.TierSensitive, okHandler())

		req := httptest.NewRequest(http.MethodPost, "/api/produits", nil)
		req.Header.Set("X-Test-User", "u-1")
		req.Header.Set(HeaderCsrfToken, "forged")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		body := decodeError(t, rec)
		if body["error"] != "Jeton CSRF invalide" {
			t.Errorf("expected invalid-token error, got %q", body["error"])
		}
	})

	t.Run("POST with valid token passes", func(t *testing.T) {
		env := newTestEnv(t, nil)

		token, err := env.csrf.Generate(context.Background(), "sess-u-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var seen auth.Identity
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = auth.IdentityFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
		h := env.guard.ProtectMutating(ratelimit.TierSensitive, handler)

		req := httptest.NewRequest(http.MethodPost, "/api/produits", nil)
		req.Header.Set("X-Test-User", "u-1")
		req.Header.Set(HeaderCsrfToken, token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		if seen.UserID != "u-1" {
			t.Errorf("expected handler to see identity u-1, got %q", seen.UserID)
		}
	})

	t.Run("POST without session is rejected with 401", func(t *testing.T) {
		env := newTestEnv(t, nil)
		h := env.guard.ProtectMutating(ratelimit.TierSensitive, okHandler())

		req := httptest.NewRequest(http.MethodPost, "/api/produits", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		body := decodeError(t, rec)
		if body["error"] != "Non authentifié" {
			t.Errorf("expected unauthenticated error, got %q", body["error"])
		}
	})
}

func TestAuthenticate(t *testing.T) {
	t.Run("missing identity is rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		h := env.guard.Protect(ratelimit.TierAPI, okHandler())

		req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("blocked user is rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		h := env.guard.Protect(ratelimit.TierAPI, okHandler())

		if err := env.limiter.BlockUser(context.Background(), "u-1", time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
		req.Header.Set("X-Test-User", "u-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for blocked user, got %d", rec.Code)
		}
	})
}

func TestRecover(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.guard.Public(ratelimit.TierAPI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("facture introuvable")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/factures", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body["error"] != "Erreur interne du serveur" {
		t.Errorf("expected generic error body, got %q", body["error"])
	}
	if strings.Contains(rec.Body.String(), "facture introuvable") {
		t.Error("expected panic detail to stay out of the response")
	}
}

func TestDefaultKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		trustXFF   bool
		remoteAddr string
		xff        string
		expected   string
	}{
		{"remote addr host", false, "203.0.113.7:51000", "", "203.0.113.7"},
		{"xff ignored when untrusted", false, "203.0.113.7:51000", "198.51.100.1", "203.0.113.7"},
		{"xff first entry when trusted", true, "203.0.113.7:51000", "198.51.100.1, 10.0.0.1", "198.51.100.1"},
		{"fallback for unparsable addr", false, "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			if got := DefaultKeyFunc(tt.trustXFF)(req); got != tt.expected {
				t.Errorf("expected key %q, got %q", tt.expected, got)
			}
		})
	}
}
