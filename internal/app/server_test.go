package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Drasasse/gestion-commerce-sub000/internal/config"
	"github.com/Drasasse/gestion-commerce-sub000/internal/guard"
	memorystore "github.com/Drasasse/gestion-commerce-sub000/internal/store/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	// Wide login budget so failure-threshold tests are not cut short by the
	// per-IP limiter.
	cfg.RateLimit.Login.MaxRequests = 100
	cfg.RateLimit.Sensitive.MaxRequests = 100

	kv := memorystore.NewStore(nil)
	t.Cleanup(func() { kv.Close() })

	s, err := NewServerWithStore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), kv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// login authenticates the demo account and returns the session cookie and
// CSRF token for follow-up requests.
func login(t *testing.T, s *Server, email, password string) (cookie, csrfToken string) {
	t.Helper()

	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	rec := do(s, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}

	resp := rec.Result()
	for _, c := range resp.Cookies() {
		if c.Name == "commerce_session" {
			cookie = c.Name + "=" + c.Value
		}
	}
	if cookie == "" {
		t.Fatal("expected a session cookie")
	}

	var payload struct {
		CsrfToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.CsrfToken == "" {
		t.Fatal("expected a csrf token")
	}

	return cookie, payload.CsrfToken
}

func TestLoginIssuesSessionAndCsrfToken(t *testing.T) {
	s := newTestServer(t)
	login(t, s, "marie@maboutique.fr", "motdepasse")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"marie@maboutique.fr","password":"faux"}`
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	rec := do(s, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestRepeatedLoginFailuresBlockAccount(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"karim@epicerie.fr","password":"faux"}`
	for i := 0; i < maxLoginFailures; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
		if rec := do(s, req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected status 401, got %d", i+1, rec.Code)
		}
	}

	// Even the correct password is refused while the block lasts.
	good := `{"email":"karim@epicerie.fr","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(good))
	rec := do(s, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403 for blocked account, got %d", rec.Code)
	}
}

func TestProduitsRequireAuthentication(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
	if rec := do(s, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestProduitsListAndCreate(t *testing.T) {
	s := newTestServer(t)
	cookie, csrfToken := login(t, s, "marie@maboutique.fr", "motdepasse")

	list := func() []Produit {
		req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
		req.Header.Set("Cookie", cookie)
		rec := do(s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("list failed with status %d: %s", rec.Code, rec.Body.String())
		}
		var produits []Produit
		if err := json.Unmarshal(rec.Body.Bytes(), &produits); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return produits
	}

	before := list()

	// Mutation without the CSRF token is refused.
	body := `{"nom":"Thé vert","prix":8.50,"stock":30}`
	req := httptest.NewRequest(http.MethodPost, "/api/produits", strings.NewReader(body))
	req.Header.Set("Cookie", cookie)
	if rec := do(s, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 without csrf token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/produits", strings.NewReader(body))
	req.Header.Set("Cookie", cookie)
	req.Header.Set(guard.HeaderCsrfToken, csrfToken)
	rec := do(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed with status %d: %s", rec.Code, rec.Body.String())
	}

	// The tag invalidation makes the new product visible immediately, not
	// after the cache TTL.
	after := list()
	if len(after) != len(before)+1 {
		t.Errorf("expected %d produits after create, got %d", len(before)+1, len(after))
	}
}

func TestCsrfRefreshInvalidatesOldToken(t *testing.T) {
	s := newTestServer(t)
	cookie, oldToken := login(t, s, "marie@maboutique.fr", "motdepasse")

	req := httptest.NewRequest(http.MethodPost, "/api/csrf/refresh", nil)
	req.Header.Set("Cookie", cookie)
	rec := do(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh failed with status %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		CsrfToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.CsrfToken == "" || payload.CsrfToken == oldToken {
		t.Fatal("expected a fresh csrf token")
	}

	body := `{"nom":"Miel","prix":9.90,"stock":12}`
	req = httptest.NewRequest(http.MethodPost, "/api/produits", strings.NewReader(body))
	req.Header.Set("Cookie", cookie)
	req.Header.Set(guard.HeaderCsrfToken, oldToken)
	if rec := do(s, req); rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403 with the revoked token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/produits", strings.NewReader(body))
	req.Header.Set("Cookie", cookie)
	req.Header.Set(guard.HeaderCsrfToken, payload.CsrfToken)
	if rec := do(s, req); rec.Code != http.StatusCreated {
		t.Errorf("expected status 201 with the fresh token, got %d", rec.Code)
	}
}

func TestRateLimitHeadersOnApiRoutes(t *testing.T) {
	s := newTestServer(t)
	cookie, _ := login(t, s, "marie@maboutique.fr", "motdepasse")

	req := httptest.NewRequest(http.MethodGet, "/api/produits", nil)
	req.Header.Set("Cookie", cookie)
	rec := do(s, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list failed with status %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("expected X-RateLimit-Limit 100, got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected X-RateLimit-Remaining to be set")
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := do(s, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}
