package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/auth"
	"github.com/Drasasse/gestion-commerce-sub000/internal/cache"
)

const (
	// sessionTTL bounds the JWT lifetime; the CSRF token expires on its own
	// shorter schedule
	sessionTTL = 24 * time.Hour

	// maxLoginFailures consecutive failed logins block the account
	maxLoginFailures = 5
	loginBlockWindow = 15 * time.Minute
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	CsrfToken string `json:"csrfToken"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email et mot de passe requis")
		return
	}

	account, found := s.users.Lookup(req.Email)
	if found && s.limiter.IsUserBlocked(r.Context(), account.UserID) {
		writeError(w, http.StatusForbidden, "Compte temporairement bloqué")
		return
	}

	if !found || !account.PasswordMatches(req.Password) {
		if found {
			s.recordLoginFailure(r.Context(), account.UserID)
		}
		writeError(w, http.StatusUnauthorized, "Identifiants invalides")
		return
	}

	failureKey := loginFailureKey(account.UserID)
	if err := s.store.Delete(r.Context(), failureKey); err != nil {
		s.logger.Warn("failed to clear login failures", "error", err)
	}

	session := auth.Session{
		ID: newSessionID(),
		Identity: auth.Identity{
			UserID:     account.UserID,
			BoutiqueID: account.BoutiqueID,
			Role:       account.Role,
		},
	}

	token, err := auth.SignSession([]byte(s.config.Auth.JWTSecret), session, time.Now().Add(sessionTTL))
	if err != nil {
		s.logger.Error("failed to sign session", "error", err)
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur")
		return
	}

	csrfToken, err := s.csrf.Generate(r.Context(), session.ID)
	if err != nil {
		s.logger.Error("failed to issue csrf token", "error", err)
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})

	s.logger.Info("login succeeded", "user", account.UserID, "boutique", account.BoutiqueID)
	writeJSON(w, http.StatusOK, loginResponse{CsrfToken: csrfToken})
}

// recordLoginFailure counts consecutive failures per account and blocks the
// account once the threshold is reached. The counter shares the punitive
// block's window so both expire together.
func (s *Server) recordLoginFailure(ctx context.Context, userID string) {
	count, err := s.store.Increment(ctx, loginFailureKey(userID), loginBlockWindow)
	if err != nil {
		s.logger.Warn("failed to record login failure", "user", userID, "error", err)
		return
	}

	if count >= maxLoginFailures {
		if err := s.limiter.BlockUser(ctx, userID, loginBlockWindow); err != nil {
			s.logger.Error("failed to block user", "user", userID, "error", err)
		}
	}
}

func loginFailureKey(userID string) string {
	return "loginfail:" + userID
}

func (s *Server) handleListProduits(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Non authentifié")
		return
	}

	var produits []Produit
	err := s.cache.Cached(r.Context(), "boutique:"+identity.BoutiqueID, cache.Options{
		Prefix: "produits",
		TTL:    cache.TTLMedium,
		Tags:   []string{"produits"},
	}, &produits, func(ctx context.Context) (any, error) {
		return s.catalog.ListByBoutique(identity.BoutiqueID), nil
	})
	if err != nil {
		s.logger.Error("failed to list produits", "boutique", identity.BoutiqueID, "error", err)
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur")
		return
	}

	writeJSON(w, http.StatusOK, produits)
}

func (s *Server) handleCreateProduit(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Non authentifié")
		return
	}

	var p Produit
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Nom == "" {
		writeError(w, http.StatusBadRequest, "Nom du produit requis")
		return
	}
	if p.Prix < 0 || p.Stock < 0 {
		writeError(w, http.StatusBadRequest, "Prix et stock doivent être positifs")
		return
	}

	created := s.catalog.Add(identity.BoutiqueID, p)

	if err := s.cache.InvalidateByTag(r.Context(), "produits"); err != nil {
		// Stale cache entries age out on their own TTL; log and move on.
		s.logger.Warn("failed to invalidate produits cache", "error", err)
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleRefreshCsrf(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Non authentifié")
		return
	}

	token, err := s.csrf.Refresh(r.Context(), session.ID)
	if err != nil {
		s.logger.Error("failed to refresh csrf token", "session", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{CsrfToken: token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.Exists(ctx, "healthz"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "indisponible"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) cookieName() string {
	if s.config.Auth.CookieName != "" {
		return s.config.Auth.CookieName
	}
	return auth.DefaultCookieName
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// constantTimeEquals avoids leaking password prefixes through timing
func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
