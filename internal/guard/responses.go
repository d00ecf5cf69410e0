package guard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/ratelimit"
)

// HeaderCsrfToken carries the anti-forgery token on mutating requests
const HeaderCsrfToken = "x-csrf-token"

// Rate-limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// errorResponse is the JSON body of every guard rejection
type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter string `json:"retryAfter,omitempty"`
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	w.Header().Set(HeaderRateLimitReset, d.ResetAt.Format(time.RFC3339))
}

func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retryAfter := time.Until(d.ResetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))

	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:      "Trop de requêtes",
		Message:    "Limite de requêtes atteinte. Veuillez réessayer plus tard.",
		RetryAfter: d.ResetAt.Format(time.RFC3339),
	})
}

func writeCsrfMissing(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{
		Error:   "Jeton CSRF manquant",
		Message: "Les requêtes de modification doivent inclure l'en-tête x-csrf-token.",
	})
}

func writeCsrfInvalid(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{
		Error:   "Jeton CSRF invalide",
		Message: "Le jeton fourni ne correspond pas à la session.",
	})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error: "Non authentifié",
	})
}

func writeUserBlocked(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{
		Error:   "Compte temporairement bloqué",
		Message: "Trop de tentatives échouées. Réessayez plus tard.",
	})
}

func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error: "Erreur interne du serveur",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
