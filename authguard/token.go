package authguard

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenResponse is the client-credentials success body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type tokenErrorResponse struct {
	Error string `json:"error"`
}

// TokenHandler serves POST /oauth/token for the client-credentials grant.
// client_secret is checked against the same static secret Guard.Authenticate
// accepts as a bearer value: this service issues and verifies its own
// tokens, it is not a relying party against a separate client registry.
type TokenHandler struct {
	guard *Guard
	ttl   time.Duration
}

func NewTokenHandler(g *Guard, ttl time.Duration) *TokenHandler {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenHandler{guard: g, ttl: ttl}
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	grantType := r.Form.Get("grant_type")
	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")
	scope := r.Form.Get("scope")

	if grantType != "client_credentials" {
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	if clientID == "" || clientSecret == "" {
		writeTokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if h.guard.staticSecret == "" || subtle.ConstantTimeCompare([]byte(clientSecret), []byte(h.guard.staticSecret)) != 1 {
		writeTokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": clientID,
		"iat": now.Unix(),
		"exp": now.Add(h.ttl).Unix(),
	}
	if scope != "" {
		claims["scope"] = scope
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.guard.signingSecret)
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.ttl.Seconds()),
	})
}

func writeTokenError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenErrorResponse{Error: code})
}
