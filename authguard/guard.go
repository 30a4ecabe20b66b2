// Package authguard validates the Authorization header on every protected
// route and issues the client-credentials tokens it then verifies.
package authguard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey mirrors examples/jwt-auth/jwt_authenticator.go's pattern for
// stashing verified claims on the request context.
type contextKey string

const claimsContextKey contextKey = "authguard_claims"

// Claims is what a verified signed token exposes to downstream components.
type Claims struct {
	ClientID string
	Scope    string
}

// ClaimsFromContext extracts verified claims, mirroring
// examples/jwt-auth/jwt_authenticator.go's ClaimsFromContext.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(Claims)
	return c, ok
}

// Guard accepts either a static shared secret or a JWT signed with the same
// HMAC key the token endpoint uses to issue them (see token.go): this
// service is both the issuer and the verifier, so there is no external
// IdP key to trust the way examples/jwt-auth/jwt_authenticator.go assumes.
type Guard struct {
	staticSecret  string
	signingSecret []byte
}

func New(staticSecret, signingSecret string) *Guard {
	return &Guard{staticSecret: staticSecret, signingSecret: []byte(signingSecret)}
}

// Authenticate validates r's Authorization header in place and, for a
// verified signed token, attaches its claims to r's context.
func (g *Guard) Authenticate(r *http.Request) (*http.Request, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return r, fmt.Errorf("missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return r, fmt.Errorf("invalid authorization type")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	if g.staticSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(g.staticSecret)) == 1 {
		return r, nil
	}

	claims, err := g.verifyToken(token)
	if err != nil {
		return r, err
	}
	ctx := context.WithValue(r.Context(), claimsContextKey, claims)
	return r.WithContext(ctx), nil
}

func (g *Guard) verifyToken(tokenString string) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.signingSecret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("token is invalid")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("invalid claims format")
	}
	clientID, _ := mapClaims["sub"].(string)
	scope, _ := mapClaims["scope"].(string)
	return Claims{ClientID: clientID, Scope: scope}, nil
}

// Middleware wraps next, returning 401 with a SCIM error body and a
// WWW-Authenticate challenge on authentication failure, in the spirit of
// auth.Middleware but SCIM-shaped (application/scim+json body) rather than
// the teacher's plain-string 401 body.
func Middleware(g *Guard, writeUnauthorized func(w http.ResponseWriter)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authenticated, err := g.Authenticate(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="SCIM"`)
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, authenticated)
		})
	}
}

// DefaultTokenTTL is the access token lifetime used when none is configured.
const DefaultTokenTTL = time.Hour
