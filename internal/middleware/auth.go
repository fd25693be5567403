// Package middleware is the HTTP surface's auth layer (§6.2): every
// route is authenticated with a bearer token issued by an external
// collaborator service; admin routes additionally require the admin
// claim. Adapted from api-gateway/internal/middleware/auth.go, RS256
// only — corebroker never issues its own tokens, only verifies them.
package middleware

import (
	"context"
	"crypto/rsa"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
)

type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type claimsKeyType struct{}

var claimsKey claimsKeyType

func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

// RequireAuth verifies the bearer token against pubKey and stashes its
// claims in the request context; every route in §6.2 except /healthz
// and /readyz sits behind this.
func RequireAuth(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := extractToken(r)
			if tokenStr == "" {
				apierr.Write(w, apierr.AuthRequiredErr("missing bearer token"))
				return
			}
			token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return pubKey, nil
			})
			if err != nil || !token.Valid {
				apierr.Write(w, apierr.AuthFailedErr("invalid or expired token"))
				return
			}
			claims, ok := token.Claims.(*Claims)
			if !ok {
				apierr.Write(w, apierr.AuthFailedErr("invalid token claims"))
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates §6.2's admin-prefixed routes on the admin claim;
// must sit behind RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(claimsKey).(*Claims)
		if !ok || claims.Role != "admin" {
			apierr.Write(w, apierr.ForbiddenErr("admin claim required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func GetClaims(r *http.Request) *Claims {
	claims, _ := r.Context().Value(claimsKey).(*Claims)
	return claims
}
