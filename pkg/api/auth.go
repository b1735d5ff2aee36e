package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the admin API accepts. Only the role matters:
// admin endpoints require role "admin".
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// validateAdminToken parses and verifies a bearer token and checks the admin
// role.
func validateAdminToken(secret, tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return jwt.ErrTokenUnverifiable
	}
	if claims.Role != "admin" {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

// requireAdmin guards the admin routes. A request passes with either the
// configured API key in X-API-Key or a bearer token carrying the admin role.
// With neither an API key nor a JWT secret configured the admin surface is
// open, which is only acceptable on a loopback bind.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" && s.config.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		if s.config.APIKey != "" && r.Header.Get("X-API-Key") == s.config.APIKey {
			next.ServeHTTP(w, r)
			return
		}

		if s.config.JWTSecret != "" {
			header := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(header, "Bearer "); ok {
				if err := validateAdminToken(s.config.JWTSecret, token); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		writeError(w, http.StatusUnauthorized, "unauthorized", "admin credentials required")
	})
}
