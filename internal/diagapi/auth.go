package diagapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// adminClaims is the only role this API recognises: there is no user
// database, no sessions, and no refresh tokens, because this process
// administers exactly one bus link rather than a fleet of devices.
type adminClaims struct {
	jwt.RegisteredClaims
}

// GenerateAdminToken signs a bearer token against secret, valid for
// ttl. Operators mint tokens out of band via cmd/knxgw-token rather
// than through a login endpoint, since there is only one role.
func GenerateAdminToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("diagapi: signing admin token: %w", err)
	}
	return signed, nil
}

func parseAdminToken(tokenString, secret string) error {
	token, err := jwt.ParseWithClaims(tokenString, &adminClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// requireAdmin wraps next so it only runs once the request carries a
// valid "Authorization: Bearer <token>" header signed with the
// server's configured secret.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		token := strings.TrimPrefix(header, prefix)
		if err := parseAdminToken(token, s.jwtSecret); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
