// Package middleware provides HTTP middleware for the settlement API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
)

// Claims is the subset of a Supabase access token the API reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 bearer tokens signed with the project secret.
type AuthMiddleware struct {
	secret    []byte
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an auth middleware. Requests to skipPaths pass
// through unauthenticated.
func NewAuthMiddleware(secret string, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		secret:    []byte(secret),
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, svcerrors.Unauthorized("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondError(w, r, svcerrors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.Subject)
		if claims.Role != "" {
			ctx = logging.WithRole(ctx, claims.Role)
		}
		m.logger.WithContext(ctx).Debug("authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, svcerrors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, svcerrors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, svcerrors.InvalidToken(nil)
	}
	if claims.Subject == "" {
		return nil, svcerrors.InvalidToken(nil).WithDetails("reason", "missing sub claim")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteServiceError(w, err)
	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"error":  err.Error(),
	})
}

// GetUserID returns the authenticated subject, or "".
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole returns the token role claim, or "".
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}
