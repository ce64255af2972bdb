// Package middleware provides HTTP middleware for the walletchat API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/walletchat/internal/identity"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// Claims represents JWT claims. The caller's wallet address comes from
// NeoAddress, falling back to the standard subject.
type Claims struct {
	NeoAddress string `json:"neo_address,omitempty"`
	jwt.RegisteredClaims
}

// Address returns the wallet address the token speaks for.
func (c *Claims) Address() string {
	if c.NeoAddress != "" {
		return c.NeoAddress
	}
	return c.Subject
}

var errMissingAddress = errors.New("token carries no wallet address")

type addressKey struct{}

// WithAddress stores the authenticated caller on ctx.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressKey{}, address)
}

// GetAddress returns the authenticated caller, or "" when unauthenticated.
func GetAddress(ctx context.Context) string {
	if addr, ok := ctx.Value(addressKey{}).(string); ok {
		return addr
	}
	return ""
}

// AuthMiddleware authenticates callers with HS256 bearer tokens.
type AuthMiddleware struct {
	secret    []byte
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		secret:    secret,
		logger:    log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.New("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.New("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithAddress(r.Context(), claims.Address())
		m.logger.WithContext(ctx).WithField("address", claims.Address()).Debug("authenticated")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if !identity.IsAddress(claims.Address()) {
		return nil, errMissingAddress
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	}).Warn("authentication failed")
	WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
}

// IssueToken signs a token for address valid for ttl. Used by tooling and
// tests; production tokens come from the wallet login flow.
func IssueToken(secret []byte, address string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		NeoAddress: address,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RequireAddress rejects requests that reached it without an authenticated caller.
func RequireAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAddress(r.Context()) == "" {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
