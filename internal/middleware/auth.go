package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

// UserIDFromContext retrieves the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

// RoleFromContext retrieves the authenticated user's role from the request context.
func RoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleKey).(model.Role)
	return role
}

// WithUserID returns a new context with the given user ID set. Useful
// for testing handlers that depend on Auth.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// Claims is the JWT payload: {sub, username, role, iat, exp}.
type Claims struct {
	Username string    `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// PasswordChangeLookup resolves a user's password_changed_at so tokens
// issued before a password reset can be rejected even before exp.
type PasswordChangeLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Issue signs a Claims token with HS256, valid for ttl.
func Issue(signingKey []byte, userID, username string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

// Auth verifies the bearer JWT (from Authorization, X-Token, or ?token=
// per spec), then rejects it if the user's password_changed_at postdates
// the token's iat, enforcing immediate invalidation on password reset.
func Auth(signingKey []byte, users PasswordChangeLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				respondError(w, http.StatusUnauthorized, "missing authorization token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return signingKey, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			userID := claims.Subject
			user, err := users.GetByID(r.Context(), userID)
			if err != nil || user == nil || user.Status != model.UserEnabled {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.IssuedAt != nil && claims.IssuedAt.Time.Before(user.PasswordChangedAt) {
				respondError(w, http.StatusUnauthorized, "token invalidated by password change")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, roleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	if tok := r.Header.Get("X-Token"); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code": status,
		"msg":  message,
	})
}
