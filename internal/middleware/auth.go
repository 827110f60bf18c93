// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, metrics and audit events.
//
// Middleware ordering is set up in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → Audit → RateLimit → Auth → RBAC → Handler
//
// Security headers run first so they appear on all responses including errors.
// The audit middleware wraps everything after it, so it sees the final status
// and the user that Auth resolved.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/auth"
	"github.com/routedesk/routedesk/internal/db/models"
)

// gin.Context keys set by the auth middleware
const (
	ContextUser       = "user"
	ContextUserID     = "user_id"
	ContextScopes     = "scopes"
	ContextAuthMethod = "auth_method"
)

// UserLookup is the part of the user repository the middleware needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// EffectiveScopes returns the scopes a token grants. A token minted with an
// explicit scope list is narrowed to those of its scopes the user still holds;
// otherwise the user's own scopes apply.
func EffectiveScopes(user *models.User, claims *auth.Claims) []string {
	granted := user.Scopes()
	if len(claims.Scopes) == 0 {
		return granted
	}
	out := make([]string, 0, len(claims.Scopes))
	for _, s := range claims.Scopes {
		if auth.HasScope(granted, auth.Scope(s)) {
			out = append(out, s)
		}
	}
	return out
}

// authenticate resolves the bearer token to a user. status is the HTTP status
// to abort with when user is nil.
func authenticate(c *gin.Context, users UserLookup) (user *models.User, claims *auth.Claims, status int, msg string) {
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		return nil, nil, http.StatusUnauthorized, err.Error()
	}

	claims, err = auth.ValidateJWT(token)
	if err != nil {
		return nil, nil, http.StatusUnauthorized, "Invalid credentials"
	}

	user, err = users.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil {
		slog.Error("failed to load user for token", "user_id", claims.UserID, "error", err)
		return nil, nil, http.StatusInternalServerError, "Failed to load user"
	}
	if user == nil {
		return nil, nil, http.StatusUnauthorized, "User not found"
	}
	return user, claims, http.StatusOK, ""
}

func setIdentity(c *gin.Context, user *models.User, claims *auth.Claims) {
	c.Set(ContextUser, user)
	c.Set(ContextUserID, user.ID)
	c.Set(ContextAuthMethod, "jwt")
	c.Set(ContextScopes, EffectiveScopes(user, claims))
}

// AuthMiddleware requires a valid JWT for an existing user.
func AuthMiddleware(users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, claims, status, msg := authenticate(c, users)
		if user == nil {
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		setIdentity(c, user, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware sets the identity when a valid token is present and
// otherwise continues anonymously.
func OptionalAuthMiddleware(users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		if user, claims, _, _ := authenticate(c, users); user != nil {
			setIdentity(c, user, claims)
		}
		c.Next()
	}
}

// CurrentUser returns the user set by the auth middleware, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
