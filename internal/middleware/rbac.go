// rbac.go implements scope-based authorization. Scopes are resolved per
// request by the auth middleware from the user record, so revoking admin
// takes effect on the next request without reissuing tokens.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/auth"
)

// requestScopes reads the scopes set by AuthMiddleware, aborting with 403
// when they are missing or malformed.
func requestScopes(c *gin.Context) ([]string, bool) {
	v, exists := c.Get(ContextScopes)
	if !exists {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
		return nil, false
	}
	scopes, ok := v.([]string)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Invalid scopes format",
		})
		return nil, false
	}
	return scopes, true
}

// RequireScope checks if authenticated user has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := requestScopes(c)
		if !ok {
			return
		}
		if !auth.HasScope(userScopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required scope",
				"details": "Required scope: " + string(scope),
			})
			return
		}
		c.Next()
	}
}

// RequireAnyScope checks if authenticated user has at least one of the required scopes
func RequireAnyScope(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := requestScopes(c)
		if !ok {
			return
		}
		if !auth.HasAnyScope(userScopes, scopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Missing required scope",
			})
			return
		}
		c.Next()
	}
}

// RequireAllScopes checks if authenticated user has all of the required scopes
func RequireAllScopes(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := requestScopes(c)
		if !ok {
			return
		}
		if !auth.HasAllScopes(userScopes, scopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Missing one or more required scopes",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin is RequireScope(auth.ScopeAdmin)
func RequireAdmin() gin.HandlerFunc {
	return RequireScope(auth.ScopeAdmin)
}
