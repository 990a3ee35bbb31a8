package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/service"
)

// Context keys for storing auth claims in the request context.
const (
	// ContextKeyOperatorID stores the authenticated operator's ID.
	ContextKeyOperatorID = "auth_operator_id"
	// ContextKeyUsername stores the authenticated operator's username.
	ContextKeyUsername = "auth_username"
	// ContextKeyRole stores the authenticated operator's role.
	ContextKeyRole = "auth_role"
)

// TokenValidator checks an access token. *service.AuthService satisfies it.
type TokenValidator interface {
	ValidateAccessToken(token string) (*service.AuthClaims, error)
}

// JWTAuth returns a Gin middleware that validates a Bearer token from the
// Authorization header.
//
// On success, operator claims are stored in the Gin context under ContextKey*
// keys. On failure, the request is aborted with a 401 response.
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format; expected 'Bearer <token>'"})
			return
		}

		claims, err := validator.ValidateAccessToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextKeyOperatorID, claims.OperatorID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

// RequireRole returns a Gin middleware that checks whether the authenticated
// operator has one of the allowed roles. Must be used after JWTAuth.
func RequireRole(allowed ...string) gin.HandlerFunc {
	roleSet := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		roleSet[r] = true
	}

	return func(c *gin.Context) {
		role, exists := c.Get(ContextKeyRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		roleStr, ok := role.(string)
		if !ok || !roleSet[roleStr] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		c.Next()
	}
}
