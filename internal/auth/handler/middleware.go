package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"org-auth-service/internal/audit"
	"org-auth-service/internal/auth/service"
	"org-auth-service/internal/security"
	userdomain "org-auth-service/internal/user/domain"
)

const (
	userContextKey   = "auth.user"
	claimsContextKey = "auth.claims"
)

// clientIP copies gin's resolved client IP into the request context so the
// audit recorder can pick it up without depending on gin.
func clientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth validates the bearer access token and loads its subject. The
// subject is re-checked against the user store on every request: a token for a
// deleted or disabled user is rejected even if cryptographically valid.
func RequireAuth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := auth.ValidateAccess(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		user, err := auth.UserByID(c.Request.Context(), claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.ErrInvalidSubject.Error()})
			return
		}
		c.Set(userContextKey, user)
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func currentUser(c *gin.Context) *userdomain.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	u, _ := v.(*userdomain.User)
	return u
}

func currentClaims(c *gin.Context) *security.Claims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*security.Claims)
	return claims
}
