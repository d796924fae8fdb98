package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

const userIDKey = "authUserID"

// RequireUser validates the Authorization bearer token and attaches the
// authenticated user id to the gin context.
func RequireUser(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "Authorization header required.")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			unauthorized(c, "Bearer token required.")
			return
		}

		claims, err := codec.VerifyAccess(strings.TrimSpace(parts[1]))
		if err != nil {
			unauthorized(c, "Could not validate credentials.")
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// CurrentUserID returns the user id set by RequireUser.
func CurrentUserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}

// SetCurrentUserID seeds the context for handler tests that skip RequireUser.
func SetCurrentUserID(c *gin.Context, userID int64) {
	c.Set(userIDKey, userID)
}

func unauthorized(c *gin.Context, description string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": description})
}
