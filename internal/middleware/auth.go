package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/auth"
)

// Context keys for claims stored in gin.Context. Constants so a typo fails
// at the compiler instead of silently returning nil.
const (
	ContextKeyUserID      = "user_id"
	ContextKeyDisplayName = "display_name"
)

// AuthMiddleware validates the identity token on every protected route.
//
// The websocket feed endpoint is the one place a browser client cannot set
// an Authorization header, so the token is also accepted as a query
// parameter there — the middleware checks the header first, then
// ?token=.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""

		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid authorization format, expected: Bearer <token>",
				})
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing identity token",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyDisplayName, claims.DisplayName)

		c.Next()
	}
}

// GetUserID extracts the caller's opaque user id from the request context.
// Returns uuid.Nil when absent — a zero value no session row will match.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetDisplayName(c *gin.Context) string {
	val, exists := c.Get(ContextKeyDisplayName)
	if !exists {
		return ""
	}
	name, ok := val.(string)
	if !ok {
		return ""
	}
	return name
}
