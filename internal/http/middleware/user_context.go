package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserIDHeader is the opaque user identifier the boundary trusts as already
// authenticated upstream (spec.md §1 treats authentication as out of scope).
const UserIDHeader = "X-User-Id"

// RequireUserID rejects any request missing a well-formed X-User-Id header
// and stashes the parsed id in gin's context under "user_id".
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "MISSING_USER_ID",
				"message": "missing or invalid " + UserIDHeader + " header",
			})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// UserIDFromContext reads the id RequireUserID stashed.
func UserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
