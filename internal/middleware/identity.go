package middleware

import (
	"errors"
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/artmorph/photo-transformer/internal/api/respond"
)

// UserIDHeader carries the authenticated user id, injected by the API
// gateway after session validation. Session/token mechanics live outside
// this service.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// Identity extracts the caller identity and rejects requests without one.
func Identity() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			respond.Fail(c, http.StatusUnauthorized, errors.New("missing user identity"))
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the caller identity set by Identity.
func UserID(c *ginext.Context) string {
	return c.GetString(userIDKey)
}
