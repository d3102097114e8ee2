package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderOwner carries the business (tenant) a request acts for.
const HeaderOwner = "X-Business-ID"

// DefaultOwner is used when no owner header is sent.
const DefaultOwner = "default"

const ctxKeyOwner = "owner"

// Owner stashes the caller's business id in the context. Authentication is
// out of scope; the header is trusted as sent.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := strings.TrimSpace(c.GetHeader(HeaderOwner)); v != "" {
			c.Set(ctxKeyOwner, v)
		}
		c.Next()
	}
}

// OwnerFrom returns the owner set by Owner, or DefaultOwner.
func OwnerFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyOwner); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultOwner
}
