// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the source-IP allow-list guarding the provider
// callback endpoint.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SourceIP is the address the allow-list checks: the connection's remote
// address, or the first X-Forwarded-For entry when the remote address is
// unavailable.
func SourceIP(c *gin.Context) string {
	if ip := c.RemoteIP(); ip != "" {
		return ip
	}
	xff := c.GetHeader("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// IPAllowList rejects requests whose SourceIP is not in allowed with 403 and
// the provider's acknowledgement shape. An empty list admits everyone; an
// empty source IP is rejected whenever the list is non-empty.
func IPAllowList(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if ip := net.ParseIP(a); ip != nil {
			a = ip.String()
		}
		set[a] = struct{}{}
	}

	return func(c *gin.Context) {
		if len(set) == 0 {
			c.Next()
			return
		}
		ip := SourceIP(c)
		if parsed := net.ParseIP(ip); parsed != nil {
			ip = parsed.String()
		}
		if _, ok := set[ip]; ip != "" && ok {
			c.Next()
			return
		}
		log.Warn().
			Str("source_ip", ip).
			Str("path", c.Request.URL.Path).
			Msg("callback rejected by ip allow-list")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"ResultCode": 1,
			"ResultDesc": "Not allowed",
		})
	}
}
