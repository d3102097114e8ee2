// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides correlation IDs, a request-scoped logger and a
// panic-safe recovery handler:
//
//   - RequestID() gives every request a correlation ID (X-Request-ID), reusing
//     a well-formed inbound value and replacing anything else.
//   - LoggerFrom() returns a zerolog.Logger carrying request_id and owner, for
//     handlers that log outside the access line (e.g. callback failures).
//   - Recovery() converts panics into JSON 500 responses with the request ID.
//
// Order: RequestID → Owner → RedactingLogger → Recovery, so panics and access
// lines both carry the correlation ID and the business id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// ctxKeyLogger holds the request-scoped *zerolog.Logger.
	ctxKeyLogger = "logger"

	maxRequestIDLen = 128
)

// Inbound IDs end up in logs and the payment ledger headers; anything outside
// this alphabet is replaced.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestID attaches (or propagates) a correlation identifier per request.
// A missing, oversized or malformed X-Request-ID is replaced by a UUIDv4.
// The ID is echoed in the response header and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLen || !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500 error
// in the API error envelope. Handlers that must answer differently (the
// provider callback) recover on their own first.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := RequestIDFrom(c)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, building and caching it on
// first use. It always carries request_id and owner, so callers never need
// nil checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().
		Str("request_id", RequestIDFrom(c)).
		Str("owner", OwnerFrom(c)).
		Logger()
	c.Set(ctxKeyLogger, &l)
	return &l
}

// asString converts a context value to a string, returning "" for other types.
func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
