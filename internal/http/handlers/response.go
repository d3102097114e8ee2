// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response writers shared by the handlers. Three envelopes
// exist and each has exactly one writer:
//
//   - ErrorResponse via fail(): every API error, with a stable code.
//   - STKPushResponse via rejectPayment(): a push the provider or the
//     service declined, answered as {success:false, error}.
//   - CallbackAck via ack(): the provider callback, always HTTP 200.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "transaction not found"
//	}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payments-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by the API.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"transaction not found"`
}

// requestID prefers the id stored by middleware.RequestID and falls back to
// the response header for engines mounted without it.
func requestID(c *gin.Context) string {
	if rid := middleware.RequestIDFrom(c); rid != "" {
		return rid
	}
	return c.Writer.Header().Get("X-Request-ID")
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger; 4xx are left to the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("path", c.FullPath()).
			Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail, used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// rejectPayment answers a declined push in the initiation envelope.
func rejectPayment(c *gin.Context, msg string) {
	if msg == "" {
		msg = "payment request failed"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, STKPushResponse{Success: false, Error: msg})
}

// ack writes the provider acknowledgement unless something (a recovered panic
// mid-write) already did.
func ack(c *gin.Context, code int, desc string) {
	if c.Writer.Written() {
		return
	}
	c.AbortWithStatusJSON(http.StatusOK, CallbackAck{ResultCode: code, ResultDesc: desc})
}

// notModified sets the ETag header and, when If-None-Match names it (or is
// "*"), answers 304 and reports true. Weak validators compare equal to their
// strong form.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	if inm == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, cand := range strings.Split(inm, ",") {
		cand = strings.TrimSpace(cand)
		if cand == "*" || strings.TrimPrefix(cand, "W/") == want {
			c.AbortWithStatus(http.StatusNotModified)
			return true
		}
	}
	return false
}
