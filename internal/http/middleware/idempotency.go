// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on payment initiation and
// flags retries of a key that already produced a transaction. A flagged retry
// skips the rate limiter; the payment service still resolves the key itself
// and returns the original transaction, so a stale or failed lookup here can
// only cost a token, never a second STK prompt.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HeaderIdempotencyKey carries the client's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool
	ctxKeyRateBypass = "rate.bypass" // bool
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

var idempotencyReplays = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "idempotency_replays_total",
		Help:      "Requests whose Idempotency-Key matched a live record, by scope.",
	},
	[]string{"scope"},
)

func init() { prometheus.MustRegister(idempotencyReplays) }

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a live record exists for the request's
// (owner, scope, key).
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope namespaces keys per operation, e.g. "stk_push".
	Scope string
	// Routes limits the replay lookup to these route patterns (c.FullPath()).
	// Empty means every POST in the group.
	Routes []string
}

// IdempotencyLookup answers whether an unexpired record exists for
// (owner, scope, key) at now. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, owner, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates Idempotency-Key when present and stashes it
// for GetIdempotencyKey. A malformed key is rejected with 400. On POSTs to the
// configured routes a lookup hit marks the request as a replay and lets it
// bypass the rate limiter. Requests without the header pass through untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	routes := make(map[string]struct{}, len(opts.Routes))
	for _, r := range opts.Routes {
		routes[r] = struct{}{}
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "invalid_idempotency_key",
				"message":    "Idempotency-Key must be 1-" + strconv.Itoa(maxLen) + " characters of [A-Za-z0-9._~-:]",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil && c.Request.Method == http.MethodPost && routeMatches(routes, c.FullPath()) {
			exists, err := lookup(c.Request.Context(), OwnerFrom(c), opts.Scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("scope", opts.Scope).Msg("idempotency lookup failed")
			}
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
				idempotencyReplays.WithLabelValues(opts.Scope).Inc()
			}
		}

		c.Next()
	}
}

func routeMatches(routes map[string]struct{}, fullPath string) bool {
	if len(routes) == 0 {
		return true
	}
	_, ok := routes[fullPath]
	return ok
}
