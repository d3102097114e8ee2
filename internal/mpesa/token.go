package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyMargin is subtracted from the provider expiry before a
	// cached token is considered stale.
	DefaultSafetyMargin = 5 * time.Minute
	defaultTokenTTL     = 3600 * time.Second
	tokenPath           = "/oauth/v1/generate?grant_type=client_credentials"
)

type credential struct {
	token  string
	expiry time.Time
}

// TokenSource caches the OAuth access token for the process lifetime.
// Valid-token reads are a single atomic load. Refreshes are coalesced so that
// concurrent callers share one in-flight request and its result; a failed
// refresh is not cached.
type TokenSource struct {
	baseURL string
	key     string
	secret  string
	margin  time.Duration
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
	now     func() time.Time

	cur   atomic.Pointer[credential]
	group singleflight.Group
}

// NewTokenSource builds a TokenSource for cfg. hc may be nil.
func NewTokenSource(cfg Config, hc *http.Client, log zerolog.Logger) *TokenSource {
	margin := cfg.TokenSafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &TokenSource{
		baseURL: cfg.baseURL(),
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		margin:  margin,
		timeout: timeout,
		http:    hc,
		log:     log.With().Str("component", "mpesa_token").Logger(),
		now:     time.Now,
	}
}

// Token returns a valid access token, refreshing it when missing or within
// the safety margin of its expiry. Failures are *AuthError.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	ch := s.group.DoChan("token", func() (any, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		// Detached from the first caller so one cancelled waiter does not
		// fail the refresh for everybody else.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", &AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token; the next Token call refreshes.
func (s *TokenSource) Invalidate() { s.cur.Store(nil) }

func (s *TokenSource) cached() (string, bool) {
	c := s.cur.Load()
	if c == nil || c.token == "" {
		return "", false
	}
	if !s.now().Before(c.expiry.Add(-s.margin)) {
		return "", false
	}
	return c.token, true
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (s *TokenSource) refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+tokenPath, nil)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.SetBasicAuth(s.key, s.secret)
	req.Header.Set("Accept", "application/json")

	res, err := s.http.Do(req)
	if err != nil {
		tokenRefreshes.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("token refresh failed")
		return "", &AuthError{Err: err}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		tokenRefreshes.WithLabelValues("error").Inc()
		s.log.Error().Int("status", res.StatusCode).Msg("token refresh rejected")
		return "", &AuthError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		tokenRefreshes.WithLabelValues("error").Inc()
		return "", &AuthError{Status: res.StatusCode, Err: fmt.Errorf("decode token: %w", err)}
	}
	if tr.AccessToken == "" {
		tokenRefreshes.WithLabelValues("error").Inc()
		return "", &AuthError{Status: res.StatusCode, Body: "empty access_token"}
	}

	ttl := parseExpiresIn(tr.ExpiresIn)
	s.cur.Store(&credential{token: tr.AccessToken, expiry: s.now().Add(ttl)})
	tokenRefreshes.WithLabelValues("ok").Inc()
	s.log.Debug().Dur("ttl", ttl).Msg("token refreshed")
	return tr.AccessToken, nil
}

// parseExpiresIn accepts both "3599" and 3599.
func parseExpiresIn(raw json.RawMessage) time.Duration {
	v := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if v == "" {
		return defaultTokenTTL
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultTokenTTL
	}
	return time.Duration(n) * time.Second
}
