// Package messaging sends plain-text messages to customers over the chat
// platform a conversation came from. Each platform has its own adapter; the
// Router resolves the adapter once from the conversation's platform tag.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GraphBaseURL is the Meta Graph API root used by both adapters.
const GraphBaseURL = "https://graph.facebook.com/v18.0"

// Platform tags where a conversation originated.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformFacebook Platform = "facebook"
)

// ErrUnsupportedPlatform is returned for platforms without an adapter.
var ErrUnsupportedPlatform = errors.New("unsupported messaging platform")

// ParsePlatform maps a free-form tag onto a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWhatsApp, PlatformFacebook:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

// Sender delivers text to a recipient on one platform. owner identifies the
// business on whose behalf the message is sent.
type Sender interface {
	SendText(ctx context.Context, recipient, text, owner string) error
}

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	Platform Platform
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s send failed: status=%d body=%s", e.Platform, e.Status, e.Body)
}

var sent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "messaging_sends_total",
		Help: "Outbound text messages by platform and result.",
	},
	[]string{"platform", "result"},
)

func init() { prometheus.MustRegister(sent) }

func defaultClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// postJSON sends body with a bearer token and classifies the response.
func postJSON(ctx context.Context, hc *http.Client, platform Platform, url, token string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		sent.WithLabelValues(string(platform), "error").Inc()
		return fmt.Errorf("%s send: %w", platform, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		sent.WithLabelValues(string(platform), "rejected").Inc()
		return &APIError{Platform: platform, Status: resp.StatusCode, Body: string(raw)}
	}
	sent.WithLabelValues(string(platform), "ok").Inc()
	return nil
}
