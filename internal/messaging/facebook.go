package messaging

import (
	"context"
	"net/http"
	"strings"
)

// FacebookConfig holds Messenger Send API credentials.
type FacebookConfig struct {
	PageAccessToken string
	BaseURL         string // defaults to GraphBaseURL
}

// Facebook sends text through the Messenger Send API.
type Facebook struct {
	cfg  FacebookConfig
	http *http.Client
}

// NewFacebook returns a Messenger adapter. hc may be nil.
func NewFacebook(cfg FacebookConfig, hc *http.Client) *Facebook {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GraphBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Facebook{cfg: cfg, http: defaultClient(hc)}
}

type messengerText struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	MessagingType string `json:"messaging_type"`
}

// SendText posts text to the page-scoped user id recipient.
func (f *Facebook) SendText(ctx context.Context, recipient, text, _ string) error {
	var msg messengerText
	msg.Recipient.ID = recipient
	msg.Message.Text = text
	msg.MessagingType = "RESPONSE"
	return postJSON(ctx, f.http, PlatformFacebook, f.cfg.BaseURL+"/me/messages", f.cfg.PageAccessToken, msg)
}
