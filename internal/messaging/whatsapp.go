package messaging

import (
	"context"
	"net/http"
	"strings"
)

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string // defaults to GraphBaseURL
}

// WhatsApp sends text through the WhatsApp Cloud API.
type WhatsApp struct {
	cfg  WhatsAppConfig
	http *http.Client
}

// NewWhatsApp returns a WhatsApp adapter. hc may be nil.
func NewWhatsApp(cfg WhatsAppConfig, hc *http.Client) *WhatsApp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GraphBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WhatsApp{cfg: cfg, http: defaultClient(hc)}
}

type whatsAppText struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendText posts text to the phone number recipient.
func (w *WhatsApp) SendText(ctx context.Context, recipient, text, _ string) error {
	msg := whatsAppText{MessagingProduct: "whatsapp", To: recipient, Type: "text"}
	msg.Text.Body = text
	url := w.cfg.BaseURL + "/" + w.cfg.PhoneNumberID + "/messages"
	return postJSON(ctx, w.http, PlatformWhatsApp, url, w.cfg.AccessToken, msg)
}
