// Package mpesa is a client for the Safaricom Daraja API: OAuth access
// tokens, Lipa na M-Pesa Online (STK push) initiation, STK status queries and
// parsing of asynchronous payment callbacks.
package mpesa

import (
	"encoding/base64"
	"strings"
	"time"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	// TransactionTypePayBill is the STK transaction type for paybill shortcodes.
	TransactionTypePayBill = "CustomerPayBillOnline"

	defaultTimeout = 30 * time.Second
	timestampFmt   = "20060102150405"
)

// eat is East Africa Time; Kenya observes no DST.
var eat = time.FixedZone("EAT", 3*60*60)

// Config carries Daraja credentials and endpoints.
type Config struct {
	Environment       string // sandbox|production
	BaseURL           string // overrides Environment when set
	ConsumerKey       string
	ConsumerSecret    string
	ShortCode         string
	PassKey           string
	CallbackURL       string
	TransactionType   string
	Timeout           time.Duration
	TokenSafetyMargin time.Duration
}

func (c Config) baseURL() string {
	if b := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); b != "" {
		return b
	}
	if strings.EqualFold(c.Environment, "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

func (c Config) transactionType() string {
	if c.TransactionType != "" {
		return c.TransactionType
	}
	return TransactionTypePayBill
}

// Timestamp formats t as the provider expects (YYYYMMDDHHMMSS, EAT).
func Timestamp(t time.Time) string { return t.In(eat).Format(timestampFmt) }

// Password is base64(shortcode + passkey + timestamp). It depends on the
// timestamp and must be recomputed for every request.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}
