package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EndpointSTKPush  = "/mpesa/stkpush/v1/processrequest"
	EndpointSTKQuery = "/mpesa/stkpushquery/v1/query"

	maxResponseBytes = 1 << 20
)

// Tokens supplies bearer tokens; *TokenSource implements it.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client issues signed STK requests. It is safe for concurrent use.
type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	tokens Tokens
	log    zerolog.Logger
	now    func() time.Time
}

// New constructs a Client. hc may be nil.
func New(cfg Config, tokens Tokens, hc *http.Client, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		cfg:    cfg,
		base:   cfg.baseURL(),
		http:   hc,
		tokens: tokens,
		log:    log.With().Str("component", "mpesa").Logger(),
		now:    time.Now,
	}
}

// Code is a provider result or response code. Daraja sends these both as
// JSON strings and as numbers depending on the endpoint.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = ""
		return nil
	}
	*c = Code(strings.Trim(s, `"`))
	return nil
}

// Int returns the numeric value of the code.
func (c Code) Int() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(c)))
	return n, err == nil
}

// PushRequest is the caller-facing input of STKPush. Phone must already be
// normalized.
type PushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
}

// PushResponse is the synchronous acknowledgement of an STK push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        Code   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryResponse is the body returned by the STK status query.
type QueryResponse struct {
	ResponseCode        Code   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          Code   `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ReceiptNumber       string `json:"MpesaReceiptNumber,omitempty"`
}

// Exchange is the audit view of one outbound call: the exact JSON sent, the
// non-secret request headers and the raw response. It is returned even when
// the call fails so the caller can always write a ledger entry.
type Exchange struct {
	Endpoint string
	Request  json.RawMessage
	Headers  map[string]string
	Status   int
	Response []byte
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// errorEnvelope is the body Daraja returns with 4xx/5xx responses.
type errorEnvelope struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPush asks the provider to prompt r.Phone for payment. A nil error means
// the provider accepted the request for processing, not that money moved.
func (c *Client) STKPush(ctx context.Context, r PushRequest) (*PushResponse, *Exchange, error) {
	ts := Timestamp(c.now())
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.transactionType(),
		Amount:            r.Amount,
		PartyA:            r.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       r.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  r.AccountReference,
		TransactionDesc:   r.Description,
	}

	var out PushResponse
	ex, err := c.post(ctx, EndpointSTKPush, payload, &out)
	if err != nil {
		return nil, ex, err
	}
	if code, ok := out.ResponseCode.Int(); !ok || code != 0 || out.CheckoutRequestID == "" {
		return nil, ex, &ProviderRejection{
			Endpoint: EndpointSTKPush,
			Status:   ex.Status,
			Code:     string(out.ResponseCode),
			Message:  out.ResponseDescription,
		}
	}
	return &out, ex, nil
}

// STKQuery fetches the provider's view of checkoutID.
func (c *Client) STKQuery(ctx context.Context, checkoutID string) (*QueryResponse, *Exchange, error) {
	ts := Timestamp(c.now())
	payload := stkQueryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutID,
	}
	var out QueryResponse
	ex, err := c.post(ctx, EndpointSTKQuery, payload, &out)
	if err != nil {
		return nil, ex, err
	}
	return &out, ex, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, dest any) (*Exchange, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Exchange{Endpoint: endpoint}, fmt.Errorf("marshal %s: %w", endpoint, err)
	}
	ex := &Exchange{
		Endpoint: endpoint,
		Request:  body,
		Headers:  map[string]string{"Content-Type": "application/json"},
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return ex, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(body))
	if err != nil {
		return ex, &TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	providerLat.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		providerReqs.WithLabelValues(endpoint, "error").Inc()
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("provider request failed")
		return ex, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	ex.Status = res.StatusCode
	ex.Response = raw
	providerReqs.WithLabelValues(endpoint, strconv.Itoa(res.StatusCode)).Inc()
	if err != nil {
		return ex, &TransportError{Endpoint: endpoint, Status: res.StatusCode, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return ex, c.classify(endpoint, res.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return ex, &TransportError{Endpoint: endpoint, Status: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return ex, nil
}

func (c *Client) classify(endpoint string, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return &AuthError{Status: status, Body: snippet}
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.ErrorCode != "" {
		c.log.Warn().
			Str("endpoint", endpoint).
			Int("status", status).
			Str("error_code", env.ErrorCode).
			Str("error_message", env.ErrorMessage).
			Msg("provider rejected request")
		return &ProviderRejection{Endpoint: endpoint, Status: status, Code: env.ErrorCode, Message: env.ErrorMessage}
	}
	c.log.Error().Str("endpoint", endpoint).Int("status", status).Msg("unexpected provider response")
	return &TransportError{Endpoint: endpoint, Status: status, Body: snippet}
}
