// Package services – PaymentService
//
// PaymentService owns the caller-facing side of push payments: it initiates
// STK pushes, answers status queries and serves transaction reads. Every
// provider interaction is written to the webhook ledger, successful or not.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry the owner and transaction identifiers where known.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/mpesa"
	"github.com/tbourn/go-payments-backend/internal/phone"
	"github.com/tbourn/go-payments-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/language"
)

const (
	// IdempotencyScopeSTKPush namespaces client idempotency keys for push
	// initiation.
	IdempotencyScopeSTKPush = "stk_push"

	defaultExpiry         = 10 * time.Minute
	defaultIdempotencyTTL = 24 * time.Hour
	defaultDescription    = "Payment"
)

// Gateway is the provider surface PaymentService needs; *mpesa.Client
// implements it.
type Gateway interface {
	STKPush(ctx context.Context, r mpesa.PushRequest) (*mpesa.PushResponse, *mpesa.Exchange, error)
	STKQuery(ctx context.Context, checkoutID string) (*mpesa.QueryResponse, *mpesa.Exchange, error)
}

// MessageSender delivers a text to a recipient on a messaging platform.
type MessageSender interface {
	SendText(ctx context.Context, recipient, text, owner string) error
}

// PromptTarget names who receives the payment prompt and through what.
type PromptTarget struct {
	Sender    MessageSender
	Recipient string
}

// InitiateInput is the request to push a payment prompt to Phone.
type InitiateInput struct {
	Owner          string
	Phone          string
	Amount         decimal.Decimal
	Reference      string
	Description    string
	ConversationID string
	ProductID      string
	IdempotencyKey string
	Notify         *PromptTarget
}

// InitiateResult is the tagged outcome of Initiate. When Success is false,
// Error carries the provider's or transport's message and no transaction
// exists.
type InitiateResult struct {
	Success           bool
	Replayed          bool
	Transaction       *domain.Transaction
	CheckoutRequestID string
	CustomerMessage   string
	Error             string
}

// QueryInput selects a transaction by checkout request id or transaction id.
type QueryInput struct {
	Owner             string
	CheckoutRequestID string
	TransactionID     string
}

// QueryResult is the latest persisted state plus what the provider said.
// ProviderError is set when the live query failed; Transaction is still the
// stored row.
type QueryResult struct {
	Transaction      *domain.Transaction
	ProviderResponse *mpesa.QueryResponse
	ProviderError    string
}

// PaymentService coordinates push initiation and status queries.
type PaymentService struct {
	DB      *gorm.DB
	Gateway Gateway
	Phone   phone.Normalizer
	Effects *Effects
	Log     zerolog.Logger

	// Expiry is the pending window of a new transaction (default 10m).
	Expiry time.Duration
	// IdempotencyTTL bounds how long a client key replays (default 24h).
	IdempotencyTTL time.Duration
	// PromptLocale formats amounts in payment prompts (default English).
	PromptLocale language.Tag

	now func() time.Time
}

func (s *PaymentService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// Initiate pushes a payment prompt to the customer's phone. Provider and
// transport failures come back as InitiateResult{Success:false}; only
// validation and persistence failures are returned as errors.
func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Initiate",
		trace.WithAttributes(
			attribute.String("owner", in.Owner),
			attribute.String("amount", in.Amount.String()),
		),
	)
	defer span.End()

	if !in.Amount.IsPositive() || in.Amount.IntPart() < 1 {
		return nil, ErrInvalidAmount
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if res, err := s.replay(ctx, in.Owner, key); err != nil || res != nil {
			return res, err
		}
	}

	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = "PAY-" + in.Owner
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = defaultDescription
	}
	msisdn := s.Phone.Normalize(in.Phone)

	resp, ex, callErr := s.Gateway.STKPush(ctx, mpesa.PushRequest{
		Phone:            msisdn,
		Amount:           in.Amount.IntPart(),
		AccountReference: reference,
		Description:      description,
	})
	entry := exchangeEntry(domain.KindPushInitiation, ex, callErr)

	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "stk push failed")
		if err := repo.CreateWebhook(ctx, s.DB, entry); err != nil {
			return nil, err
		}
		initiations.WithLabelValues("failed").Inc()
		s.Log.Warn().Err(callErr).
			Str("owner", in.Owner).
			Str("phone", msisdn).
			Msg("stk push failed")
		return &InitiateResult{Success: false, Error: mpesa.Describe(callErr)}, nil
	}

	now := s.clock()
	expiry := s.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	expiresAt := now.Add(expiry)
	txn := &domain.Transaction{
		ID:                uuid.NewString(),
		Owner:             in.Owner,
		Amount:            in.Amount.Round(2),
		Currency:          domain.DefaultCurrency,
		Reference:         reference,
		Description:       description,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		PhoneNumber:       msisdn,
		Status:            domain.StatusPending,
		ExpiresAt:         &expiresAt,
		ConversationID:    optional(in.ConversationID),
		ProductID:         optional(in.ProductID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	entry.TransactionID = &txn.ID

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateTransaction(ctx, tx, txn); err != nil {
			return err
		}
		if err := repo.CreateWebhook(ctx, tx, entry); err != nil {
			return err
		}
		if in.ConversationID != "" {
			if _, err := repo.CreatePaymentRequest(ctx, tx, in.Owner, in.ConversationID, txn.ID, description); err != nil {
				return err
			}
		}
		if key != "" {
			ttl := s.IdempotencyTTL
			if ttl <= 0 {
				ttl = defaultIdempotencyTTL
			}
			if _, err := repo.CreateIdempotency(ctx, tx, in.Owner, IdempotencyScopeSTKPush, key, txn.ID, 200, ttl); err != nil {
				if !errors.Is(err, repo.ErrDuplicate) {
					return err
				}
				s.Log.Warn().Str("owner", in.Owner).Str("idempotency_key", key).
					Msg("idempotency key claimed concurrently")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	initiations.WithLabelValues("accepted").Inc()
	span.SetAttributes(attribute.String("transaction.id", txn.ID))
	s.Log.Info().
		Str("transaction_id", txn.ID).
		Str("checkout_request_id", txn.CheckoutRequestID).
		Str("owner", in.Owner).
		Msg("stk push accepted")

	if in.Notify != nil && in.Notify.Sender != nil {
		text := PaymentPrompt(s.PromptLocale, txn.Amount, description)
		if err := in.Notify.Sender.SendText(ctx, in.Notify.Recipient, text, in.Owner); err != nil {
			s.Log.Warn().Err(err).
				Str("transaction_id", txn.ID).
				Msg("payment prompt delivery failed")
		}
	}

	return &InitiateResult{
		Success:           true,
		Transaction:       txn,
		CheckoutRequestID: txn.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// replay returns the stored result for a live idempotency key, or nil.
func (s *PaymentService) replay(ctx context.Context, owner, key string) (*InitiateResult, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, owner, IdempotencyScopeSTKPush, key, s.clock())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	txn, err := repo.GetTransaction(ctx, s.DB, rec.TransactionID, owner)
	if repo.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &InitiateResult{
		Success:           true,
		Replayed:          true,
		Transaction:       txn,
		CheckoutRequestID: txn.CheckoutRequestID,
	}, nil
}

// QueryStatus asks the provider for the state of a transaction and applies
// the answer when the transaction is still open. A failed provider call is
// reported in QueryResult.ProviderError alongside the stored row.
func (s *PaymentService) QueryStatus(ctx context.Context, in QueryInput) (*QueryResult, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "QueryStatus",
		trace.WithAttributes(
			attribute.String("owner", in.Owner),
			attribute.String("checkout_request_id", in.CheckoutRequestID),
			attribute.String("transaction.id", in.TransactionID),
		),
	)
	defer span.End()

	txn, err := s.lookup(ctx, in)
	if err != nil {
		return nil, err
	}

	resp, ex, callErr := s.Gateway.STKQuery(ctx, txn.CheckoutRequestID)
	entry := exchangeEntry(domain.KindStatusQuery, ex, callErr)
	entry.TransactionID = &txn.ID
	if err := repo.CreateWebhook(ctx, s.DB, entry); err != nil {
		return nil, err
	}

	out := &QueryResult{Transaction: txn, ProviderResponse: resp}
	switch {
	case callErr == nil:
		updated, err := s.applyQuery(ctx, txn, resp, queryPayload(resp, ex))
		if err != nil {
			return nil, err
		}
		out.Transaction = updated
	case mpesa.IsStillProcessing(callErr):
		updated, err := s.moveTo(ctx, txn, domain.StatusProcessing, nil)
		if err != nil {
			return nil, err
		}
		out.Transaction = updated
	default:
		span.RecordError(callErr)
		out.ProviderError = mpesa.Describe(callErr)
		s.Log.Warn().Err(callErr).
			Str("transaction_id", txn.ID).
			Msg("stk query failed; returning stored state")
	}
	return out, nil
}

// CurrentStatus returns the stored transaction, refreshing it from the
// provider first when it is still open.
func (s *PaymentService) CurrentStatus(ctx context.Context, owner, id string) (*QueryResult, error) {
	txn, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return &QueryResult{Transaction: txn}, nil
	}
	return s.QueryStatus(ctx, QueryInput{Owner: owner, TransactionID: id})
}

func (s *PaymentService) lookup(ctx context.Context, in QueryInput) (*domain.Transaction, error) {
	var (
		txn *domain.Transaction
		err error
	)
	switch {
	case strings.TrimSpace(in.CheckoutRequestID) != "":
		txn, err = repo.GetTransactionByCheckoutID(ctx, s.DB, strings.TrimSpace(in.CheckoutRequestID), in.Owner)
	case strings.TrimSpace(in.TransactionID) != "":
		txn, err = repo.GetTransaction(ctx, s.DB, strings.TrimSpace(in.TransactionID), in.Owner)
	default:
		return nil, ErrMissingLookup
	}
	if repo.IsNotFound(err) {
		return nil, ErrTransactionNotFound
	}
	return txn, err
}

// queryPayload is the raw provider answer kept as confirmation data: the
// response body as received, or the decoded response when no valid body was
// captured.
func queryPayload(resp *mpesa.QueryResponse, ex *mpesa.Exchange) datatypes.JSON {
	if ex != nil && len(ex.Response) > 0 && json.Valid(ex.Response) {
		return datatypes.JSON(ex.Response)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

// applyQuery maps a query response onto an open transaction. Terminal
// outcomes store raw as confirmation data, like a callback does.
func (s *PaymentService) applyQuery(ctx context.Context, txn *domain.Transaction, resp *mpesa.QueryResponse, raw datatypes.JSON) (*domain.Transaction, error) {
	if txn.Status.IsTerminal() || resp == nil {
		return txn, nil
	}
	code, ok := resp.ResultCode.Int()
	if !ok {
		return txn, nil
	}
	to := domain.StatusForResultCode(code)
	var fields map[string]any
	switch {
	case to == domain.StatusSuccess && resp.ReceiptNumber == "":
		// The receipt only arrives with the callback.
		return s.moveTo(ctx, txn, domain.StatusProcessing, nil)
	case to == domain.StatusSuccess:
		fields = map[string]any{
			"receipt_number":    resp.ReceiptNumber,
			"transaction_date":  s.clock(),
			"confirmation_data": raw,
		}
	default:
		fields = map[string]any{
			"error_message":     failureMessage(resp.ResultDesc),
			"confirmation_data": raw,
		}
	}
	return s.moveTo(ctx, txn, to, fields)
}

// moveTo applies a conditional transition and returns the fresh row. Side
// effects fire only when this call made the row terminal.
func (s *PaymentService) moveTo(ctx context.Context, txn *domain.Transaction, to domain.Status, fields map[string]any) (*domain.Transaction, error) {
	if !domain.CanTransition(txn.Status, to) {
		return txn, nil
	}
	applied, err := repo.TransitionTransaction(ctx, s.DB, txn.ID, to, fields)
	if err != nil {
		return nil, err
	}
	fresh, err := repo.GetTransaction(ctx, s.DB, txn.ID, txn.Owner)
	if err != nil {
		return nil, err
	}
	if applied && to.IsTerminal() {
		transitions.WithLabelValues("query", string(to)).Inc()
		s.Effects.Fire(ctx, fresh)
	}
	return fresh, nil
}

// Get returns one transaction owned by owner.
func (s *PaymentService) Get(ctx context.Context, owner, id string) (*domain.Transaction, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("owner", owner),
			attribute.String("transaction.id", id),
		),
	)
	defer span.End()

	txn, err := repo.GetTransaction(ctx, s.DB, id, owner)
	if repo.IsNotFound(err) {
		return nil, ErrTransactionNotFound
	}
	return txn, err
}

// ListPage returns a page of transactions matching f, newest first, and the
// total match count.
func (s *PaymentService) ListPage(ctx context.Context, f repo.TransactionFilter, page, pageSize int) ([]domain.Transaction, int64, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("owner", f.Owner),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountTransactions(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Transaction{}, 0, nil
	}
	items, err := repo.ListTransactionsPage(ctx, s.DB, f, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns the count and latest update time of rows matching f.
func (s *PaymentService) Stats(ctx context.Context, f repo.TransactionFilter) (int64, *time.Time, error) {
	return repo.TransactionsStats(ctx, s.DB, f)
}

// exchangeEntry turns an outbound call into a ledger entry. The entry is
// processed when the call succeeded.
func exchangeEntry(kind domain.WebhookKind, ex *mpesa.Exchange, callErr error) *domain.PaymentWebhook {
	w := &domain.PaymentWebhook{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: datatypes.JSON("{}"),
		Headers: datatypes.JSON("{}"),
	}
	if ex != nil {
		if len(ex.Request) > 0 {
			w.Payload = datatypes.JSON(ex.Request)
		}
		if len(ex.Headers) > 0 {
			if h, err := json.Marshal(ex.Headers); err == nil {
				w.Headers = datatypes.JSON(h)
			}
		}
		w.ResponseStatus = ex.Status
		w.ResponseBody = string(ex.Response)
	}
	if callErr != nil {
		w.ErrorMessage = mpesa.Describe(callErr)
	} else {
		w.Processed = true
	}
	return w
}

func failureMessage(desc string) string {
	if strings.TrimSpace(desc) == "" {
		return "Payment failed"
	}
	return desc
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ListPaymentRequests returns a page of the owner's payment requests, newest
// first, each with its transaction, and the owner's total.
func (s *PaymentService) ListPaymentRequests(ctx context.Context, owner string, page, pageSize int) ([]domain.PaymentRequest, int64, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "ListPaymentRequests",
		trace.WithAttributes(
			attribute.String("owner", owner),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountPaymentRequests(ctx, s.DB, owner)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PaymentRequest{}, 0, nil
	}
	items, err := repo.ListPaymentRequestsPage(ctx, s.DB, owner, (page-1)*pageSize, pageSize)
	return items, total, err
}

// GetPaymentRequest returns one payment request owned by owner.
func (s *PaymentService) GetPaymentRequest(ctx context.Context, owner, id string) (*domain.PaymentRequest, error) {
	pr, err := repo.GetPaymentRequest(ctx, s.DB, id, owner)
	if repo.IsNotFound(err) {
		return nil, ErrPaymentRequestNotFound
	}
	return pr, err
}
