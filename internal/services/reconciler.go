// Package services – Reconciler
//
// Reconciler applies provider callbacks to transactions. For a given checkout
// request id it runs under a per-id lock and inside one database transaction,
// so a callback delivered twice (in sequence or concurrently) moves the
// transaction at most once. The ledger claim key backs this up at the
// database level when several processes share a database without a shared
// lock.
//
// Usage metering and notifications run only after the transition committed.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/mpesa"
	"github.com/tbourn/go-payments-backend/internal/phone"
	"github.com/tbourn/go-payments-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidJSON is returned by HandleCallback when the body is not JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Outcome classifies how a callback was handled.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeRejected         Outcome = "rejected"
)

// CallbackResult is what HandleCallback did with one delivery.
type CallbackResult struct {
	Outcome     Outcome
	Transaction *domain.Transaction
	Note        string
}

// ResultCode is the code returned to the provider: 0 when the callback was
// persisted and needs no retry.
func (r *CallbackResult) ResultCode() int {
	switch r.Outcome {
	case OutcomeAccepted, OutcomeAlreadyProcessed:
		return 0
	default:
		return 1
	}
}

// ResultDesc is the description returned to the provider.
func (r *CallbackResult) ResultDesc() string {
	switch r.Outcome {
	case OutcomeAccepted, OutcomeAlreadyProcessed:
		return "Success"
	case OutcomeInvalid:
		return ErrMalformedCallback.Error()
	case OutcomeNotFound:
		return ErrTransactionNotFound.Error()
	default:
		if r.Note != "" {
			return r.Note
		}
		return "Processing failed"
	}
}

const (
	noteMissingCheckoutID = "Missing CheckoutRequestID"
	noteMissingReceipt    = "success callback without MpesaReceiptNumber"
	noteExpired           = "Payment request expired"
)

// errClaimLost aborts the database transaction when another delivery
// claimed the same checkout id first.
var errClaimLost = errors.New("callback claim lost")

// Reconciler processes provider callbacks and expiry sweeps.
type Reconciler struct {
	DB      *gorm.DB
	Locker  Locker
	Effects *Effects
	Phone   phone.Normalizer
	Log     zerolog.Logger

	now func() time.Time
}

func (r *Reconciler) clock() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}

// LockKey is the lock name guarding one checkout request id.
func LockKey(checkoutID string) string { return "mpesa:checkout:" + checkoutID }

func (r *Reconciler) lock(ctx context.Context, checkoutID string) (func(), error) {
	if r.Locker == nil {
		return func() {}, nil
	}
	return r.Locker.Lock(ctx, LockKey(checkoutID))
}

// HandleCallback reconciles one raw callback body. headers are stored with
// the ledger entry. The error is non-nil only for invalid JSON
// (ErrInvalidJSON) and internal failures; business outcomes are reported in
// the result.
func (r *Reconciler) HandleCallback(ctx context.Context, raw []byte, headers map[string]string) (*CallbackResult, error) {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "HandleCallback")
	defer span.End()

	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		callbackOutcomes.WithLabelValues("invalid_json").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	span.SetAttributes(
		attribute.String("checkout_request_id", cb.CheckoutRequestID),
		attribute.Int("result_code", cb.ResultCode),
	)
	hdr := encodeHeaders(headers)

	if cb.CheckoutRequestID == "" {
		entry := &domain.PaymentWebhook{
			ID:           uuid.NewString(),
			Kind:         domain.KindPaymentConfirmation,
			Payload:      datatypes.JSON(raw),
			Headers:      hdr,
			Processed:    true,
			ErrorMessage: noteMissingCheckoutID,
		}
		if err := repo.CreateWebhook(ctx, r.DB, entry); err != nil {
			return nil, err
		}
		return r.done(&CallbackResult{Outcome: OutcomeInvalid, Note: noteMissingCheckoutID}), nil
	}

	unlock, err := r.lock(ctx, cb.CheckoutRequestID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lock %s: %w", cb.CheckoutRequestID, err)
	}
	defer unlock()

	var res CallbackResult
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := repo.HasProcessedConfirmation(ctx, tx, cb.CheckoutRequestID)
		if err != nil {
			return err
		}
		if done {
			res = CallbackResult{Outcome: OutcomeAlreadyProcessed}
			return nil
		}

		entry := &domain.PaymentWebhook{
			ID:      uuid.NewString(),
			Kind:    domain.KindPaymentConfirmation,
			Payload: datatypes.JSON(raw),
			Headers: hdr,
		}
		if err := repo.CreateWebhook(ctx, tx, entry); err != nil {
			return err
		}

		txn, err := repo.GetTransactionByCheckoutID(ctx, tx, cb.CheckoutRequestID, "")
		if repo.IsNotFound(err) {
			note := "Transaction not found for CheckoutRequestID: " + cb.CheckoutRequestID
			res = CallbackResult{Outcome: OutcomeNotFound, Note: note}
			return repo.MarkWebhookProcessed(ctx, tx, entry.ID, true, note)
		}
		if err != nil {
			return err
		}
		if err := repo.LinkWebhook(ctx, tx, entry.ID, txn.ID); err != nil {
			return err
		}

		if txn.Status.IsTerminal() {
			note := fmt.Sprintf("transaction already %s", txn.Status)
			res = CallbackResult{Outcome: OutcomeAlreadyProcessed, Transaction: txn, Note: note}
			return repo.MarkWebhookProcessed(ctx, tx, entry.ID, true, note)
		}

		to, fields := r.transition(cb, txn, raw)
		if to == "" {
			res = CallbackResult{Outcome: OutcomeRejected, Transaction: txn, Note: noteMissingReceipt}
			return repo.MarkWebhookProcessed(ctx, tx, entry.ID, false, noteMissingReceipt)
		}

		applied, err := repo.TransitionTransaction(ctx, tx, txn.ID, to, fields)
		if err != nil {
			return err
		}
		if !applied {
			note := ErrStaleTransition.Error()
			res = CallbackResult{Outcome: OutcomeAlreadyProcessed, Transaction: txn, Note: note}
			return repo.MarkWebhookProcessed(ctx, tx, entry.ID, true, note)
		}
		if err := repo.ClaimWebhook(ctx, tx, entry.ID, cb.CheckoutRequestID); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errClaimLost
			}
			return err
		}

		fresh, err := repo.GetTransaction(ctx, tx, txn.ID, txn.Owner)
		if err != nil {
			return err
		}
		res = CallbackResult{Outcome: OutcomeAccepted, Transaction: fresh}
		return nil
	})
	if errors.Is(err, errClaimLost) {
		res = CallbackResult{Outcome: OutcomeAlreadyProcessed, Note: errClaimLost.Error()}
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		callbackOutcomes.WithLabelValues("error").Inc()
		r.Log.Error().Err(err).
			Str("checkout_request_id", cb.CheckoutRequestID).
			Msg("callback processing failed")
		return nil, err
	}

	if res.Outcome == OutcomeAccepted {
		transitions.WithLabelValues("callback", string(res.Transaction.Status)).Inc()
		r.Effects.Fire(ctx, res.Transaction)
	}
	r.Log.Info().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Int("result_code", cb.ResultCode).
		Str("outcome", string(res.Outcome)).
		Msg("callback reconciled")
	return r.done(&res), nil
}

func (r *Reconciler) done(res *CallbackResult) *CallbackResult {
	callbackOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

// transition derives the target status and column updates from a callback.
// An empty status means the callback cannot be applied.
func (r *Reconciler) transition(cb *mpesa.Callback, txn *domain.Transaction, raw []byte) (domain.Status, map[string]any) {
	to := domain.StatusForResultCode(cb.ResultCode)
	if to != domain.StatusSuccess {
		return to, map[string]any{
			"error_message":     failureMessage(cb.ResultDesc),
			"confirmation_data": datatypes.JSON(raw),
		}
	}

	receipt := cb.Metadata(mpesa.ItemReceiptNumber)
	if receipt == "" {
		return "", nil
	}
	msisdn := txn.PhoneNumber
	if p := cb.Metadata(mpesa.ItemPhoneNumber); p != "" {
		msisdn = r.Phone.Normalize(p)
	}
	return to, map[string]any{
		"receipt_number":    receipt,
		"phone_number":      msisdn,
		"transaction_date":  r.clock(),
		"confirmation_data": datatypes.JSON(raw),
		"error_message":     "",
	}
}

// ExpireStale moves open transactions whose expiry passed before now to
// timeout and fires their side effects. It returns how many it moved.
func (r *Reconciler) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "ExpireStale",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	overdue, err := repo.ListOverdue(ctx, r.DB, now.UTC(), limit)
	if err != nil {
		return 0, err
	}

	moved := 0
	for i := range overdue {
		t := &overdue[i]
		ok, err := r.expireOne(ctx, t)
		if err != nil {
			r.Log.Error().Err(err).Str("transaction_id", t.ID).Msg("expire failed")
			continue
		}
		if ok {
			moved++
		}
	}
	span.SetAttributes(attribute.Int("expired", moved))
	return moved, nil
}

func (r *Reconciler) expireOne(ctx context.Context, t *domain.Transaction) (bool, error) {
	unlock, err := r.lock(ctx, t.CheckoutRequestID)
	if err != nil {
		return false, err
	}
	defer unlock()

	applied, err := repo.TransitionTransaction(ctx, r.DB, t.ID, domain.StatusTimeout,
		map[string]any{"error_message": noteExpired})
	if err != nil || !applied {
		return false, err
	}
	fresh, err := repo.GetTransaction(ctx, r.DB, t.ID, t.Owner)
	if err != nil {
		return true, err
	}
	transitions.WithLabelValues("expiry", string(domain.StatusTimeout)).Inc()
	r.Effects.Fire(ctx, fresh)
	return true, nil
}

func encodeHeaders(h map[string]string) datatypes.JSON {
	if len(h) == 0 {
		return datatypes.JSON("{}")
	}
	b, err := json.Marshal(h)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}
