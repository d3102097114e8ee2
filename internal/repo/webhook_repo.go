// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the payment
// webhook ledger.
//
// The ledger is append-only: the only updates allowed are linking an entry
// to its transaction, flipping processed, attaching an error note and
// claiming the entry for a checkout id.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

// CreateWebhook appends w to the ledger.
func CreateWebhook(ctx context.Context, db *gorm.DB, w *domain.PaymentWebhook) error {
	return db.WithContext(ctx).Create(w).Error
}

// HasProcessedConfirmation reports whether a payment_confirmation entry
// linked to the transaction with checkoutID has already been processed.
func HasProcessedConfirmation(ctx context.Context, db *gorm.DB, checkoutID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Table("payment_webhooks AS w").
		Joins("JOIN transactions AS t ON t.id = w.transaction_id").
		Where("w.kind = ? AND w.processed = ? AND t.checkout_request_id = ?",
			domain.KindPaymentConfirmation, true, checkoutID).
		Count(&n).Error
	return n > 0, err
}

// LinkWebhook attaches ledger entry id to transaction txnID.
func LinkWebhook(ctx context.Context, db *gorm.DB, id, txnID string) error {
	return db.WithContext(ctx).
		Model(&domain.PaymentWebhook{}).
		Where("id = ?", id).
		Update("transaction_id", txnID).Error
}

// MarkWebhookProcessed sets the processed flag and an optional error note.
func MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id string, processed bool, note string) error {
	return db.WithContext(ctx).
		Model(&domain.PaymentWebhook{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed": processed, "error_message": note}).Error
}

// ClaimWebhook marks entry id processed and records claimKey on it. At most
// one entry can hold a given claim key; a second claim returns ErrDuplicate.
func ClaimWebhook(ctx context.Context, db *gorm.DB, id, claimKey string) error {
	err := db.WithContext(ctx).
		Model(&domain.PaymentWebhook{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed": true, "claim_key": claimKey}).Error
	if err != nil && IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ListWebhooks returns ledger entries of kind (all kinds when empty) for a
// transaction, oldest first.
func ListWebhooks(ctx context.Context, db *gorm.DB, txnID string, kind domain.WebhookKind) ([]domain.PaymentWebhook, error) {
	q := db.WithContext(ctx).Where("transaction_id = ?", txnID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []domain.PaymentWebhook
	err := q.Order("created_at ASC").Find(&out).Error
	return out, err
}
