package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

// CreatePaymentRequest links a conversation to the transaction it triggered.
func CreatePaymentRequest(ctx context.Context, db *gorm.DB, owner, conversationID, txnID, reason string) (*domain.PaymentRequest, error) {
	pr := &domain.PaymentRequest{
		ID:             uuid.NewString(),
		Owner:          owner,
		ConversationID: conversationID,
		TransactionID:  txnID,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(pr).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return pr, nil
}

// GetPaymentRequestByTransaction returns the request bound to txnID.
func GetPaymentRequestByTransaction(ctx context.Context, db *gorm.DB, txnID string) (*domain.PaymentRequest, error) {
	var pr domain.PaymentRequest
	if err := db.WithContext(ctx).Where("transaction_id = ?", txnID).First(&pr).Error; err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetPaymentRequest returns one request owned by owner with its transaction.
func GetPaymentRequest(ctx context.Context, db *gorm.DB, id, owner string) (*domain.PaymentRequest, error) {
	var pr domain.PaymentRequest
	err := db.WithContext(ctx).
		Preload("Transaction").
		Where("id = ? AND owner = ?", id, owner).
		First(&pr).Error
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// CountPaymentRequests returns how many requests owner has.
func CountPaymentRequests(ctx context.Context, db *gorm.DB, owner string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.PaymentRequest{}).Where("owner = ?", owner).Count(&n).Error
	return n, err
}

// ListPaymentRequestsPage returns a page of owner's requests, newest first,
// each with its transaction.
func ListPaymentRequestsPage(ctx context.Context, db *gorm.DB, owner string, offset, limit int) ([]domain.PaymentRequest, error) {
	var out []domain.PaymentRequest
	err := db.WithContext(ctx).
		Preload("Transaction").
		Where("owner = ?", owner).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
