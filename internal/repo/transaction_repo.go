// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Transaction model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Status changes go exclusively through TransitionTransaction, which only
// matches rows whose current status may legally move to the target.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

// TransactionFilter narrows list queries. Zero values are ignored.
type TransactionFilter struct {
	Owner  string
	Status domain.Status
	From   *time.Time // created_at >= From
	To     *time.Time // created_at < To
}

func (f TransactionFilter) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("owner = ?", f.Owner)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	return q
}

// CreateTransaction inserts t. ErrDuplicate is returned when the checkout
// request id already exists.
func CreateTransaction(ctx context.Context, db *gorm.DB, t *domain.Transaction) error {
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetTransaction fetches a transaction by id scoped to owner.
func GetTransaction(ctx context.Context, db *gorm.DB, id, owner string) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := db.WithContext(ctx).Where("id = ? AND owner = ?", id, owner).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionByCheckoutID fetches a transaction by its provider
// correlation id. An empty owner matches any owner.
func GetTransactionByCheckoutID(ctx context.Context, db *gorm.DB, checkoutID, owner string) (*domain.Transaction, error) {
	q := db.WithContext(ctx).Where("checkout_request_id = ?", checkoutID)
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	var t domain.Transaction
	if err := q.First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// TransitionTransaction moves transaction id to status `to` and applies
// fields in the same UPDATE, but only if the stored status may legally make
// that move. It reports whether a row changed; false means another writer
// already moved the row on.
func TransitionTransaction(ctx context.Context, db *gorm.DB, id string, to domain.Status, fields map[string]any) (bool, error) {
	from := make([]domain.Status, 0, 2)
	for _, s := range domain.OpenStatuses() {
		if domain.CanTransition(s, to) {
			from = append(from, s)
		}
	}
	if len(from) == 0 {
		return false, nil
	}

	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()

	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountTransactions returns the number of rows matching f.
func CountTransactions(ctx context.Context, db *gorm.DB, f TransactionFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Transaction{})).Count(&n).Error
	return n, err
}

// ListTransactionsPage returns a page of rows matching f, newest first.
func ListTransactionsPage(ctx context.Context, db *gorm.DB, f TransactionFilter, offset, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := f.apply(db.WithContext(ctx).Model(&domain.Transaction{})).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListOverdue returns open transactions whose expiry is before now, oldest
// expiry first.
func ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	q := db.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", domain.OpenStatuses(), now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
