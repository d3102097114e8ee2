package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

// UsageDay formats t as the usage bucket key (UTC calendar day).
func UsageDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// IncrementUsage adds one push payment of amount to owner's counters for day,
// creating the row on first use.
func IncrementUsage(ctx context.Context, db *gorm.DB, owner, day string, amount decimal.Decimal, success bool) error {
	var ok, failed int64
	if success {
		ok = 1
	} else {
		failed = 1
	}
	now := time.Now().UTC()
	row := &domain.UsageLog{
		ID:                          uuid.NewString(),
		Owner:                       owner,
		Day:                         day,
		MpesaTransactionCount:       1,
		MpesaTransactionValue:       amount,
		MpesaSuccessfulTransactions: ok,
		MpesaFailedTransactions:     failed,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"mpesa_transaction_count":       gorm.Expr("usage_logs.mpesa_transaction_count + ?", 1),
			"mpesa_transaction_value":       gorm.Expr("usage_logs.mpesa_transaction_value + ?", amount),
			"mpesa_successful_transactions": gorm.Expr("usage_logs.mpesa_successful_transactions + ?", ok),
			"mpesa_failed_transactions":     gorm.Expr("usage_logs.mpesa_failed_transactions + ?", failed),
			"updated_at":                    now,
		}),
	}).Create(row).Error
}

// GetUsage returns owner's counters for day.
func GetUsage(ctx context.Context, db *gorm.DB, owner, day string) (*domain.UsageLog, error) {
	var u domain.UsageLog
	if err := db.WithContext(ctx).Where("owner = ? AND day = ?", owner, day).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
