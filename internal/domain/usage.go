package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageLog aggregates per-owner, per-day push payment counters.
type UsageLog struct {
	ID                          string          `json:"id"                            gorm:"type:char(36);primaryKey"`
	Owner                       string          `json:"owner"                         gorm:"type:varchar(64);not null;uniqueIndex:ux_usage_owner_day,priority:1"`
	Day                         string          `json:"day"                           gorm:"type:varchar(10);not null;uniqueIndex:ux_usage_owner_day,priority:2"`
	MpesaTransactionCount       int64           `json:"mpesa_transaction_count"       gorm:"not null;default:0"`
	MpesaTransactionValue       decimal.Decimal `json:"mpesa_transaction_value"       gorm:"type:decimal(14,2);not null;default:0"`
	MpesaSuccessfulTransactions int64           `json:"mpesa_successful_transactions" gorm:"not null;default:0"`
	MpesaFailedTransactions     int64           `json:"mpesa_failed_transactions"     gorm:"not null;default:0"`
	CreatedAt                   time.Time       `json:"created_at"`
	UpdatedAt                   time.Time       `json:"updated_at"`
}

// TableName returns the database table name for UsageLog.
func (UsageLog) TableName() string { return "usage_logs" }
