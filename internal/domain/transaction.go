// Package domain defines the persistence models for payment transactions,
// the provider interaction ledger, usage counters and idempotency records.
// These types are mapped with GORM and shared across the repository and
// service layers.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimeout    Status = "timeout"
)

// Provider result codes with a dedicated terminal mapping.
const (
	ResultCodeSuccess         = 0
	ResultCodeCancelledByUser = 1032
	ResultCodeUnreachable     = 1037
	ResultCodeExpired         = 1019
)

// DefaultCurrency is the ISO code used for every push payment.
const DefaultCurrency = "KES"

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// CanTransition implements the forward-only state machine:
//
//	pending -> processing -> {success | failed | cancelled | timeout}
//	pending -> {success | failed | cancelled | timeout}
//
// Terminal states never move and nothing re-enters pending.
func CanTransition(from, to Status) bool {
	if !to.Valid() || from.IsTerminal() || from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to != StatusPending
	case StatusProcessing:
		return to.IsTerminal()
	}
	return false
}

// OpenStatuses lists the states a reconciliation may still move out of.
func OpenStatuses() []Status { return []Status{StatusPending, StatusProcessing} }

// StatusForResultCode maps a provider result code to the terminal status it
// implies.
func StatusForResultCode(code int) Status {
	switch code {
	case ResultCodeSuccess:
		return StatusSuccess
	case ResultCodeCancelledByUser:
		return StatusCancelled
	case ResultCodeUnreachable, ResultCodeExpired:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// Transaction is a single push-payment attempt. It is created in pending by
// the initiator and only ever mutated by reconciliation; rows are never
// deleted.
//
// Fields:
//   - CheckoutRequestID: provider correlation id (unique, immutable).
//   - ReceiptNumber: set if and only if Status is success.
//   - ConfirmationData: raw provider payload of the final reconciliation.
//   - ExpiresAt: end of the confirmation window; the sweep moves overdue
//     open rows to timeout.
type Transaction struct {
	ID                string          `json:"id"                             gorm:"type:char(36);primaryKey"`
	Owner             string          `json:"owner"                          gorm:"type:varchar(64);not null;index:idx_owner_created,priority:1"`
	Amount            decimal.Decimal `json:"amount"                         gorm:"type:decimal(12,2);not null"`
	Currency          string          `json:"currency"                       gorm:"type:varchar(3);not null;default:'KES'"`
	Reference         string          `json:"reference"                      gorm:"type:varchar(64);not null"`
	Description       string          `json:"description"                    gorm:"type:varchar(255)"`
	CheckoutRequestID string          `json:"checkout_request_id"            gorm:"type:varchar(100);not null;uniqueIndex"`
	MerchantRequestID string          `json:"merchant_request_id"            gorm:"type:varchar(100)"`
	PhoneNumber       string          `json:"phone_number"                   gorm:"type:varchar(20);not null"`
	Status            Status          `json:"status"                         gorm:"type:varchar(16);not null;default:'pending';index"`
	ReceiptNumber     string          `json:"mpesa_receipt_number,omitempty" gorm:"type:varchar(50)"`
	ConfirmationData  datatypes.JSON  `json:"confirmation_data,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"        gorm:"type:text"`
	TransactionDate   *time.Time      `json:"transaction_date,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"           gorm:"index"`
	ConversationID    *string         `json:"conversation_id,omitempty"      gorm:"type:varchar(64)"`
	ProductID         *string         `json:"product_id,omitempty"           gorm:"type:varchar(64)"`
	CreatedAt         time.Time       `json:"created_at"                     gorm:"index:idx_owner_created,priority:2"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "transactions" }

// PaymentRequest records that a payment prompt was issued from a
// conversation. It is 1:1 with the Transaction it produced.
type PaymentRequest struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	Owner          string    `json:"owner"           gorm:"type:varchar(64);not null;index"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(64);not null;index"`
	TransactionID  string    `json:"transaction_id"  gorm:"type:char(36);not null;uniqueIndex"`
	Reason         string    `json:"reason"          gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`

	// Transaction is loaded only on reads.
	Transaction *Transaction `json:"transaction,omitempty" gorm:"foreignKey:TransactionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for PaymentRequest.
func (PaymentRequest) TableName() string { return "payment_requests" }
