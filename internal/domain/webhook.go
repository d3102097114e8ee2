package domain

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookKind classifies a provider interaction in the ledger.
type WebhookKind string

const (
	KindPushInitiation      WebhookKind = "push_initiation"
	KindStatusQuery         WebhookKind = "status_query"
	KindPaymentConfirmation WebhookKind = "payment_confirmation"
)

// PaymentWebhook is one append-only ledger entry per inbound or outbound
// provider HTTP interaction. Only Processed, TransactionID, ErrorMessage and
// ClaimKey are ever updated after insert.
//
// ClaimKey is set to the checkout request id when a payment_confirmation entry
// applies its terminal transition. The unique index guarantees a single
// side-effecting entry per checkout id even across concurrent deliveries.
type PaymentWebhook struct {
	ID             string         `json:"id"                        gorm:"type:char(36);primaryKey"`
	TransactionID  *string        `json:"transaction_id,omitempty"  gorm:"type:char(36);index"`
	Kind           WebhookKind    `json:"kind"                      gorm:"type:varchar(32);not null;index"`
	Payload        datatypes.JSON `json:"payload"`
	Headers        datatypes.JSON `json:"headers"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"   gorm:"type:text"`
	Processed      bool           `json:"processed"                 gorm:"not null;default:false"`
	ErrorMessage   string         `json:"error_message,omitempty"   gorm:"type:text"`
	ClaimKey       *string        `json:"-"                         gorm:"type:varchar(100);uniqueIndex"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName returns the database table name for PaymentWebhook.
func (PaymentWebhook) TableName() string { return "payment_webhooks" }
