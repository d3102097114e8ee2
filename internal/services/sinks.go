package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

// EventPaymentNotification is the event type published after a terminal
// transition.
const EventPaymentNotification = "payment_notification"

// UsageMeter records one terminal push payment for an owner.
type UsageMeter interface {
	IncrementUsage(ctx context.Context, owner string, amount decimal.Decimal, success bool) error
}

// Publisher delivers an event to subscribers of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Locker serializes work on a key across callers. The returned func releases
// the lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Event is the real-time payment notification payload.
type Event struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	PhoneNumber   string `json:"phone_number"`
	ReceiptNumber string `json:"receipt_number"`
	Message       string `json:"message"`
}

// NotificationTopic returns the channel an owner's notifications go to.
func NotificationTopic(owner string) string { return "business_" + owner }

// NewPaymentEvent builds the notification for a transaction in a terminal
// state.
func NewPaymentEvent(t *domain.Transaction) Event {
	amount := t.Amount.StringFixed(2)
	msg := fmt.Sprintf("Payment of KES %s failed", amount)
	if t.Status == domain.StatusSuccess {
		msg = fmt.Sprintf("Payment of KES %s successful", amount)
	}
	return Event{
		Type:          EventPaymentNotification,
		TransactionID: t.ID,
		Status:        string(t.Status),
		Amount:        amount,
		PhoneNumber:   t.PhoneNumber,
		ReceiptNumber: t.ReceiptNumber,
		Message:       msg,
	}
}

// Effects fans a committed terminal transition out to the usage meter and the
// notification publisher. Sink failures are logged and swallowed. Nil sinks
// are skipped.
type Effects struct {
	Usage     UsageMeter
	Publisher Publisher
	Log       zerolog.Logger
}

// Fire runs the side effects for t. It must only be called after the
// transition that made t terminal has committed. The sinks run detached from
// ctx cancellation: a caller that hangs up after the commit must not lose the
// usage row or the notification.
func (e *Effects) Fire(ctx context.Context, t *domain.Transaction) {
	if e == nil || t == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	success := t.Status == domain.StatusSuccess

	if e.Usage != nil {
		if err := e.Usage.IncrementUsage(ctx, t.Owner, t.Amount, success); err != nil {
			e.Log.Error().Err(err).
				Str("transaction_id", t.ID).
				Str("owner", t.Owner).
				Msg("usage increment failed")
			sideEffectFailures.WithLabelValues("usage").Inc()
		}
	}
	if e.Publisher != nil {
		if err := e.Publisher.Publish(ctx, NotificationTopic(t.Owner), NewPaymentEvent(t)); err != nil {
			e.Log.Error().Err(err).
				Str("transaction_id", t.ID).
				Str("owner", t.Owner).
				Msg("payment notification failed")
			sideEffectFailures.WithLabelValues("notify").Inc()
		}
	}
}
