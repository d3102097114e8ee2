// Package usage meters terminal push payments per owner and day.
package usage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/repo"
)

var (
	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_payments_total",
			Help: "Terminal push payments by outcome.",
		},
		[]string{"outcome"},
	)
	paymentValue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_payment_value_kes_total",
			Help: "Value of terminal push payments in KES by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() { prometheus.MustRegister(payments, paymentValue) }

// Meter persists daily usage rows.
type Meter struct {
	DB  *gorm.DB
	now func() time.Time
}

// NewMeter returns a Meter writing to db.
func NewMeter(db *gorm.DB) *Meter { return &Meter{DB: db, now: time.Now} }

// IncrementUsage adds one payment of amount to owner's counters for today.
func (m *Meter) IncrementUsage(ctx context.Context, owner string, amount decimal.Decimal, success bool) error {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	if err := repo.IncrementUsage(ctx, m.DB, owner, repo.UsageDay(now()), amount, success); err != nil {
		return err
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	payments.WithLabelValues(outcome).Inc()
	paymentValue.WithLabelValues(outcome).Add(amount.InexactFloat64())
	return nil
}

// Today returns owner's counters for the current day.
func (m *Meter) Today(ctx context.Context, owner string) (*domain.UsageLog, error) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	return repo.GetUsage(ctx, m.DB, owner, repo.UsageDay(now()))
}
