// Package handlers exposes the payment API over HTTP.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/http/middleware"
	"github.com/tbourn/go-payments-backend/internal/messaging"
	"github.com/tbourn/go-payments-backend/internal/repo"
	"github.com/tbourn/go-payments-backend/internal/services"
)

// PaymentService is the initiation and read side consumed by handlers.
// *services.PaymentService implements it.
type PaymentService interface {
	Initiate(ctx context.Context, in services.InitiateInput) (*services.InitiateResult, error)
	QueryStatus(ctx context.Context, in services.QueryInput) (*services.QueryResult, error)
	CurrentStatus(ctx context.Context, owner, id string) (*services.QueryResult, error)
	Get(ctx context.Context, owner, id string) (*domain.Transaction, error)
	ListPage(ctx context.Context, f repo.TransactionFilter, page, pageSize int) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context, f repo.TransactionFilter) (int64, *time.Time, error)
	ListPaymentRequests(ctx context.Context, owner string, page, pageSize int) ([]domain.PaymentRequest, int64, error)
	GetPaymentRequest(ctx context.Context, owner, id string) (*domain.PaymentRequest, error)
}

// CallbackProcessor reconciles provider callbacks and expires stale
// transactions. *services.Reconciler implements it.
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, raw []byte, headers map[string]string) (*services.CallbackResult, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
}

// SenderResolver picks the messaging adapter for a platform tag.
// *messaging.Router implements it.
type SenderResolver interface {
	For(platform string) (messaging.Sender, error)
}

// Handlers groups the payment endpoints.
type Handlers struct {
	payments   PaymentService
	callbacks  CallbackProcessor
	senders    SenderResolver
	sweepBatch int
}

// Option tweaks Handlers.
type Option func(*Handlers)

// WithSenders enables the notify block on stk-push.
func WithSenders(r SenderResolver) Option { return func(h *Handlers) { h.senders = r } }

// WithSweepBatch caps how many transactions one expire call moves.
func WithSweepBatch(n int) Option {
	return func(h *Handlers) {
		if n > 0 {
			h.sweepBatch = n
		}
	}
}

// New binds handlers to their services.
func New(payments PaymentService, callbacks CallbackProcessor, opts ...Option) *Handlers {
	h := &Handlers{payments: payments, callbacks: callbacks, sweepBatch: 100}
	for _, o := range opts {
		o(h)
	}
	return h
}

func owner(c *gin.Context) string { return middleware.OwnerFrom(c) }
