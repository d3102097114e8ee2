// Payment HTTP handlers.
//
// This file exposes the M-Pesa initiation endpoints:
//   - POST /payments/mpesa/stk-push       (push a payment prompt)
//   - POST /payments/mpesa/query-status   (ask the provider for a status)
//   - POST /payments/mpesa/expire         (time out stale open transactions)
//
// Idempotency:
// An Idempotency-Key on stk-push maps to the transaction it created. A retry
// with the same key returns that transaction with `Idempotency-Replayed: true`
// and never pushes a second prompt.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/http/middleware"
	"github.com/tbourn/go-payments-backend/internal/mpesa"
	"github.com/tbourn/go-payments-backend/internal/services"
)

// NotifyTarget asks the server to send the payment prompt to a chat.
type NotifyTarget struct {
	Platform  string `json:"platform" binding:"required" example:"whatsapp"`
	Recipient string `json:"recipient" binding:"required" example:"254712345678"`
}

// STKPushRequest is the JSON payload for initiating a payment.
type STKPushRequest struct {
	PhoneNumber      string          `json:"phone_number" binding:"required" example:"0712345678"`
	Amount           decimal.Decimal `json:"amount" swaggertype:"number" example:"150"`
	AccountReference string          `json:"account_reference" example:"ORDER-1042"`
	Description      string          `json:"description" example:"Blue sneakers"`
	ConversationID   string          `json:"conversation_id,omitempty" example:"conv-77"`
	ProductID        string          `json:"product_id,omitempty" example:"sku-9"`
	Notify           *NotifyTarget   `json:"notify,omitempty"`
}

// STKPushResponse is returned for both accepted and rejected pushes. On
// rejection only Success=false and Error are set.
type STKPushResponse struct {
	Success           bool                `json:"success"`
	Transaction       *domain.Transaction `json:"transaction,omitempty"`
	CheckoutRequestID string              `json:"checkout_request_id,omitempty" example:"ws_CO_01032024123015123456"`
	CustomerMessage   string              `json:"customer_message,omitempty" example:"Success. Request accepted for processing"`
	Error             string              `json:"error,omitempty" example:"Invalid Access Token"`
}

// QueryStatusRequest selects a transaction by one of its ids.
type QueryStatusRequest struct {
	CheckoutRequestID string `json:"checkout_request_id" example:"ws_CO_01032024123015123456"`
	TransactionID     string `json:"transaction_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// QueryStatusResponse carries the stored transaction and, when the provider
// was reachable, its raw answer.
type QueryStatusResponse struct {
	Success          bool                 `json:"success"`
	Transaction      *domain.Transaction  `json:"transaction"`
	ProviderResponse *mpesa.QueryResponse `json:"provider_response,omitempty"`
	ProviderError    string               `json:"provider_error,omitempty"`
}

// ExpireResponse reports how many transactions an expiry sweep moved.
type ExpireResponse struct {
	Expired int `json:"expired" example:"3"`
}

// STKPush godoc
// @ID          stkPush
// @Summary     Initiate an M-Pesa STK push
// @Description Sends a payment prompt to the customer's phone and records a pending transaction.
// @Description Supports idempotency via the Idempotency-Key header (same key → same transaction, no second prompt).
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-Business-ID    header  string  false "Business the payment is for"  example(shop-1)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.STKPushRequest  true  "Payment request"
//
// @Success     200  {object}  handlers.STKPushResponse  "Push accepted (or replayed)"
// @Header      200  {string}  Idempotency-Replayed      "true when served from a previous request"
// @Failure     400  {object}  handlers.STKPushResponse  "Provider or transport rejected the push; invalid input uses ErrorResponse"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /payments/mpesa/stk-push [post]
func (h *Handlers) STKPush(c *gin.Context) {
	var req STKPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone_number and amount required")
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone_number required")
		return
	}

	in := services.InitiateInput{
		Owner:          owner(c),
		Phone:          req.PhoneNumber,
		Amount:         req.Amount,
		Reference:      req.AccountReference,
		Description:    req.Description,
		ConversationID: req.ConversationID,
		ProductID:      req.ProductID,
	}
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		in.IdempotencyKey = key
	}
	if req.Notify != nil {
		if h.senders == nil {
			fail(c, http.StatusBadRequest, ErrCodeUnsupported, "messaging is not configured")
			return
		}
		sender, err := h.senders.For(req.Notify.Platform)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeUnsupported, err.Error())
			return
		}
		in.Notify = &services.PromptTarget{Sender: sender, Recipient: req.Notify.Recipient}
	}

	res, err := h.payments.Initiate(c.Request.Context(), in)
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAmount, "amount must be at least 1")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInitiateFailed, err.Error())
		return
	}

	if !res.Success {
		rejectPayment(c, res.Error)
		return
	}
	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, http.StatusOK, STKPushResponse{
		Success:           true,
		Transaction:       res.Transaction,
		CheckoutRequestID: res.CheckoutRequestID,
		CustomerMessage:   res.CustomerMessage,
	})
}

// QueryStatus godoc
// @ID          queryStatus
// @Summary     Query an STK push status from the provider
// @Description Looks the transaction up by checkout request id or transaction id, asks the provider,
// @Description and applies the answer when the transaction is still open.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-Business-ID  header  string  false "Business the payment is for"  example(shop-1)
// @Param       body           body    handlers.QueryStatusRequest  true  "Transaction selector"
//
// @Success     200  {object}  handlers.QueryStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Transaction not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /payments/mpesa/query-status [post]
func (h *Handlers) QueryStatus(c *gin.Context) {
	var req QueryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.payments.QueryStatus(c.Request.Context(), services.QueryInput{
		Owner:             owner(c),
		CheckoutRequestID: strings.TrimSpace(req.CheckoutRequestID),
		TransactionID:     strings.TrimSpace(req.TransactionID),
	})
	if err != nil {
		writeLookupError(c, err)
		return
	}
	ok(c, http.StatusOK, queryResponse(res))
}

// Expire godoc
// @ID          expireStale
// @Summary     Time out stale open transactions
// @Description Moves pending or processing transactions whose expiry passed to timeout.
// @Description Meant to be called by an external scheduler.
// @Tags        Payments
// @Produce     json
//
// @Success     200  {object}  handlers.ExpireResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /payments/mpesa/expire [post]
func (h *Handlers) Expire(c *gin.Context) {
	n, err := h.callbacks.ExpireStale(c.Request.Context(), time.Now().UTC(), h.sweepBatch)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExpireFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ExpireResponse{Expired: n})
}

func queryResponse(res *services.QueryResult) QueryStatusResponse {
	return QueryStatusResponse{
		Success:          res.ProviderError == "",
		Transaction:      res.Transaction,
		ProviderResponse: res.ProviderResponse,
		ProviderError:    res.ProviderError,
	}
}

func writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMissingLookup):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "checkout_request_id or transaction_id required")
	case errors.Is(err, services.ErrTransactionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeQueryFailed, err.Error())
	}
}
