// Payment request HTTP handlers.
//
//   - GET /payment-requests       (the business's requests, newest first)
//   - GET /payment-requests/{id}  (one request with its transaction)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/services"
)

// ListPaymentRequestsResponse wraps a page of payment requests.
type ListPaymentRequestsResponse struct {
	PaymentRequests []domain.PaymentRequest `json:"payment_requests"`
	Pagination      Pagination              `json:"pagination"`
}

// ListPaymentRequests godoc
// @ID          listPaymentRequests
// @Summary     List payment requests (paginated)
// @Description Payment prompts issued from a conversation, newest first, each with its transaction.
// @Tags        PaymentRequests
// @Produce     json
//
// @Param       X-Business-ID  header  string  false "Business id"  example(shop-1)
// @Param       page           query   int     false "Page (1-based)"  default(1)
// @Param       page_size      query   int     false "Page size (max 100)"  default(20)
//
// @Success     200  {object} handlers.ListPaymentRequestsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payment-requests [get]
func (h *Handlers) ListPaymentRequests(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.payments.ListPaymentRequests(c.Request.Context(), owner(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.PaymentRequest{}
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListPaymentRequestsResponse{
		PaymentRequests: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetPaymentRequest godoc
// @ID          getPaymentRequest
// @Summary     Get a payment request
// @Tags        PaymentRequests
// @Produce     json
//
// @Param       X-Business-ID  header  string  false "Business id"               example(shop-1)
// @Param       id             path    string  true  "Payment request ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.PaymentRequest
// @Failure     404  {object} handlers.ErrorResponse "Payment request not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payment-requests/{id} [get]
func (h *Handlers) GetPaymentRequest(c *gin.Context) {
	pr, err := h.payments.GetPaymentRequest(c.Request.Context(), owner(c), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrPaymentRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "payment request not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeQueryFailed, err.Error())
	default:
		ok(c, http.StatusOK, pr)
	}
}
