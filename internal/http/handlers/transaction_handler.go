// Transaction HTTP handlers.
//
// This file exposes read endpoints over stored transactions:
//   - GET /transactions              (list, filtered and paginated, ETag support)
//   - GET /transactions/{id}         (one transaction)
//   - GET /transactions/{id}/status  (refresh from the provider while still open)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/repo"
	"github.com/tbourn/go-payments-backend/internal/services"
	"github.com/tbourn/go-payments-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTransactionsResponse wraps a page of transactions.
type ListTransactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// parseFilter reads status, start_date and end_date. Dates are UTC calendar
// days; end_date is inclusive.
func parseFilter(c *gin.Context) (repo.TransactionFilter, error) {
	f := repo.TransactionFilter{Owner: owner(c)}

	if s := strings.ToLower(strings.TrimSpace(c.Query("status"))); s != "" {
		st := domain.Status(s)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Status = st
	}
	if s := c.Query("start_date"); s != "" {
		d, err := utils.ParseDay(s)
		if err != nil {
			return f, fmt.Errorf("start_date must be YYYY-MM-DD")
		}
		f.From = &d
	}
	if s := c.Query("end_date"); s != "" {
		d, err := utils.ParseDay(s)
		if err != nil {
			return f, fmt.Errorf("end_date must be YYYY-MM-DD")
		}
		next := d.AddDate(0, 0, 1)
		f.To = &next
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return f, errInvalidRange
	}
	return f, nil
}

var errInvalidRange = errors.New("start_date must not be after end_date")

// listETag fingerprints one page of the filtered result set.
func listETag(f repo.TransactionFilter, count int64, maxTS *time.Time, page, pageSize int) string {
	day := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(utils.DayLayout)
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"txns:%s:%s:%s:%s:%d:%d:%d:%d"`,
		f.Owner, f.Status, day(f.From), day(f.To), count, ts, page, pageSize)
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     List transactions (paginated)
// @Description Returns a page of the business's transactions, newest first. Supports weak ETag via If-None-Match.
// @Tags        Transactions
// @Produce     json
//
// @Param       X-Business-ID  header  string  false "Business id"                 example(shop-1)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"txns:shop-1::::3:0:1:20\")
// @Param       status         query   string  false "Filter by status"            Enums(pending,processing,success,failed,cancelled,timeout)
// @Param       start_date     query   string  false "Created on or after (UTC day)"  example(2024-03-01)
// @Param       end_date       query   string  false "Created on or before (UTC day)" example(2024-03-31)
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTransactionsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := parseFilter(c)
	if err != nil {
		code := ErrCodeBadRequest
		if errors.Is(err, errInvalidRange) {
			code = ErrCodeInvalidDateSpan
		}
		fail(c, http.StatusBadRequest, code, err.Error())
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.payments.Stats(ctx, f); err == nil {
		if notModified(c, listETag(f, count, maxTS, page, pageSize)) {
			return
		}
	}

	items, total, err := h.payments.ListPage(ctx, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTransactionsResponse{
		Transactions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetTransaction godoc
// @ID          getTransaction
// @Summary     Get a transaction
// @Tags        Transactions
// @Produce     json
//
// @Param       X-Business-ID  header  string  false "Business id"         example(shop-1)
// @Param       id             path    string  true  "Transaction ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.Transaction
// @Failure     404  {object} handlers.ErrorResponse "Transaction not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /transactions/{id} [get]
func (h *Handlers) GetTransaction(c *gin.Context) {
	t, err := h.payments.Get(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		writeLookupError(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// TransactionStatus godoc
// @ID          transactionStatus
// @Summary     Current status of a transaction
// @Description Returns the stored transaction; while it is still open the provider is queried first.
// @Tags        Transactions
// @Produce     json
//
// @Param       X-Business-ID  header  string  false "Business id"           example(shop-1)
// @Param       id             path    string  true  "Transaction ID (UUID)" format(uuid)
//
// @Success     200  {object} handlers.QueryStatusResponse
// @Failure     404  {object} handlers.ErrorResponse "Transaction not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /transactions/{id}/status [get]
func (h *Handlers) TransactionStatus(c *gin.Context) {
	res, err := h.payments.CurrentStatus(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "transaction not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeQueryFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, queryResponse(res))
}
