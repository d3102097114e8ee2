package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/http/middleware"
	"github.com/tbourn/go-payments-backend/internal/messaging"
	"github.com/tbourn/go-payments-backend/internal/repo"
	"github.com/tbourn/go-payments-backend/internal/services"
)

// ---------- stubs ----------

type stubPayments struct {
	mu sync.Mutex

	initiateRes *services.InitiateResult
	initiateErr error
	lastInit    services.InitiateInput

	queryRes  *services.QueryResult
	queryErr  error
	lastQuery services.QueryInput

	txn    *domain.Transaction
	getErr error

	items      []domain.Transaction
	total      int64
	listErr    error
	lastFilter repo.TransactionFilter
	lastPage   [2]int

	statsCount int64
	statsMax   *time.Time
	statsErr   error

	requests    []domain.PaymentRequest
	reqTotal    int64
	reqErr      error
	lastReqPage [2]int
}

func (s *stubPayments) Initiate(_ context.Context, in services.InitiateInput) (*services.InitiateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInit = in
	return s.initiateRes, s.initiateErr
}

func (s *stubPayments) QueryStatus(_ context.Context, in services.QueryInput) (*services.QueryResult, error) {
	s.lastQuery = in
	return s.queryRes, s.queryErr
}

func (s *stubPayments) CurrentStatus(_ context.Context, owner, id string) (*services.QueryResult, error) {
	s.lastQuery = services.QueryInput{Owner: owner, TransactionID: id}
	return s.queryRes, s.queryErr
}

func (s *stubPayments) Get(_ context.Context, owner, id string) (*domain.Transaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.txn == nil || s.txn.ID != id || s.txn.Owner != owner {
		return nil, services.ErrTransactionNotFound
	}
	return s.txn, nil
}

func (s *stubPayments) ListPage(_ context.Context, f repo.TransactionFilter, page, pageSize int) ([]domain.Transaction, int64, error) {
	s.lastFilter = f
	s.lastPage = [2]int{page, pageSize}
	return s.items, s.total, s.listErr
}

func (s *stubPayments) Stats(_ context.Context, f repo.TransactionFilter) (int64, *time.Time, error) {
	return s.statsCount, s.statsMax, s.statsErr
}

func (s *stubPayments) ListPaymentRequests(_ context.Context, _ string, page, pageSize int) ([]domain.PaymentRequest, int64, error) {
	s.lastReqPage = [2]int{page, pageSize}
	return s.requests, s.reqTotal, s.reqErr
}

func (s *stubPayments) GetPaymentRequest(_ context.Context, owner, id string) (*domain.PaymentRequest, error) {
	if s.reqErr != nil {
		return nil, s.reqErr
	}
	for i := range s.requests {
		if pr := &s.requests[i]; pr.ID == id && pr.Owner == owner {
			return pr, nil
		}
	}
	return nil, services.ErrPaymentRequestNotFound
}

type stubCallbacks struct {
	res      *services.CallbackResult
	err      error
	panicVal any
	raw      []byte
	headers  map[string]string

	expired   int
	expireErr error
	limit     int
}

func (s *stubCallbacks) HandleCallback(_ context.Context, raw []byte, headers map[string]string) (*services.CallbackResult, error) {
	if s.panicVal != nil {
		panic(s.panicVal)
	}
	s.raw, s.headers = raw, headers
	return s.res, s.err
}

func (s *stubCallbacks) ExpireStale(_ context.Context, _ time.Time, limit int) (int, error) {
	s.limit = limit
	return s.expired, s.expireErr
}

type stubSender struct{}

func (stubSender) SendText(context.Context, string, string, string) error { return nil }

type stubResolver map[string]messaging.Sender

func (r stubResolver) For(tag string) (messaging.Sender, error) {
	if s, ok := r[tag]; ok {
		return s, nil
	}
	return nil, messaging.ErrUnsupportedPlatform
}

// ---------- harness ----------

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Owner())
	r.POST("/payments/mpesa/stk-push",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: services.IdempotencyScopeSTKPush}, nil),
		h.STKPush)
	r.POST("/payments/mpesa/query-status", h.QueryStatus)
	r.POST("/payments/mpesa/expire", h.Expire)
	r.POST("/webhooks/mpesa/callback", h.MpesaCallback)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/transactions/:id/status", h.TransactionStatus)
	r.GET("/payment-requests", h.ListPaymentRequests)
	r.GET("/payment-requests/:id", h.GetPaymentRequest)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

var errBoom = errors.New("boom")
