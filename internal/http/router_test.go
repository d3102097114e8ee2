package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-payments-backend/internal/config"
	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/http/middleware"
	"github.com/tbourn/go-payments-backend/internal/locks"
	"github.com/tbourn/go-payments-backend/internal/mpesa"
	"github.com/tbourn/go-payments-backend/internal/repo"
	"github.com/tbourn/go-payments-backend/internal/services"
)

// --- fake provider to satisfy services.Gateway ---
type fakeGateway struct {
	mu     sync.Mutex
	pushes int
}

func (g *fakeGateway) STKPush(_ context.Context, r mpesa.PushRequest) (*mpesa.PushResponse, *mpesa.Exchange, error) {
	g.mu.Lock()
	g.pushes++
	g.mu.Unlock()
	resp := &mpesa.PushResponse{
		MerchantRequestID: "m-1",
		CheckoutRequestID: "ws_CO_" + uuid.NewString(),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}
	body, _ := json.Marshal(resp)
	req, _ := json.Marshal(map[string]any{"Amount": r.Amount, "PhoneNumber": r.Phone})
	return resp, &mpesa.Exchange{Endpoint: mpesa.EndpointSTKPush, Request: req, Status: 200, Response: body}, nil
}

func (g *fakeGateway) STKQuery(_ context.Context, id string) (*mpesa.QueryResponse, *mpesa.Exchange, error) {
	return nil, &mpesa.Exchange{Endpoint: mpesa.EndpointSTKQuery, Status: 503}, fmt.Errorf("unavailable")
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushes
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		SweepBatch:  50,
	}
}

func newApp(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB, *fakeGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	gw := &fakeGateway{}
	effects := &services.Effects{Log: zerolog.Nop()}
	deps := Deps{
		DB:        db,
		Payments:  &services.PaymentService{DB: db, Gateway: gw, Effects: effects, Log: zerolog.Nop()},
		Callbacks: &services.Reconciler{DB: db, Locker: locks.NewLocal(), Effects: effects, Log: zerolog.Nop()},
	}
	r := gin.New()
	RegisterRoutes(r, deps, cfg)
	return r, db, gw
}

func send(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newApp(t, baseConfig())

	w := send(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected Cache-Control no-store, got %q", got)
	}

	w = send(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w := send(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w := send(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newApp(t, cfg)

	w := send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestPaymentFlow_PushCallbackRead(t *testing.T) {
	r, _, gw := newApp(t, baseConfig())
	hdr := map[string]string{middleware.HeaderOwner: "shop-1"}

	w := send(r, http.MethodPost, "/api/v1/payments/mpesa/stk-push",
		`{"phone_number":"0712345678","amount":150,"description":"Sneakers"}`, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("stk-push = %d body=%s", w.Code, w.Body.String())
	}
	var push struct {
		Success           bool               `json:"success"`
		Transaction       domain.Transaction `json:"transaction"`
		CheckoutRequestID string             `json:"checkout_request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &push); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if !push.Success || push.Transaction.Status != domain.StatusPending || push.Transaction.Owner != "shop-1" {
		t.Fatalf("unexpected push: %+v", push)
	}
	if push.Transaction.PhoneNumber != "254712345678" {
		t.Fatalf("phone not normalized: %q", push.Transaction.PhoneNumber)
	}

	cb := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"` + push.CheckoutRequestID +
		`","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"Amount","Value":150}]}}}}`
	for i := 0; i < 2; i++ {
		w = send(r, http.MethodPost, CallbackPath, cb, nil)
		if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"ResultCode":0`)) {
			t.Fatalf("callback #%d = %d body=%s", i, w.Code, w.Body.String())
		}
	}

	w = send(r, http.MethodGet, "/api/v1/transactions/"+push.Transaction.ID, "", hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d body=%s", w.Code, w.Body.String())
	}
	var got domain.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode txn: %v", err)
	}
	if got.Status != domain.StatusSuccess || got.ReceiptNumber != "NLJ7RT61SV" {
		t.Fatalf("unexpected txn after callback: %+v", got)
	}

	// Another business cannot see it.
	w = send(r, http.MethodGet, "/api/v1/transactions/"+push.Transaction.ID, "", map[string]string{middleware.HeaderOwner: "shop-2"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-owner get expected 404, got %d", w.Code)
	}

	w = send(r, http.MethodGet, "/api/v1/transactions?status=success", "", hdr)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == "" {
		t.Fatalf("list = %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
	etag := w.Header().Get("ETag")
	w = send(r, http.MethodGet, "/api/v1/transactions?status=success", "", map[string]string{
		middleware.HeaderOwner: "shop-1",
		"If-None-Match":        etag,
	})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list expected 304, got %d", w.Code)
	}

	if gw.count() != 1 {
		t.Fatalf("expected exactly one push, got %d", gw.count())
	}
}

func TestPaymentFlow_IdempotentReplay(t *testing.T) {
	r, _, gw := newApp(t, baseConfig())
	hdr := map[string]string{
		middleware.HeaderOwner:          "shop-1",
		middleware.HeaderIdempotencyKey: "order-1042",
	}
	body := `{"phone_number":"0712345678","amount":150}`

	first := send(r, http.MethodPost, "/api/v1/payments/mpesa/stk-push", body, hdr)
	second := send(r, http.MethodPost, "/api/v1/payments/mpesa/stk-push", body, hdr)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("codes = %d/%d", first.Code, second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header on second call")
	}
	if gw.count() != 1 {
		t.Fatalf("expected one provider push, got %d", gw.count())
	}

	bad := send(r, http.MethodPost, "/api/v1/payments/mpesa/stk-push", body, map[string]string{
		middleware.HeaderIdempotencyKey: "has spaces",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("invalid key expected 400, got %d", bad.Code)
	}
}

func TestCallback_IPAllowList(t *testing.T) {
	cfg := baseConfig()
	cfg.Mpesa.IPWhitelist = []string{"196.201.214.200"}
	r, _, _ := newApp(t, cfg)

	// httptest requests originate from 192.0.2.1
	w := send(r, http.MethodPost, CallbackPath, `{}`, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 from allow-list, got %d", w.Code)
	}

	cfg.Mpesa.IPWhitelist = []string{"192.0.2.1"}
	r, _, _ = newApp(t, cfg)
	w = send(r, http.MethodPost, CallbackPath, `not json`, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("Invalid JSON")) {
		t.Fatalf("allowed callback = %d body=%s", w.Code, w.Body.String())
	}
}

func TestCallback_NotRateLimited(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, _, _ := newApp(t, cfg)

	for i := 0; i < 5; i++ {
		w := send(r, http.MethodPost, CallbackPath, `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_missing","ResultCode":1032}}}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("callback #%d = %d", i, w.Code)
		}
	}

	_ = send(r, http.MethodGet, "/api/v1/transactions", "", nil)
	if w := send(r, http.MethodGet, "/api/v1/transactions", "", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("api expected 429 after burst, got %d", w.Code)
	}
}

func TestExpire_SweepsOverdue(t *testing.T) {
	r, db, _ := newApp(t, baseConfig())
	past := time.Now().UTC().Add(-time.Minute)
	txn := &domain.Transaction{
		ID: uuid.NewString(), Owner: "shop-1", Reference: "r", CheckoutRequestID: "ws_CO_old",
		PhoneNumber: "254712345678", Status: domain.StatusPending, ExpiresAt: &past,
	}
	if err := repo.CreateTransaction(context.Background(), db, txn); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := send(r, http.MethodPost, "/api/v1/payments/mpesa/expire", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"expired":1`)) {
		t.Fatalf("expire = %d body=%s", w.Code, w.Body.String())
	}
	got, err := repo.GetTransaction(context.Background(), db, txn.ID, "shop-1")
	if err != nil || got.Status != domain.StatusTimeout {
		t.Fatalf("expected timeout, got %+v err=%v", got, err)
	}
}

func Test_idempotencyLookup(t *testing.T) {
	if idempotencyLookup(nil) != nil {
		t.Fatalf("nil db should disable lookup")
	}
	db := newTestDB(t)
	lookup := idempotencyLookup(db)
	ctx := context.Background()

	hit, err := lookup(ctx, "o", services.IdempotencyScopeSTKPush, "k", time.Now())
	if err != nil || hit {
		t.Fatalf("miss expected, got hit=%v err=%v", hit, err)
	}
	if _, err := repo.CreateIdempotency(ctx, db, "o", services.IdempotencyScopeSTKPush, "k", "t-1", 200, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if hit, _ := lookup(ctx, "o", services.IdempotencyScopeSTKPush, "k", time.Now()); !hit {
		t.Fatalf("hit expected")
	}

	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if hit, err := lookup(ctx, "o", services.IdempotencyScopeSTKPush, "k", time.Now()); hit || err != nil {
		t.Fatalf("errors should count as miss, got hit=%v err=%v", hit, err)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := send(r, http.MethodPost, "/echo", "0123456789AB", nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := send(r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func TestPaymentRequests_ReadBack(t *testing.T) {
	r, _, _ := newApp(t, baseConfig())
	hdr := map[string]string{middleware.HeaderOwner: "shop-1"}

	w := send(r, http.MethodPost, "/api/v1/payments/mpesa/stk-push",
		`{"phone_number":"0712345678","amount":150,"description":"Blue sneakers","conversation_id":"conv-1"}`, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("push: %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, "/api/v1/payment-requests", "", hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	var list struct {
		PaymentRequests []domain.PaymentRequest `json:"payment_requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.PaymentRequests) != 1 {
		t.Fatalf("list body = %s (%v)", w.Body.String(), err)
	}
	pr := list.PaymentRequests[0]
	if pr.ConversationID != "conv-1" || pr.Reason != "Blue sneakers" || pr.Transaction == nil {
		t.Fatalf("request = %+v", pr)
	}

	if w := send(r, http.MethodGet, "/api/v1/payment-requests/"+pr.ID, "", hdr); w.Code != http.StatusOK {
		t.Fatalf("detail: %d", w.Code)
	}
	other := map[string]string{middleware.HeaderOwner: "shop-2"}
	if w := send(r, http.MethodGet, "/api/v1/payment-requests/"+pr.ID, "", other); w.Code != http.StatusNotFound {
		t.Fatalf("cross-owner detail: %d", w.Code)
	}
}
