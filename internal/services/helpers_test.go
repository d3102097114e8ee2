package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-payments-backend/internal/domain"
	"github.com/tbourn/go-payments-backend/internal/mpesa"
	"github.com/tbourn/go-payments-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:paysvc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeGateway struct {
	mu sync.Mutex

	pushResp  *mpesa.PushResponse
	pushErr   error
	queryResp *mpesa.QueryResponse
	queryErr  error

	pushes  []mpesa.PushRequest
	queries []string
}

func (g *fakeGateway) STKPush(_ context.Context, r mpesa.PushRequest) (*mpesa.PushResponse, *mpesa.Exchange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, r)

	req, _ := json.Marshal(map[string]any{"BusinessShortCode": "174379", "Amount": r.Amount, "PhoneNumber": r.Phone})
	ex := &mpesa.Exchange{
		Endpoint: mpesa.EndpointSTKPush,
		Request:  req,
		Headers:  map[string]string{"Content-Type": "application/json"},
		Status:   200,
	}
	if g.pushErr != nil {
		ex.Status = 500
		ex.Response = []byte(`{"errorMessage":"boom"}`)
		return nil, ex, g.pushErr
	}
	resp := *g.pushResp
	if resp.CheckoutRequestID == "" {
		resp.CheckoutRequestID = "ws_CO_" + uuid.NewString()
	}
	ex.Response, _ = json.Marshal(resp)
	return &resp, ex, nil
}

func (g *fakeGateway) STKQuery(_ context.Context, checkoutID string) (*mpesa.QueryResponse, *mpesa.Exchange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, checkoutID)

	ex := &mpesa.Exchange{
		Endpoint: mpesa.EndpointSTKQuery,
		Request:  json.RawMessage(`{"CheckoutRequestID":"` + checkoutID + `"}`),
		Status:   200,
	}
	if g.queryErr != nil {
		ex.Status = 500
		return nil, ex, g.queryErr
	}
	ex.Response, _ = json.Marshal(g.queryResp)
	return g.queryResp, ex, nil
}

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

type usageCall struct {
	owner   string
	amount  decimal.Decimal
	success bool
}

type recordingUsage struct {
	mu    sync.Mutex
	calls []usageCall
	err   error
}

func (u *recordingUsage) IncrementUsage(_ context.Context, owner string, amount decimal.Decimal, success bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, usageCall{owner, amount, success})
	return u.err
}

func (u *recordingUsage) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

type publishedEvent struct {
	topic string
	event Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic, e})
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type recordingSender struct {
	recipient, text, owner string
	err                    error
}

func (s *recordingSender) SendText(_ context.Context, recipient, text, owner string) error {
	s.recipient, s.text, s.owner = recipient, text, owner
	return s.err
}

// keyLock is a minimal keyed mutex for tests.
type keyLock struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyLock) Lock(_ context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.m == nil {
		k.m = map[string]*sync.Mutex{}
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}

type fixture struct {
	db        *gorm.DB
	gw        *fakeGateway
	usage     *recordingUsage
	publisher *recordingPublisher
	svc       *PaymentService
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	gw := &fakeGateway{pushResp: &mpesa.PushResponse{
		MerchantRequestID: "29115-34620561-1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}}
	usage := &recordingUsage{}
	pub := &recordingPublisher{}
	effects := &Effects{Usage: usage, Publisher: pub, Log: zerolog.Nop()}
	return &fixture{
		db:        db,
		gw:        gw,
		usage:     usage,
		publisher: pub,
		svc:       &PaymentService{DB: db, Gateway: gw, Effects: effects, Log: zerolog.Nop()},
		rec:       &Reconciler{DB: db, Locker: &keyLock{}, Effects: effects, Log: zerolog.Nop()},
	}
}

// initiate creates a pending transaction through the real initiation path.
func (f *fixture) initiate(t *testing.T, owner, amount string) *domain.Transaction {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), InitiateInput{
		Owner:  owner,
		Phone:  "0712345678",
		Amount: decimal.RequireFromString(amount),
	})
	if err != nil || !res.Success {
		t.Fatalf("initiate: res=%+v err=%v", res, err)
	}
	return res.Transaction
}

func (f *fixture) reload(t *testing.T, txn *domain.Transaction) *domain.Transaction {
	t.Helper()
	got, err := repo.GetTransaction(context.Background(), f.db, txn.ID, txn.Owner)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return got
}

func successCallback(checkoutID, receipt string) []byte {
	items := `{"Name":"Amount","Value":500.00},{"Name":"TransactionDate","Value":20240301123015},{"Name":"PhoneNumber","Value":254712345678}`
	if receipt != "" {
		items = `{"Name":"MpesaReceiptNumber","Value":"` + receipt + `"},` + items
	}
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"` + checkoutID +
		`","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[` + items + `]}}}}`)
}

func failureCallback(checkoutID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":%q}}}`,
		checkoutID, code, desc))
}

func countWebhooks(t *testing.T, db *gorm.DB, kind domain.WebhookKind) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.PaymentWebhook{}).Where("kind = ?", kind).Count(&n).Error; err != nil {
		t.Fatalf("count webhooks: %v", err)
	}
	return n
}
