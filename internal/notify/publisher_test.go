package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-payments-backend/internal/services"
)

var sample = services.Event{
	Type:          services.EventPaymentNotification,
	TransactionID: "t1",
	Status:        "success",
	Amount:        "500.00",
	PhoneNumber:   "254712345678",
	ReceiptNumber: "ABC123",
	Message:       "Payment of KES 500.00 successful",
}

func TestLogPublisher_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	before := testutil.ToFloat64(published.WithLabelValues("log", "ok"))

	p := LogPublisher{Log: zerolog.New(&buf)}
	if err := p.Publish(context.Background(), "business_u1", sample); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"topic":"business_u1"`, `"transaction_id":"t1"`, "Payment of KES 500.00 successful"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q missing %q", out, want)
		}
	}
	if got := testutil.ToFloat64(published.WithLabelValues("log", "ok")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}

func TestRedisPublisher_Unreachable(t *testing.T) {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer c.Close()
	p := NewRedisPublisher(c, zerolog.Nop())
	if err := p.Publish(context.Background(), "business_u1", sample); err == nil {
		t.Fatalf("expected error against closed port")
	}
}

func TestRedisPublisher_Live(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub := c.Subscribe(ctx, "business_u1")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := NewRedisPublisher(c, zerolog.Nop()).Publish(ctx, "business_u1", sample); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got services.Event
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil || got != sample {
		t.Fatalf("payload = %s (%v)", msg.Payload, err)
	}
}
