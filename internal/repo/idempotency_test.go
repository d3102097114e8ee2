package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

func TestGetIdempotency_EmptyKey_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	rec, err := GetIdempotency(context.Background(), db, "biz", "stk_push", "   ", time.Now().UTC())
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID: "expired", Owner: "biz", Scope: "stk_push", Key: "k1",
		TransactionID: "t1", Status: 200, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := GetIdempotency(context.Background(), db, "biz", "stk_push", "k1", now); err != ErrNotFound {
		t.Fatalf("expired: expected ErrNotFound, got %v", err)
	}
	if _, err := GetIdempotency(context.Background(), db, "biz", "stk_push", "nope", now); err != ErrNotFound {
		t.Fatalf("missing: expected ErrNotFound, got %v", err)
	}
}

func TestCreateIdempotency_SuccessDuplicateAndExpiredReuse(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "biz", "stk_push", "k1", "t1", 200, time.Hour)
	if err != nil || rec == nil {
		t.Fatalf("create: %v", err)
	}
	got, err := GetIdempotency(ctx, db, "biz", "stk_push", "k1", time.Now().UTC())
	if err != nil || got.TransactionID != "t1" {
		t.Fatalf("get: %v %+v", err, got)
	}

	if _, err := CreateIdempotency(ctx, db, "biz", "stk_push", "k1", "t2", 200, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Expire the first record; the key becomes reusable.
	db.Model(&domain.Idempotency{}).Where("id = ?", rec.ID).Update("expires_at", time.Now().UTC().Add(-time.Minute))
	if _, err := CreateIdempotency(ctx, db, "biz", "stk_push", "k1", "t3", 200, time.Hour); err != nil {
		t.Fatalf("reuse after expiry: %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if _, err := CreateIdempotency(context.Background(), db, "biz", "s", "k", "t", 200, time.Hour); err == nil {
		t.Fatalf("expected error without table")
	}
}
