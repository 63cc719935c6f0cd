package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/readone97/Sol-Kart/config"
	"github.com/readone97/Sol-Kart/native/payrequest"
	"github.com/readone97/Sol-Kart/storage"
)

func TestAuditStoreAndIntentStoreShareProcess(t *testing.T) {
	ctx := context.Background()
	audit := newTestStore(t)

	db, err := storage.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open intent db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("intent sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	registry := payrequest.NewRegistry(storage.NewGormIntentStore(db))
	intent, err := registry.Create(ctx, payrequest.CreateRequest{
		Recipient: config.Demo().Recipient,
		Amount:    decimal.RequireFromString("0.0001"),
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := registry.Lookup(ctx, intent.Reference); err != nil {
		t.Fatalf("lookup intent: %v", err)
	}

	if err := audit.InsertAudit(ctx, AuditEntry{Method: "POST", Path: "/api/pay", ResponseStatus: 200, Timestamp: fixedNow}); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	n, err := audit.CountAudit(ctx, "/api/pay")
	if err != nil || n != 1 {
		t.Fatalf("expected one audit row, got %d (%v)", n, err)
	}
}

func TestPruneIdempotency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SaveIdempotency(ctx, "old", "h1", 200, []byte(`{}`), fixedNow.Add(-48*time.Hour)); err != nil {
		t.Fatalf("save old key: %v", err)
	}
	if err := store.SaveIdempotency(ctx, "fresh", "h2", 200, []byte(`{}`), fixedNow); err != nil {
		t.Fatalf("save fresh key: %v", err)
	}

	removed, err := store.PruneIdempotency(ctx, fixedNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned key, got %d", removed)
	}
	if resp, err := store.LookupIdempotency(ctx, "old", "h1"); err != nil || resp != nil {
		t.Fatalf("expected old key gone, got %+v (%v)", resp, err)
	}
	if resp, err := store.LookupIdempotency(ctx, "fresh", "h2"); err != nil || resp == nil {
		t.Fatalf("expected fresh key kept, got %+v (%v)", resp, err)
	}
}
