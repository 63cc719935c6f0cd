package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

const merchantWallet = "96gcyxCyPyTm7PsbE48dzHnPbRrA4xWk8QVCTiUS9ec5"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func testIntent(t *testing.T) *payrequest.Intent {
	t.Helper()
	ref, err := payrequest.NewReference()
	require.NoError(t, err)
	return &payrequest.Intent{
		Reference: ref,
		Recipient: merchantWallet,
		Amount:    decimal.RequireFromString("0.0001"),
		Label:     "SolKart Store",
		Message:   "SolKart Payment - Order ID #0421",
		Memo:      "SolKart Payment Demo",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGormIntentStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewGormIntentStore(setupTestDB(t))
	intent := testIntent(t)

	require.NoError(t, store.Insert(ctx, intent))
	got, err := store.Get(ctx, intent.Reference)
	require.NoError(t, err)
	require.Equal(t, intent.Reference, got.Reference)
	require.True(t, intent.Amount.Equal(got.Amount))
	require.Equal(t, intent.Memo, got.Memo)
	require.True(t, got.ExpiresAt.IsZero())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestGormIntentStoreCollisionDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewGormIntentStore(setupTestDB(t))
	intent := testIntent(t)
	require.NoError(t, store.Insert(ctx, intent))

	clash := *intent
	clash.Memo = "overwrite attempt"
	require.ErrorIs(t, store.Insert(ctx, &clash), payrequest.ErrReferenceCollision)

	got, err := store.Get(ctx, intent.Reference)
	require.NoError(t, err)
	require.Equal(t, "SolKart Payment Demo", got.Memo)
}

func TestGormIntentStoreDeleteSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewGormIntentStore(setupTestDB(t))
	intent := testIntent(t)
	require.NoError(t, store.Insert(ctx, intent))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed, err := store.Delete(ctx, intent.Reference)
			if err == nil && removed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), winners.Load())

	_, err := store.Get(ctx, intent.Reference)
	require.ErrorIs(t, err, payrequest.ErrNotFound)
	removed, err := store.Delete(ctx, intent.Reference)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestGormIntentStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewGormIntentStore(setupTestDB(t))
	store.SetClock(func() time.Time { return now })

	live := testIntent(t)
	live.ExpiresAt = now.Add(time.Hour)
	expired := testIntent(t)
	expired.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, store.Insert(ctx, live))
	require.NoError(t, store.Insert(ctx, expired))

	_, err := store.Get(ctx, expired.Reference)
	require.ErrorIs(t, err, payrequest.ErrNotFound)
	got, err := store.Get(ctx, live.Reference)
	require.NoError(t, err)
	require.Equal(t, live.ExpiresAt, got.ExpiresAt)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	swept, err := store.Sweep(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, swept)
}

func TestGormIntentStoreBacksRegistry(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(NewGormIntentStore(setupTestDB(t)))
	intent, err := reg.Create(ctx, payrequest.CreateRequest{
		Recipient: merchantWallet,
		Amount:    decimal.RequireFromString("0.0001"),
	})
	require.NoError(t, err)

	_, err = reg.Lookup(ctx, intent.Reference)
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, intent.Reference))
	require.NoError(t, reg.Delete(ctx, intent.Reference))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
