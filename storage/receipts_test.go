package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

func testReceipt(t *testing.T, settledAt time.Time) payrequest.Receipt {
	t.Helper()
	ref, err := payrequest.NewReference()
	require.NoError(t, err)
	return payrequest.Receipt{
		Reference: ref,
		Signature: "5h6xBEauJ3PK6SWCZ1PGjBvj8vDdWG3KpwATGy1ARAXFSDwt8GFXM7W5Ncn16wmqokgpiKRLuS83KUxyZyv2sUYv",
		Recipient: merchantWallet,
		Amount:    decimal.RequireFromString("0.0001"),
		Memo:      "SolKart Payment Demo",
		SettledAt: settledAt,
	}
}

func TestReceiptLedger(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenReceiptLedger(filepath.Join(t.TempDir(), "receipts"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := testReceipt(t, base)
	second := testReceipt(t, base.Add(time.Minute))
	require.NoError(t, ledger.Record(ctx, second))
	require.NoError(t, ledger.Record(ctx, first))

	got, err := ledger.Get(ctx, first.Reference)
	require.NoError(t, err)
	require.Equal(t, first.Signature, got.Signature)
	require.True(t, first.Amount.Equal(got.Amount))
	require.True(t, first.SettledAt.Equal(got.SettledAt))

	_, err = ledger.Get(ctx, testReceipt(t, base).Reference)
	require.ErrorIs(t, err, payrequest.ErrNotFound)

	recent, err := ledger.Recent(ctx, base)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, first.Reference, recent[0].Reference)
	require.Equal(t, second.Reference, recent[1].Reference)

	recent, err = ledger.Recent(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestReceiptLedgerRecentFromDistantPast(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenReceiptLedger(filepath.Join(t.TempDir(), "receipts"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	receipt := testReceipt(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, ledger.Record(ctx, receipt))

	for _, since := range []time.Time{{}, time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)} {
		recent, err := ledger.Recent(ctx, since)
		require.NoError(t, err)
		require.Len(t, recent, 1, "since %s", since)
		require.Equal(t, receipt.Reference, recent[0].Reference)
	}
}

func TestReceiptLedgerFirstRecordWins(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenReceiptLedger(filepath.Join(t.TempDir(), "receipts"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	receipt := testReceipt(t, time.Now().UTC())
	require.NoError(t, ledger.Record(ctx, receipt))
	dup := receipt
	dup.Signature = "other"
	require.NoError(t, ledger.Record(ctx, dup))

	got, err := ledger.Get(ctx, receipt.Reference)
	require.NoError(t, err)
	require.Equal(t, receipt.Signature, got.Signature)
}

func TestMemoryReceipts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReceipts()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	late := testReceipt(t, base.Add(time.Hour))
	early := testReceipt(t, base)
	require.NoError(t, store.Record(ctx, late))
	require.NoError(t, store.Record(ctx, early))

	recent, err := store.Recent(ctx, base)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, early.Reference, recent[0].Reference)

	_, err = store.Get(ctx, testReceipt(t, base).Reference)
	require.ErrorIs(t, err, payrequest.ErrNotFound)
}

func TestOpenReceiptLedgerRequiresPath(t *testing.T) {
	_, err := OpenReceiptLedger(" ")
	require.Error(t, err)
}
