package payrequest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

func TestVerifyUnknownReference(t *testing.T) {
	chain := newFakeChain()
	verifier := payrequest.NewVerifier(payrequest.NewRegistry(nil), chain)

	out := verifier.Verify(context.Background(), mustReference(t))
	require.Equal(t, payrequest.StatusNotFound, out.Status)
	require.Zero(t, chain.findCount(), "unknown references must not reach the ledger")
}

func TestVerifyPendingLeavesIntent(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	verifier := payrequest.NewVerifier(reg, newFakeChain())

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)

	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusPending, out.Status)
	_, err = reg.Lookup(ctx, intent.Reference)
	require.NoError(t, err)
}

func TestVerifyAmountMismatchKeepsIntent(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	chain := newFakeChain()
	verifier := payrequest.NewVerifier(reg, chain)

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)
	chain.pay(intent.Reference, merchantWallet, decimal.RequireFromString("0.00009"))

	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusMismatch, out.Status)
	require.NotEmpty(t, out.Signature)

	got, err := reg.Lookup(ctx, intent.Reference)
	require.NoError(t, err)
	require.Equal(t, intent.Reference, got.Reference)
}

func TestVerifyUnfetchableTransactionIsPending(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	chain := newFakeChain()
	verifier := payrequest.NewVerifier(reg, chain)

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)
	chain.pay(intent.Reference, merchantWallet, intent.Amount)
	chain.validateErr = fmt.Errorf("lagging node: %w", payrequest.ErrTransactionNotFound)

	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusPending, out.Status)
	require.NoError(t, out.Err)
	_, err = reg.Lookup(ctx, intent.Reference)
	require.NoError(t, err)
}

func TestVerifyExternalErrorsDoNotMutate(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	chain := newFakeChain()
	verifier := payrequest.NewVerifier(reg, chain)

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)
	chain.pay(intent.Reference, merchantWallet, intent.Amount)

	chain.findErr = errors.New("rpc unavailable")
	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusExternalError, out.Status)
	require.Error(t, out.Err)

	chain.findErr = nil
	chain.validateErr = errors.New("transaction fetch failed")
	out = verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusExternalError, out.Status)

	_, err = reg.Lookup(ctx, intent.Reference)
	require.NoError(t, err)

	chain.validateErr = nil
	out = verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusVerified, out.Status)
}

func TestVerifyTimeoutIsExternalError(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)

	verifier := payrequest.NewVerifier(reg, blockingSettlement{}, payrequest.WithTimeout(20*time.Millisecond))
	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusExternalError, out.Status)
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)

	_, err = reg.Lookup(ctx, intent.Reference)
	require.NoError(t, err)
}

type blockingSettlement struct{}

func (blockingSettlement) FindTransactionByTag(ctx context.Context, _ payrequest.Reference) (*payrequest.TransactionHandle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSettlement) FetchAndValidateTransfer(context.Context, *payrequest.TransactionHandle, payrequest.TransferTerms) (bool, error) {
	return false, errors.New("unreachable")
}

func TestConcurrentVerifyFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	chain := newFakeChain()
	receipts := &memoryReceipts{}
	verifier := payrequest.NewVerifier(reg, chain, payrequest.WithReceipts(receipts))

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)
	chain.pay(intent.Reference, merchantWallet, intent.Amount)

	const callers = 32
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		statuses = make(chan payrequest.Status, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			statuses <- verifier.Verify(ctx, intent.Reference).Status
		}()
	}
	close(start)
	wg.Wait()
	close(statuses)

	counts := make(map[payrequest.Status]int)
	for status := range statuses {
		counts[status]++
	}
	require.Equal(t, 1, counts[payrequest.StatusVerified])
	require.Equal(t, callers-1, counts[payrequest.StatusNotFound])
	require.Len(t, receipts.receipts, 1)
}

func TestVerifyRecordsReceipt(t *testing.T) {
	ctx := context.Background()
	settledAt := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	reg := payrequest.NewRegistry(nil)
	chain := newFakeChain()
	receipts := &memoryReceipts{}
	verifier := payrequest.NewVerifier(reg, chain,
		payrequest.WithReceipts(receipts),
		payrequest.WithVerifierClock(func() time.Time { return settledAt }))

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)
	chain.pay(intent.Reference, merchantWallet, intent.Amount)

	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusVerified, out.Status)

	receipt, err := verifier.Receipts().Get(ctx, intent.Reference)
	require.NoError(t, err)
	require.Equal(t, out.Signature, receipt.Signature)
	require.Equal(t, settledAt, receipt.SettledAt)
	require.Equal(t, "SolKart Payment Demo", receipt.Memo)
}

func TestStatusStrings(t *testing.T) {
	require.Equal(t, "verified", payrequest.StatusVerified.String())
	require.Equal(t, "not found", payrequest.StatusNotFound.String())
	require.Equal(t, "pending", payrequest.StatusPending.String())
	require.Equal(t, "mismatch", payrequest.StatusMismatch.String())
	require.Equal(t, "external error", payrequest.StatusExternalError.String())
}
