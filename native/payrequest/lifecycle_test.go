package payrequest_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

func TestPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := payrequest.NewRegistry(nil)
	chain := newFakeChain()
	verifier := payrequest.NewVerifier(reg, chain)

	intent, err := reg.Create(ctx, demoRequest())
	require.NoError(t, err)

	parsed, err := payrequest.ParseURL(payrequest.EncodeURL(payrequest.IntentRequest(intent)).String())
	require.NoError(t, err)
	require.True(t, parsed.Amount.Equal(decimal.RequireFromString("0.0001")))
	require.Equal(t, intent.Reference, parsed.References[0])

	require.Equal(t, payrequest.StatusPending, verifier.Verify(ctx, intent.Reference).Status)

	chain.pay(parsed.References[0], parsed.Recipient, *parsed.Amount)

	out := verifier.Verify(ctx, intent.Reference)
	require.Equal(t, payrequest.StatusVerified, out.Status)
	require.NoError(t, out.Err)

	require.Equal(t, payrequest.StatusNotFound, verifier.Verify(ctx, intent.Reference).Status)
	_, err = reg.Lookup(ctx, intent.Reference)
	require.ErrorIs(t, err, payrequest.ErrNotFound)
}
