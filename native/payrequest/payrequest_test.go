package payrequest_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

const merchantWallet = "96gcyxCyPyTm7PsbE48dzHnPbRrA4xWk8QVCTiUS9ec5"

type chainTransfer struct {
	signature string
	recipient string
	amount    decimal.Decimal
}

// fakeChain is a Settlement whose transfers are posted by the test.
type fakeChain struct {
	mu        sync.Mutex
	transfers map[payrequest.Reference]chainTransfer

	findErr     error
	validateErr error
	finds       int
}

func newFakeChain() *fakeChain {
	return &fakeChain{transfers: make(map[payrequest.Reference]chainTransfer)}
}

func (c *fakeChain) pay(ref payrequest.Reference, recipient string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers[ref] = chainTransfer{signature: "sig-" + ref.String()[:8], recipient: recipient, amount: amount}
}

func (c *fakeChain) FindTransactionByTag(_ context.Context, ref payrequest.Reference) (*payrequest.TransactionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	if c.findErr != nil {
		return nil, c.findErr
	}
	tx, ok := c.transfers[ref]
	if !ok {
		return nil, payrequest.ErrTransactionNotFound
	}
	return &payrequest.TransactionHandle{Signature: tx.signature}, nil
}

func (c *fakeChain) FetchAndValidateTransfer(_ context.Context, handle *payrequest.TransactionHandle, terms payrequest.TransferTerms) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validateErr != nil {
		return false, c.validateErr
	}
	tx, ok := c.transfers[terms.Reference]
	if !ok || tx.signature != handle.Signature {
		return false, nil
	}
	return tx.recipient == terms.Recipient && tx.amount.Equal(terms.Amount), nil
}

func (c *fakeChain) findCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finds
}

type memoryReceipts struct {
	mu       sync.Mutex
	receipts map[payrequest.Reference]payrequest.Receipt
}

func (m *memoryReceipts) Record(_ context.Context, r payrequest.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receipts == nil {
		m.receipts = make(map[payrequest.Reference]payrequest.Receipt)
	}
	m.receipts[r.Reference] = r
	return nil
}

func (m *memoryReceipts) Get(_ context.Context, ref payrequest.Reference) (*payrequest.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[ref]
	if !ok {
		return nil, payrequest.ErrNotFound
	}
	return &r, nil
}

func demoRequest() payrequest.CreateRequest {
	return payrequest.CreateRequest{
		Recipient: merchantWallet,
		Amount:    decimal.RequireFromString("0.0001"),
		Label:     "SolKart Store",
		Message:   "SolKart Payment - Order ID #0421",
		Memo:      "SolKart Payment Demo",
	}
}

func mustReference(t *testing.T) payrequest.Reference {
	t.Helper()
	ref, err := payrequest.NewReference()
	if err != nil {
		t.Fatalf("new reference: %v", err)
	}
	return ref
}
