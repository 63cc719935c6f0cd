package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

const signatureSearchLimit = 1000

// solanaRPC is the subset of the RPC client used for settlement checks.
type solanaRPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// SolanaSettlement finds and validates Solana Pay transfers over JSON-RPC.
type SolanaSettlement struct {
	client     solanaRPC
	commitment rpc.CommitmentType
}

var _ payrequest.Settlement = (*SolanaSettlement)(nil)

// NewSolanaSettlement dials endpoint lazily; no request is made until a
// verification runs.
func NewSolanaSettlement(endpoint string, commitment string) *SolanaSettlement {
	return newSolanaSettlement(rpc.New(endpoint), commitment)
}

func newSolanaSettlement(client solanaRPC, commitment string) *SolanaSettlement {
	if client == nil {
		panic("rpc client required")
	}
	return &SolanaSettlement{client: client, commitment: parseCommitment(commitment)}
}

func parseCommitment(raw string) rpc.CommitmentType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

// FindTransactionByTag returns the oldest transaction that lists ref among
// its account keys.
func (s *SolanaSettlement) FindTransactionByTag(ctx context.Context, ref payrequest.Reference) (*payrequest.TransactionHandle, error) {
	limit := signatureSearchLimit
	sigs, err := s.client.GetSignaturesForAddressWithOpts(ctx, solana.PublicKeyFromBytes(ref[:]), &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: s.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement: signatures for reference: %w", err)
	}
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i] == nil {
			continue
		}
		return &payrequest.TransactionHandle{Signature: sigs[i].Signature.String(), Slot: sigs[i].Slot}, nil
	}
	return nil, payrequest.ErrTransactionNotFound
}

// FetchAndValidateTransfer loads the transaction and compares its balance
// changes with terms.
func (s *SolanaSettlement) FetchAndValidateTransfer(ctx context.Context, handle *payrequest.TransactionHandle, terms payrequest.TransferTerms) (bool, error) {
	if handle == nil {
		return false, errors.New("settlement: transaction handle required")
	}
	sig, err := solana.SignatureFromBase58(handle.Signature)
	if err != nil {
		return false, fmt.Errorf("settlement: parse signature: %w", err)
	}
	maxVersion := uint64(0)
	out, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     s.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, payrequest.ErrTransactionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("settlement: get transaction %s: %w", handle.Signature, err)
	}
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return false, fmt.Errorf("settlement: transaction %s: incomplete rpc result", handle.Signature)
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return false, fmt.Errorf("settlement: decode transaction %s: %w", handle.Signature, err)
	}
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys)+len(out.Meta.LoadedAddresses.Writable)+len(out.Meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, out.Meta.LoadedAddresses.Writable...)
	keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)
	return validateTransfer(keys, out.Meta, terms)
}

// validateTransfer checks a confirmed transaction against terms. keys are
// the static account keys followed by any loaded addresses, which is the
// order balances are reported in.
func validateTransfer(keys []solana.PublicKey, meta *rpc.TransactionMeta, terms payrequest.TransferTerms) (bool, error) {
	if meta == nil || meta.Err != nil {
		return false, nil
	}
	recipient, err := solana.PublicKeyFromBase58(terms.Recipient)
	if err != nil {
		return false, fmt.Errorf("settlement: recipient: %w", err)
	}
	reference := solana.PublicKeyFromBytes(terms.Reference[:])
	if indexOf(keys, reference) < 0 {
		return false, nil
	}
	if terms.SPLToken == "" {
		return validateNative(keys, meta, recipient, terms)
	}
	return validateToken(meta, recipient, terms)
}

func validateNative(keys []solana.PublicKey, meta *rpc.TransactionMeta, recipient solana.PublicKey, terms payrequest.TransferTerms) (bool, error) {
	want, err := payrequest.ToBaseUnits(terms.Amount, payrequest.NativeDecimals)
	if err != nil {
		return false, err
	}
	idx := indexOf(keys, recipient)
	if idx < 0 || idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return false, nil
	}
	delta := new(big.Int).Sub(
		new(big.Int).SetUint64(meta.PostBalances[idx]),
		new(big.Int).SetUint64(meta.PreBalances[idx]),
	)
	return delta.Cmp(want) == 0, nil
}

func validateToken(meta *rpc.TransactionMeta, recipient solana.PublicKey, terms payrequest.TransferTerms) (bool, error) {
	mint, err := solana.PublicKeyFromBase58(terms.SPLToken)
	if err != nil {
		return false, fmt.Errorf("settlement: spl token: %w", err)
	}
	post, decimals, ok, err := tokenBalance(meta.PostTokenBalances, recipient, mint)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	pre, _, found, err := tokenBalance(meta.PreTokenBalances, recipient, mint)
	if err != nil {
		return false, err
	}
	if !found {
		// Associated token account created by this transaction.
		pre = new(big.Int)
	}
	want, err := payrequest.ToBaseUnits(terms.Amount, decimals)
	if err != nil {
		return false, nil
	}
	return new(big.Int).Sub(post, pre).Cmp(want) == 0, nil
}

func tokenBalance(balances []rpc.TokenBalance, owner, mint solana.PublicKey) (*big.Int, uint8, bool, error) {
	for _, bal := range balances {
		if bal.Owner == nil || !bal.Owner.Equals(owner) || !bal.Mint.Equals(mint) || bal.UiTokenAmount == nil {
			continue
		}
		amount, ok := new(big.Int).SetString(bal.UiTokenAmount.Amount, 10)
		if !ok {
			return nil, 0, false, fmt.Errorf("settlement: token balance %q is not an integer", bal.UiTokenAmount.Amount)
		}
		return amount, bal.UiTokenAmount.Decimals, true, nil
	}
	return nil, 0, false, nil
}

func indexOf(keys []solana.PublicKey, key solana.PublicKey) int {
	for i, k := range keys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}
