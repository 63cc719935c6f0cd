package payrequest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSettlementTimeout bounds each call to the settlement client.
const DefaultSettlementTimeout = 10 * time.Second

// TransferTerms are the fields a settled transfer must match exactly.
type TransferTerms struct {
	Recipient string
	Amount    decimal.Decimal
	SPLToken  string
	Reference Reference
}

// TransactionHandle identifies a transaction found by tag.
type TransactionHandle struct {
	Signature string
	Slot      uint64
}

// Settlement is the view of the ledger the verifier needs.
type Settlement interface {
	// FindTransactionByTag returns the transaction that carries ref, or
	// ErrTransactionNotFound when none is visible yet.
	FindTransactionByTag(ctx context.Context, ref Reference) (*TransactionHandle, error)
	// FetchAndValidateTransfer reports whether the transaction satisfies the
	// terms. A false result with a nil error is a mismatch.
	// ErrTransactionNotFound means the transaction is listed but not yet
	// fetchable.
	FetchAndValidateTransfer(ctx context.Context, tx *TransactionHandle, terms TransferTerms) (bool, error)
}

// Receipt records a finalized payment.
type Receipt struct {
	Reference Reference       `json:"reference"`
	Signature string          `json:"signature"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	SPLToken  string          `json:"splToken,omitempty"`
	Memo      string          `json:"memo,omitempty"`
	SettledAt time.Time       `json:"settledAt"`
}

// Receipts stores finalized payments so callers can tell an already verified
// reference from one that never existed.
type Receipts interface {
	Record(ctx context.Context, receipt Receipt) error
	Get(ctx context.Context, ref Reference) (*Receipt, error)
}

// Status is the outcome of a verification.
type Status int

const (
	StatusNotFound Status = iota
	StatusPending
	StatusMismatch
	StatusExternalError
	StatusVerified
)

func (s Status) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusNotFound:
		return "not found"
	case StatusPending:
		return "pending"
	case StatusMismatch:
		return "mismatch"
	case StatusExternalError:
		return "external error"
	default:
		return "unknown"
	}
}

// Outcome is returned by Verify.
type Outcome struct {
	Status    Status
	Reference Reference
	Signature string
	// SPLToken is the mint of the verified intent; empty for native SOL.
	SPLToken string
	Err      error
}

// Verifier confirms settlement of pending intents and finalizes them once.
type Verifier struct {
	registry   *Registry
	settlement Settlement
	receipts   Receipts
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithTimeout bounds each settlement call.
func WithTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.timeout = d }
}

// WithReceipts records finalized payments.
func WithReceipts(r Receipts) VerifierOption {
	return func(v *Verifier) { v.receipts = r }
}

// WithLogger sets the verifier logger.
func WithLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// WithVerifierClock sets the clock used for receipts.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier constructs a verifier. It panics when a collaborator is missing.
func NewVerifier(registry *Registry, settlement Settlement, opts ...VerifierOption) *Verifier {
	if registry == nil {
		panic("registry required")
	}
	if settlement == nil {
		panic("settlement client required")
	}
	v := &Verifier{
		registry:   registry,
		settlement: settlement,
		timeout:    DefaultSettlementTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Receipts returns the configured receipt store, or nil.
func (v *Verifier) Receipts() Receipts { return v.receipts }

// Verify checks whether the intent for ref has settled. Only the call that
// removes the intent reports StatusVerified; settlement failures leave the
// intent untouched.
func (v *Verifier) Verify(ctx context.Context, ref Reference) Outcome {
	out := Outcome{Reference: ref}
	log := v.logger.With(slog.String("reference", ref.String()))

	intent, err := v.registry.Lookup(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		out.Status = StatusNotFound
		log.Debug("verify: no pending intent")
		return out
	}
	if err != nil {
		out.Status = StatusExternalError
		out.Err = err
		log.Error("verify: lookup failed", slog.Any("error", err))
		return out
	}

	tx, err := v.find(ctx, ref)
	if errors.Is(err, ErrTransactionNotFound) {
		out.Status = StatusPending
		log.Debug("verify: transfer not settled")
		return out
	}
	if err != nil {
		out.Status = StatusExternalError
		out.Err = err
		log.Error("verify: find transaction failed", slog.Any("error", err))
		return out
	}
	out.Signature = tx.Signature

	ok, err := v.validate(ctx, tx, intent.Terms())
	if errors.Is(err, ErrTransactionNotFound) {
		out.Status = StatusPending
		log.Debug("verify: transaction not yet fetchable", slog.String("signature", tx.Signature))
		return out
	}
	if err != nil {
		out.Status = StatusExternalError
		out.Err = err
		log.Error("verify: validate transfer failed", slog.String("signature", tx.Signature), slog.Any("error", err))
		return out
	}
	if !ok {
		out.Status = StatusMismatch
		log.Warn("verify: transfer does not match intent", slog.String("signature", tx.Signature))
		return out
	}

	removed, err := v.registry.Release(ctx, ref)
	if err != nil {
		out.Status = StatusExternalError
		out.Err = err
		log.Error("verify: release failed", slog.Any("error", err))
		return out
	}
	if !removed {
		out.Status = StatusNotFound
		log.Debug("verify: intent finalized by another caller")
		return out
	}
	out.Status = StatusVerified
	out.SPLToken = intent.SPLToken
	log.Info("verify: payment verified", slog.String("signature", tx.Signature))
	v.record(ctx, intent, tx)
	return out
}

func (v *Verifier) find(ctx context.Context, ref Reference) (*TransactionHandle, error) {
	callCtx, cancel := v.callContext(ctx)
	defer cancel()
	tx, err := v.settlement.FindTransactionByTag(callCtx, ref)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (v *Verifier) validate(ctx context.Context, tx *TransactionHandle, terms TransferTerms) (bool, error) {
	callCtx, cancel := v.callContext(ctx)
	defer cancel()
	return v.settlement.FetchAndValidateTransfer(callCtx, tx, terms)
}

func (v *Verifier) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, v.timeout)
}

func (v *Verifier) record(ctx context.Context, intent *Intent, tx *TransactionHandle) {
	if v.receipts == nil {
		return
	}
	receipt := Receipt{
		Reference: intent.Reference,
		Signature: tx.Signature,
		Recipient: intent.Recipient,
		Amount:    intent.Amount,
		SPLToken:  intent.SPLToken,
		Memo:      intent.Memo,
		SettledAt: v.now().UTC(),
	}
	if err := v.receipts.Record(ctx, receipt); err != nil {
		v.logger.Warn("verify: record receipt failed",
			slog.String("reference", intent.Reference.String()),
			slog.Any("error", err))
	}
}
