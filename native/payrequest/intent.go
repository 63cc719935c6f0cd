package payrequest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates no pending intent exists for the reference.
	ErrNotFound = errors.New("payrequest: intent not found")
	// ErrReferenceCollision indicates a reference is already held by a pending intent.
	ErrReferenceCollision = errors.New("payrequest: reference collision")
	// ErrInvalidReference indicates the reference text is not a 32-byte base58 value.
	ErrInvalidReference = errors.New("payrequest: invalid reference")
	// ErrInvalidRecipient indicates the recipient is not a valid address.
	ErrInvalidRecipient = errors.New("payrequest: invalid recipient")
	// ErrInvalidAmount indicates the amount is not strictly positive or is too precise.
	ErrInvalidAmount = errors.New("payrequest: invalid amount")
	// ErrTransactionNotFound is returned by a Settlement when no transaction carries the tag yet.
	ErrTransactionNotFound = errors.New("payrequest: transaction not found")
)

// NativeDecimals is the number of decimal places of the native SOL unit.
const NativeDecimals = 9

// Intent is a pending payment request.
type Intent struct {
	Reference Reference
	Recipient string
	Amount    decimal.Decimal
	// SPLToken is the mint address for token payments. Empty means native SOL.
	SPLToken  string
	Label     string
	Message   string
	Memo      string
	CreatedAt time.Time
	// ExpiresAt is zero when the intent never expires.
	ExpiresAt time.Time
}

// Validate checks the fields that must hold for every stored intent.
func (i *Intent) Validate() error {
	if i == nil {
		return errors.New("payrequest: intent required")
	}
	if i.Reference.IsZero() {
		return fmt.Errorf("%w: zero reference", ErrInvalidReference)
	}
	if err := ValidateAddress(i.Recipient); err != nil {
		return err
	}
	if strings.TrimSpace(i.SPLToken) != "" {
		if err := ValidateAddress(i.SPLToken); err != nil {
			return fmt.Errorf("payrequest: invalid spl token: %w", err)
		}
		return validateAmount(i.Amount, -1)
	}
	return validateAmount(i.Amount, NativeDecimals)
}

// Expired reports whether the intent has expired at now.
func (i *Intent) Expired(now time.Time) bool {
	if i == nil || i.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(i.ExpiresAt)
}

// Terms returns the transfer terms a settlement must satisfy for this intent.
func (i *Intent) Terms() TransferTerms {
	return TransferTerms{
		Recipient: i.Recipient,
		Amount:    i.Amount,
		SPLToken:  i.SPLToken,
		Reference: i.Reference,
	}
}

// Clone returns a copy that callers may modify freely.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

// validateAmount enforces a strictly positive amount. A non-negative
// maxDecimals bounds the number of fractional digits.
func validateAmount(amount decimal.Decimal, maxDecimals int32) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if maxDecimals >= 0 && !amount.Equal(amount.Truncate(maxDecimals)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, maxDecimals)
	}
	return nil
}

// CreateRequest carries the merchant-supplied fields of a new intent.
type CreateRequest struct {
	Recipient string
	Amount    decimal.Decimal
	SPLToken  string
	Label     string
	Message   string
	Memo      string
}
