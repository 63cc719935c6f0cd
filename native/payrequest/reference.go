package payrequest

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// ReferenceSize is the byte length of a reference. It matches the size of a
// Solana public key so the reference can be attached to a transfer as a
// read-only account.
const ReferenceSize = 32

// Reference tags a payment request. Its text form is base58.
type Reference [ReferenceSize]byte

// NewReference draws a reference from crypto/rand.
func NewReference() (Reference, error) {
	return newReferenceFrom(rand.Reader)
}

func newReferenceFrom(r io.Reader) (Reference, error) {
	var ref Reference
	if _, err := io.ReadFull(r, ref[:]); err != nil {
		return Reference{}, fmt.Errorf("payrequest: read entropy: %w", err)
	}
	return ref, nil
}

// ParseReference decodes the base58 text form of a reference.
func ParseReference(s string) (Reference, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Reference{}, ErrInvalidReference
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) != ReferenceSize {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	var ref Reference
	copy(ref[:], decoded)
	return ref, nil
}

func (r Reference) String() string { return base58.Encode(r[:]) }

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool { return r == Reference{} }

// MarshalText implements encoding.TextMarshaler.
func (r Reference) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reference) UnmarshalText(text []byte) error {
	parsed, err := ParseReference(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ValidateAddress checks that s is the base58 text form of a 32-byte key.
func ValidateAddress(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}
	if len(base58.Decode(trimmed)) != ReferenceSize {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, s)
	}
	return nil
}
