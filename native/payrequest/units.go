package payrequest

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts amount into integer base units with the given number
// of decimals. Amounts finer than one base unit are rejected rather than
// rounded.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	shifted := amount.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidAmount, amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}
