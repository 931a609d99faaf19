package domain

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

// NormalizeAmount returns s when it is a non-negative decimal number and "0" otherwise.
func NormalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return "0"
	}
	return s
}

// ParseAmount coerces user input into a non-negative decimal.
// Non-numeric or negative input becomes zero.
func ParseAmount(s string) decimal.Decimal {
	s = NormalizeAmount(s)
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ToBaseUnits scales a human-readable amount to the token's integer base units, truncating any excess precision.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	if !amount.IsPositive() {
		return new(big.Int)
	}
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits converts integer base units to a human-readable amount.
func FromBaseUnits(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}
