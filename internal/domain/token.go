// Package domain contains core business entities and value objects.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token describes a tradable ERC20 token and the oracle that prices it.
// Tokens are immutable once loaded into the registry.
type Token struct {
	// Symbol is the unique registry key (e.g., "WETH").
	Symbol string
	// Address is the token contract address.
	Address common.Address
	// Oracle is the price feed contract for this token.
	Oracle common.Address
	// Decimals is the number of decimal places of the token's base unit.
	Decimals uint8
}

// AllowanceState is the outcome of one allowance evaluation. It is never cached.
type AllowanceState struct {
	Owner   common.Address
	Spender common.Address
	Token   common.Address
	// Required is the prospective trade amount in base units.
	Required *big.Int
	// Current is the allowance granted by Owner to Spender.
	Current *big.Int
}

// NeedsApproval reports whether the current allowance is strictly below the required amount.
func (s AllowanceState) NeedsApproval() bool {
	current := s.Current
	if current == nil {
		current = new(big.Int)
	}
	required := s.Required
	if required == nil {
		required = new(big.Int)
	}
	return current.Cmp(required) < 0
}
