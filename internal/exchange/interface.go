// Package exchange defines the contract surface the trade core depends on:
// price oracles, ERC20 tokens and the exchange contract itself.
// Implementations live in sub-packages; evm is the on-chain one.
package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"spotdex/internal/exchange/evm"
)

// Sentinel errors for exchange operations.
var (
	// ErrNoSigner is returned by writes when the service runs without a private key.
	ErrNoSigner = evm.ErrNoSigner
	// ErrReverted is returned when a mined transaction failed on-chain.
	ErrReverted = evm.ErrReverted
)

// OracleReader reads single-asset price oracles.
type OracleReader interface {
	// LatestAnswer returns the answer of latestRoundData, scaled by 1e8.
	LatestAnswer(ctx context.Context, oracle common.Address) (*big.Int, error)
}

// TokenReader reads ERC20 state.
type TokenReader interface {
	// Allowance returns the amount spender may transfer on behalf of owner, in base units.
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	// BalanceOf returns owner's balance in base units.
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// FeeReader reads the exchange fee schedule.
type FeeReader interface {
	// SwapFee returns the fee for the ordered pair in hundredths of a percent (10 = 0.10%).
	SwapFee(ctx context.Context, from, to common.Address) (*big.Int, error)
}

// Writer submits the three trade writes and awaits their receipts.
// Submitted transactions cannot be retracted; only their outcome can be awaited.
type Writer interface {
	// Approve grants spender an allowance of amount base units on token.
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	// PlaceOrder places an order selling amount base units of from for to.
	PlaceOrder(ctx context.Context, from common.Address, amount *big.Int, to common.Address) (*types.Transaction, error)
	// SettleOrder settles the sender's active order.
	SettleOrder(ctx context.Context) (*types.Transaction, error)
	// WaitMined blocks until tx is mined. Returns ErrReverted for failed receipts.
	WaitMined(ctx context.Context, tx *types.Transaction) error
	// Signer returns the sending address and whether writes are possible at all.
	Signer() (common.Address, bool)
}

// Exchange is the full surface of one deployment of the exchange contract.
// Implementations must be safe for concurrent use.
type Exchange interface {
	OracleReader
	TokenReader
	FeeReader
	Writer

	// Address returns the exchange contract address, the spender of every allowance.
	Address() common.Address
}
