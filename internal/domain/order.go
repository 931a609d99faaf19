package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LifecycleState is the settlement phase of the trader's active order.
type LifecycleState string

const (
	// LifecycleNone means no active order is being tracked.
	LifecycleNone LifecycleState = "NONE"
	// LifecycleCooldown means the order was placed less than the cooldown ago and cannot be settled yet.
	LifecycleCooldown LifecycleState = "COOLDOWN"
	// LifecycleSettleable means the order is inside the settlement window.
	LifecycleSettleable LifecycleState = "SETTLEABLE"
	// LifecycleExpired means the settlement window has closed.
	LifecycleExpired LifecycleState = "EXPIRED"
)

// Order is an order placed on the exchange contract, as reported by the order index.
// It is observed but never mutated by this service.
type Order struct {
	// ID is the index entity id (transaction hash concatenated with the log index).
	ID string
	// Trader is the account that placed the order.
	Trader common.Address
	// FromToken is the contract address of the token sold.
	FromToken common.Address
	// ToToken is the contract address of the token bought.
	ToToken common.Address
	// FromAmount is the sold amount in the token's base units.
	FromAmount *big.Int
	// FromTokenPrice is the oracle answer for FromToken at placement, scaled by 1e8.
	FromTokenPrice *big.Int
	// ToTokenPrice is the oracle answer for ToToken at placement, scaled by 1e8.
	ToTokenPrice *big.Int
	// PlacedAt is the block timestamp of the placement, in unix seconds.
	PlacedAt int64
}

// PlacementRate returns FromTokenPrice / ToTokenPrice, or zero when either price is missing.
func (o *Order) PlacementRate() decimal.Decimal {
	if o.FromTokenPrice == nil || o.ToTokenPrice == nil || o.FromTokenPrice.Sign() <= 0 || o.ToTokenPrice.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(o.FromTokenPrice, 0).Div(decimal.NewFromBigInt(o.ToTokenPrice, 0))
}

// OrderLifecycle is the derived timing state of an order.
type OrderLifecycle struct {
	State LifecycleState
	// RemainingSeconds counts down to the end of the current phase.
	// It is the cooldown remainder in COOLDOWN and the window remainder in SETTLEABLE.
	RemainingSeconds int64
}
