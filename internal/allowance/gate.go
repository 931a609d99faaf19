// Package allowance decides whether a trade amount is covered by the trader's
// ERC20 allowance to the exchange, and derives the swap button from it.
package allowance

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/metrics"
)

// Config holds the dependencies of a Gate.
type Config struct {
	// Tokens reads ERC20 allowances.
	Tokens exchange.TokenReader
	// Spender is the exchange contract.
	Spender common.Address
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// Gate evaluates allowances. Results are never cached.
type Gate struct {
	tokens  exchange.TokenReader
	spender common.Address
	logger  *zap.Logger
}

// NewGate creates an allowance gate.
func NewGate(cfg Config) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{
		tokens:  cfg.Tokens,
		spender: cfg.Spender,
		logger:  cfg.Logger,
	}
}

// Spender returns the address allowances are checked against.
func (g *Gate) Spender() common.Address {
	return g.spender
}

// State reads owner's allowance on token and pairs it with amount in base units.
func (g *Gate) State(ctx context.Context, owner common.Address, token domain.Token, amount decimal.Decimal) (domain.AllowanceState, error) {
	state := domain.AllowanceState{
		Owner:    owner,
		Spender:  g.spender,
		Token:    token.Address,
		Required: domain.ToBaseUnits(amount, token.Decimals),
	}

	current, err := g.tokens.Allowance(ctx, token.Address, owner, g.spender)
	if err != nil {
		metrics.AllowanceChecks.WithLabelValues(metrics.ResultError).Inc()
		g.logger.Warn("allowance read failed",
			zap.String("token", token.Symbol),
			zap.String("owner", owner.Hex()),
			zap.Error(err))
		return state, fmt.Errorf("read allowance of %s: %w", token.Symbol, err)
	}

	state.Current = current
	metrics.AllowanceChecks.WithLabelValues(metrics.ResultOK).Inc()
	return state, nil
}

// NeedsApproval reports whether the allowance is strictly below amount.
// On error the answer is unknown and must not be read as approved.
func (g *Gate) NeedsApproval(ctx context.Context, owner common.Address, token domain.Token, amount decimal.Decimal) (bool, error) {
	state, err := g.State(ctx, owner, token, amount)
	if err != nil {
		return false, err
	}
	return state.NeedsApproval(), nil
}
