// Package quote derives executable swap quotes from two oracle prices and the
// exchange fee schedule.
package quote

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/metrics"
)

// PriceSource returns a token's oracle price, or zero when unavailable.
type PriceSource interface {
	GetPrice(ctx context.Context, token domain.Token) decimal.Decimal
}

// TokenLookup resolves registry symbols.
type TokenLookup interface {
	Get(symbol string) (domain.Token, bool)
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	// Prices reads single-asset oracle prices.
	Prices PriceSource
	// Tokens resolves symbols to descriptors.
	Tokens TokenLookup
	// Fees reads the exchange fee schedule.
	Fees exchange.FeeReader
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// Engine computes rates and fees for ordered token pairs.
// Every failure degrades to the zero sentinel; no method returns an error.
type Engine struct {
	prices PriceSource
	tokens TokenLookup
	fees   exchange.FeeReader
	logger *zap.Logger
}

// NewEngine creates a quote engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		prices: cfg.Prices,
		tokens: cfg.Tokens,
		fees:   cfg.Fees,
		logger: cfg.Logger,
	}
}

// ExchangeRate returns price(from) / price(to) in from-token units per to-token unit.
// The two oracle reads run concurrently. Zero means no quote.
func (e *Engine) ExchangeRate(ctx context.Context, from, to string) decimal.Decimal {
	fromToken, toToken, ok := e.pair(from, to)
	if !ok {
		metrics.QuotesUnavailable.Inc()
		return decimal.Zero
	}

	var fromPrice, toPrice decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fromPrice = e.prices.GetPrice(gctx, fromToken)
		return nil
	})
	g.Go(func() error {
		toPrice = e.prices.GetPrice(gctx, toToken)
		return nil
	})
	_ = g.Wait()

	rate := Rate(fromPrice, toPrice)
	if rate.IsZero() {
		metrics.QuotesUnavailable.Inc()
		e.logger.Warn("exchange rate unavailable",
			zap.String("from", from),
			zap.String("to", to),
			zap.Stringer("from_price", fromPrice),
			zap.Stringer("to_price", toPrice))
	}
	return rate
}

// FeeRate returns the fee for the ordered pair in hundredths of a percent.
// Zero is returned both for fee-free pairs and for failed lookups.
func (e *Engine) FeeRate(ctx context.Context, from, to string) int64 {
	fromToken, toToken, ok := e.pair(from, to)
	if !ok {
		return 0
	}

	fee, err := e.fees.SwapFee(ctx, fromToken.Address, toToken.Address)
	if err != nil {
		e.logger.Warn("fee lookup failed",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return 0
	}
	if fee == nil || fee.Sign() < 0 || !fee.IsInt64() {
		e.logger.Warn("fee out of range",
			zap.String("from", from),
			zap.String("to", to),
			zap.Stringer("fee", fee))
		return 0
	}
	return fee.Int64()
}

func (e *Engine) pair(from, to string) (domain.Token, domain.Token, bool) {
	fromToken, ok := e.tokens.Get(from)
	if !ok {
		e.logger.Warn("token not in registry", zap.String("token", from))
		return domain.Token{}, domain.Token{}, false
	}
	toToken, ok := e.tokens.Get(to)
	if !ok {
		e.logger.Warn("token not in registry", zap.String("token", to))
		return domain.Token{}, domain.Token{}, false
	}
	return fromToken, toToken, true
}

// Rate divides two prices, returning zero when either is not positive.
func Rate(fromPrice, toPrice decimal.Decimal) decimal.Decimal {
	if !fromPrice.IsPositive() || !toPrice.IsPositive() {
		return decimal.Zero
	}
	return fromPrice.Div(toPrice)
}

// Compute derives a forward quote without I/O:
//
//	toAmount  = fromAmount * rate * (1 - feeBps/10000)
//	feeAmount = fromAmount * feeBps/10000
//
// A non-positive rate yields a zero toAmount. Fees at or above 100% also yield zero.
func Compute(req domain.QuoteRequest, rate decimal.Decimal, feeBps int64) domain.Quote {
	amount := domain.ParseAmount(req.FromAmount)
	if !rate.IsPositive() {
		rate = decimal.Zero
	}
	if feeBps < 0 {
		feeBps = 0
	}

	fee := feeFraction(feeBps)
	return domain.Quote{
		ExchangeRate: rate,
		FeeBps:       feeBps,
		FromAmount:   amount,
		ToAmount:     amount.Mul(rate).Mul(decimal.NewFromInt(1).Sub(fee)),
		FeeAmount:    amount.Mul(fee),
	}
}

// Reverse returns the source amount needed for toAmount at rate.
// No fee is applied in this direction.
func Reverse(toAmount, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() || !toAmount.IsPositive() {
		return decimal.Zero
	}
	return toAmount.Div(rate)
}

// ReverseQuote builds the quote shown after the destination amount is edited.
// ToAmount keeps the typed value; FromAmount is its fee-less inverse.
func ReverseQuote(toAmount string, rate decimal.Decimal, feeBps int64) domain.Quote {
	to := domain.ParseAmount(toAmount)
	if !rate.IsPositive() {
		rate = decimal.Zero
	}
	if feeBps < 0 {
		feeBps = 0
	}

	from := Reverse(to, rate)
	return domain.Quote{
		ExchangeRate: rate,
		FeeBps:       feeBps,
		FromAmount:   from,
		ToAmount:     to,
		FeeAmount:    from.Mul(feeFraction(feeBps)),
	}
}

func feeFraction(feeBps int64) decimal.Decimal {
	if feeBps >= domain.BpsDenominator {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(feeBps).Div(decimal.NewFromInt(domain.BpsDenominator))
}
