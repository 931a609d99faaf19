package domain

import (
	"github.com/shopspring/decimal"
)

// BpsDenominator converts fee rates in hundredths of a percent into fractions (10 bps = 0.10%).
const BpsDenominator = 10000

// QuoteRequest is a transient quote input created on every user edit.
type QuoteRequest struct {
	// From is the source token symbol.
	From string
	// To is the destination token symbol.
	To string
	// FromAmount is a non-negative decimal string; anything else is treated as "0".
	FromAmount string
}

// Quote is an executable swap quote.
// ExchangeRate is expressed as FromToken units per ToToken unit; zero means no quote.
type Quote struct {
	ExchangeRate decimal.Decimal
	// FeeBps is the fee rate in hundredths of a percent. Zero covers both fee-free pairs and failed lookups.
	FeeBps int64
	// FromAmount is the human-readable source amount.
	FromAmount decimal.Decimal
	// ToAmount is the human-readable destination amount.
	ToAmount decimal.Decimal
	// FeeAmount is the fee charged, denominated in the source token.
	FeeAmount decimal.Decimal
}

// Available reports whether the quote carries a usable exchange rate.
func (q Quote) Available() bool {
	return q.ExchangeRate.IsPositive()
}

// FeePercent returns the fee rate in percent (10 bps = 0.1).
func (q Quote) FeePercent() decimal.Decimal {
	return decimal.NewFromInt(q.FeeBps).Div(decimal.NewFromInt(100))
}
