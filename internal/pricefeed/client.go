// Package pricefeed reads token prices from their single-asset oracles.
package pricefeed

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/metrics"
)

// AnswerDecimals is the fixed-point scale of every oracle answer.
const AnswerDecimals = 8

// Config holds the dependencies of a Client.
type Config struct {
	// Oracles performs the latestRoundData calls.
	Oracles exchange.OracleReader
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// Client reads oracle prices. It keeps no cache; every call reaches the oracle.
type Client struct {
	oracles exchange.OracleReader
	logger  *zap.Logger
}

// NewClient creates a price feed client.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		oracles: cfg.Oracles,
		logger:  cfg.Logger,
	}
}

// GetPrice returns the latest oracle price of token.
// A failed call or a non-positive answer yields zero, the "unavailable" sentinel.
func (c *Client) GetPrice(ctx context.Context, token domain.Token) decimal.Decimal {
	answer, err := c.oracles.LatestAnswer(ctx, token.Oracle)
	if err != nil {
		metrics.OracleReads.WithLabelValues(token.Symbol, metrics.ResultError).Inc()
		c.logger.Warn("oracle read failed",
			zap.String("token", token.Symbol),
			zap.String("oracle", token.Oracle.Hex()),
			zap.Error(err))
		return decimal.Zero
	}
	if answer == nil || answer.Sign() <= 0 {
		metrics.OracleReads.WithLabelValues(token.Symbol, metrics.ResultUnavailable).Inc()
		c.logger.Warn("oracle answer not positive",
			zap.String("token", token.Symbol),
			zap.Stringer("answer", answer))
		return decimal.Zero
	}

	metrics.OracleReads.WithLabelValues(token.Symbol, metrics.ResultOK).Inc()
	return decimal.NewFromBigInt(answer, -AnswerDecimals)
}
