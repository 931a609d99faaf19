package exchange

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"spotdex/internal/exchange/evm"
	"spotdex/pkg/config"
)

// Ensure the on-chain adapter implements Exchange.
var _ Exchange = (*evm.Adapter)(nil)

// NewExchange dials the configured RPC endpoint and creates the on-chain adapter.
// The signing key is read from the environment variable named by cfg.PrivateKeyEnv;
// when it is unset the exchange is read-only and every write fails with ErrNoSigner.
func NewExchange(ctx context.Context, cfg *config.ChainConfig, logger *zap.Logger) (Exchange, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapterCfg := evm.Config{
		ExchangeAddress: common.HexToAddress(cfg.ExchangeAddress),
		ChainID:         new(big.Int).SetInt64(cfg.ChainID),
		CallTimeout:     cfg.CallTimeout,
		ReceiptTimeout:  cfg.ReceiptTimeout,
		Logger:          logger.Named("evm"),
	}

	if cfg.PrivateKeyEnv != "" {
		if raw := strings.TrimPrefix(os.Getenv(cfg.PrivateKeyEnv), "0x"); raw != "" {
			key, err := crypto.HexToECDSA(raw)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", cfg.PrivateKeyEnv, err)
			}
			adapterCfg.PrivateKey = key
		}
	}

	adapter, err := evm.Dial(ctx, cfg.RPCURL, adapterCfg)
	if err != nil {
		return nil, fmt.Errorf("create exchange: %w", err)
	}

	logger.Info("exchange created",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("exchange", adapter.Address().Hex()))

	return adapter, nil
}
