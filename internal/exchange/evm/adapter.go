// Package evm provides the on-chain exchange adapter for EVM-compatible chains.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Sentinel errors for adapter operations.
var (
	// ErrNoSigner is returned by writes when no private key is configured.
	ErrNoSigner = errors.New("no signer configured")
	// ErrReverted is returned when a mined transaction has a failed receipt status.
	ErrReverted = errors.New("transaction reverted")
	// ErrUnexpectedOutput is returned when a contract call decodes into an unexpected shape.
	ErrUnexpectedOutput = errors.New("unexpected contract output")
)

const (
	defaultCallTimeout    = 10 * time.Second
	defaultReceiptTimeout = 3 * time.Minute
)

// Backend is the chain connection the adapter needs for reads, writes and receipts.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Config holds configuration for the adapter.
type Config struct {
	// ExchangeAddress is the exchange contract that fees are read from and orders are sent to.
	ExchangeAddress common.Address
	// ChainID is used for EIP-155 signing. Required when PrivateKey is set.
	ChainID *big.Int
	// PrivateKey signs writes. When nil the adapter is read-only.
	PrivateKey *ecdsa.PrivateKey
	// CallTimeout bounds each read call.
	CallTimeout time.Duration
	// ReceiptTimeout bounds waiting for a transaction to be mined.
	ReceiptTimeout time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Adapter reads oracles, tokens and the exchange contract, and signs exchange writes.
// It is safe for concurrent use.
type Adapter struct {
	backend  Backend
	exchange *bind.BoundContract
	signer   *bind.TransactOpts
	from     common.Address
	config   Config
	logger   *zap.Logger

	// txMu holds each write from nonce lookup to send.
	txMu sync.Mutex
}

// Dial connects to an RPC endpoint and creates an adapter on top of it.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewAdapter(client, cfg)
}

// NewAdapter creates an adapter on an existing backend.
func NewAdapter(backend Backend, cfg Config) (*Adapter, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}

	a := &Adapter{
		backend:  backend,
		exchange: bind.NewBoundContract(cfg.ExchangeAddress, exchangeABI, backend, backend, backend),
		config:   cfg,
		logger:   logger,
	}

	if cfg.PrivateKey != nil {
		if cfg.ChainID == nil {
			return nil, fmt.Errorf("chain id is required for signing")
		}
		opts, err := bind.NewKeyedTransactorWithChainID(cfg.PrivateKey, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		a.signer = opts
		a.from = crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
		logger.Info("signer configured", zap.String("address", a.from.Hex()))
	} else {
		logger.Info("no signer configured, adapter is read-only")
	}

	return a, nil
}

// Address returns the exchange contract address, which is also the spender for allowances.
func (a *Adapter) Address() common.Address {
	return a.config.ExchangeAddress
}

// Signer returns the address writes are signed with and whether a signer is configured.
func (a *Adapter) Signer() (common.Address, bool) {
	return a.from, a.signer != nil
}

// LatestAnswer reads latestRoundData from a price oracle and returns the answer field (scaled by 1e8).
func (a *Adapter) LatestAnswer(ctx context.Context, oracle common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(oracle, oracleABI, a.backend, a.backend, a.backend)
	out, err := a.call(ctx, contract, "latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", oracle.Hex(), err)
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("oracle %s: %w: %d values", oracle.Hex(), ErrUnexpectedOutput, len(out))
	}
	return asBigInt(out[1])
}

// Allowance reads token.allowance(owner, spender).
func (a *Adapter) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, erc20ABI, a.backend, a.backend, a.backend)
	out, err := a.call(ctx, contract, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("allowance on %s: %w", token.Hex(), err)
	}
	return singleBigInt(out)
}

// BalanceOf reads token.balanceOf(owner).
func (a *Adapter) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, erc20ABI, a.backend, a.backend, a.backend)
	out, err := a.call(ctx, contract, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("balance on %s: %w", token.Hex(), err)
	}
	return singleBigInt(out)
}

// SwapFee reads the exchange fee for the ordered pair, in hundredths of a percent.
func (a *Adapter) SwapFee(ctx context.Context, from, to common.Address) (*big.Int, error) {
	out, err := a.call(ctx, a.exchange, "getSwapFee", from, to)
	if err != nil {
		return nil, fmt.Errorf("swap fee: %w", err)
	}
	return singleBigInt(out)
}

// Approve sends token.approve(spender, amount).
func (a *Adapter) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	contract := bind.NewBoundContract(token, erc20ABI, a.backend, a.backend, a.backend)
	return a.transact(ctx, contract, "approve", spender, amount)
}

// PlaceOrder sends exchange.placeOrder(from, amount, to).
func (a *Adapter) PlaceOrder(ctx context.Context, from common.Address, amount *big.Int, to common.Address) (*types.Transaction, error) {
	return a.transact(ctx, a.exchange, "placeOrder", from, amount, to)
}

// SettleOrder sends exchange.settleOrder().
func (a *Adapter) SettleOrder(ctx context.Context) (*types.Transaction, error) {
	return a.transact(ctx, a.exchange, "settleOrder")
}

// WaitMined blocks until tx is mined and returns ErrReverted when its receipt reports failure.
func (a *Adapter) WaitMined(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, a.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}

	a.logger.Debug("transaction mined",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("status", receipt.Status),
		zap.Uint64("gas_used", receipt.GasUsed))

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: %w", tx.Hash().Hex(), ErrReverted)
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.CallTimeout)
	defer cancel()

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (a *Adapter) transact(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (*types.Transaction, error) {
	if a.signer == nil {
		return nil, ErrNoSigner
	}

	a.txMu.Lock()
	defer a.txMu.Unlock()

	opts := *a.signer
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	a.logger.Info("transaction sent",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()))

	return tx, nil
}

func singleBigInt(out []interface{}) (*big.Int, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %d values", ErrUnexpectedOutput, len(out))
	}
	return asBigInt(out[0])
}

func asBigInt(v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedOutput, v)
	}
	return n, nil
}

// MethodID returns the 4-byte selector of a method in one of the adapter's ABIs.
func MethodID(contractABI abi.ABI, method string) []byte {
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil
	}
	return m.ID
}
