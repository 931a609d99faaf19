// Package orchestrator is the trade controller. It holds one trading session,
// turns input edits into quotes, gates execution on balance and allowance, and
// submits the approve, place and settle writes.
//
// Every input change bumps the session version. Reads triggered by a change
// carry the version they started from and are dropped if it moved on, so a
// slow read never overwrites state derived from newer inputs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotdex/internal/allowance"
	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/lifecycle"
	"spotdex/internal/pubsub"
	"spotdex/internal/quote"
	"spotdex/internal/registry"
	"spotdex/internal/schedule"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrNotConnected is returned by operations that need a trader.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrSignerMismatch is returned when connecting an address the service cannot sign for.
	ErrSignerMismatch = errors.New("trader does not match the configured signer")
	// ErrActionInFlight is returned while a write of the same kind awaits its receipt.
	ErrActionInFlight = errors.New("action already in flight")
	// ErrActionNotAvailable is returned when the current state does not allow the action.
	ErrActionNotAvailable = errors.New("action not available")
	// ErrStaleAction is returned when the caller's session version is outdated.
	ErrStaleAction = errors.New("session changed since the action was prepared")
)

const (
	defaultReadTimeout    = 10 * time.Second
	defaultReceiptTimeout = 3 * time.Minute
)

// Chain is the on-chain surface the orchestrator reads balances from and writes to.
type Chain interface {
	exchange.TokenReader
	exchange.Writer
}

// AllowanceGate decides whether an amount needs approval. *allowance.Gate satisfies it.
type AllowanceGate interface {
	NeedsApproval(ctx context.Context, owner common.Address, token domain.Token, amount decimal.Decimal) (bool, error)
	Spender() common.Address
}

// PairQuoter caches rates for the selected pair. *quote.Quoter satisfies it.
type PairQuoter interface {
	SetPair(ctx context.Context, from, to string) quote.Rates
	Rates() quote.Rates
}

// OrderMonitor tracks the trader's active order. *lifecycle.Monitor satisfies it.
type OrderMonitor interface {
	SetTrader(trader common.Address)
	Poll(ctx context.Context)
	MarkSettled(orderID string)
	Snapshot() lifecycle.Snapshot
}

// TokenLookup resolves registry symbols.
type TokenLookup interface {
	Get(symbol string) (domain.Token, bool)
}

// Config holds the dependencies of an Orchestrator.
type Config struct {
	Tokens  TokenLookup
	Chain   Chain
	Gate    AllowanceGate
	Quoter  PairQuoter
	Monitor OrderMonitor
	// Notifier receives write outcomes. Optional.
	Notifier Notifier
	// DefaultFromToken is selected when the session starts.
	DefaultFromToken string
	// ReadTimeout bounds reads issued after a confirmed write.
	ReadTimeout time.Duration
	// ReceiptTimeout bounds waiting for a submitted write to be mined.
	ReceiptTimeout time.Duration
	// Cooldown is quoted in the order submission message.
	Cooldown time.Duration
	// Clock defaults to the system clock.
	Clock schedule.Clock
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// session is the mutable input and derived state, guarded by Orchestrator.mu.
type session struct {
	version     uint64
	connected   bool
	trader      common.Address
	from        string
	to          string
	fromAmount  string
	toAmount    string
	quote       domain.Quote
	fromBalance decimal.Decimal
	toBalance   decimal.Decimal
	approval    allowance.Approval
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	tokens         TokenLookup
	chain          Chain
	gate           AllowanceGate
	quoter         PairQuoter
	monitor        OrderMonitor
	notifier       Notifier
	readTimeout    time.Duration
	receiptTimeout time.Duration
	cooldown       time.Duration
	clock          schedule.Clock
	logger         *zap.Logger

	feed *pubsub.Feed[Snapshot]
	// pairMu keeps quoter pair changes in the order the session saw them.
	pairMu sync.Mutex
	// traderMu keeps monitor trader changes in the order the session saw them.
	traderMu sync.Mutex
	// pending tracks detached receipt waits.
	pending sync.WaitGroup

	mu       sync.Mutex
	st       session
	inFlight map[domain.ActionKind]bool
}

// New creates an orchestrator with a disconnected session and the default
// source token selected.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.SystemClock{}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = lifecycle.DefaultCooldown
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}

	o := &Orchestrator{
		tokens:         cfg.Tokens,
		chain:          cfg.Chain,
		gate:           cfg.Gate,
		quoter:         cfg.Quoter,
		monitor:        cfg.Monitor,
		notifier:       cfg.Notifier,
		readTimeout:    cfg.ReadTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		cooldown:       cfg.Cooldown,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		feed:           pubsub.NewFeed[Snapshot](pubsub.DefaultBuffer),
		inFlight:       make(map[domain.ActionKind]bool),
	}

	o.st.fromAmount = "0"
	o.st.toAmount = "0"
	if _, ok := cfg.Tokens.Get(cfg.DefaultFromToken); ok {
		o.st.from = cfg.DefaultFromToken
	} else if cfg.DefaultFromToken != "" {
		o.logger.Warn("default source token not in registry", zap.String("token", cfg.DefaultFromToken))
	}
	return o
}

// Connect binds the session to trader and refreshes balances and allowance.
// When the chain has a signer, trader must be its address.
func (o *Orchestrator) Connect(ctx context.Context, trader common.Address) (Snapshot, error) {
	if trader == (common.Address{}) {
		return Snapshot{}, fmt.Errorf("%w: zero address", ErrNotConnected)
	}
	if signer, ok := o.chain.Signer(); ok && signer != trader {
		return Snapshot{}, fmt.Errorf("%w: signer is %s", ErrSignerMismatch, signer.Hex())
	}

	o.traderMu.Lock()
	o.mu.Lock()
	if o.st.connected && o.st.trader == trader {
		o.mu.Unlock()
		o.traderMu.Unlock()
		return o.Snapshot(), nil
	}
	o.st.connected = true
	o.st.trader = trader
	o.st.fromBalance = decimal.Zero
	o.st.toBalance = decimal.Zero
	o.st.approval = allowance.ApprovalUnknown
	version := o.bumpLocked()
	o.mu.Unlock()

	o.monitor.SetTrader(trader)
	o.traderMu.Unlock()

	o.logger.Info("trader connected", zap.String("trader", trader.Hex()))
	o.reconcile(ctx, version, true)
	return o.Snapshot(), nil
}

// Disconnect clears the trader. Inputs are kept.
func (o *Orchestrator) Disconnect() Snapshot {
	o.traderMu.Lock()
	o.mu.Lock()
	o.st.connected = false
	o.st.trader = common.Address{}
	o.st.fromBalance = decimal.Zero
	o.st.toBalance = decimal.Zero
	o.st.approval = allowance.ApprovalUnknown
	o.bumpLocked()
	o.mu.Unlock()

	o.monitor.SetTrader(common.Address{})
	o.traderMu.Unlock()

	o.logger.Info("trader disconnected")
	o.publishCurrent()
	return o.Snapshot()
}

// SelectFromToken sets the source token and re-reads the pair.
func (o *Orchestrator) SelectFromToken(ctx context.Context, symbol string) (Snapshot, error) {
	return o.selectToken(ctx, symbol, true)
}

// SelectToToken sets the destination token and re-reads the pair.
func (o *Orchestrator) SelectToToken(ctx context.Context, symbol string) (Snapshot, error) {
	return o.selectToken(ctx, symbol, false)
}

func (o *Orchestrator) selectToken(ctx context.Context, symbol string, source bool) (Snapshot, error) {
	if _, ok := o.tokens.Get(symbol); !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", registry.ErrUnknownToken, symbol)
	}

	o.pairMu.Lock()
	o.mu.Lock()
	if source {
		o.st.from = symbol
		o.st.fromBalance = decimal.Zero
	} else {
		o.st.to = symbol
		o.st.toBalance = decimal.Zero
	}
	o.st.approval = allowance.ApprovalUnknown
	from, to := o.st.from, o.st.to
	version := o.bumpLocked()
	// The old pair's rates no longer apply.
	o.requoteLocked()
	o.mu.Unlock()

	o.quoter.SetPair(ctx, from, to)
	o.pairMu.Unlock()

	o.mu.Lock()
	if o.st.version == version {
		o.requoteLocked()
	}
	o.mu.Unlock()

	o.reconcile(ctx, version, true)
	return o.Snapshot(), nil
}

// SetFromAmount sets the source amount and quotes forward from the cached rate.
// Invalid input becomes "0".
func (o *Orchestrator) SetFromAmount(ctx context.Context, amount string) Snapshot {
	o.mu.Lock()
	o.st.fromAmount = domain.NormalizeAmount(amount)
	o.requoteLocked()
	// The last allowance result was for the previous amount.
	o.st.approval = allowance.ApprovalUnknown
	version := o.bumpLocked()
	o.mu.Unlock()

	o.reconcile(ctx, version, false)
	return o.Snapshot()
}

// SetToAmount sets the destination amount and derives the source amount from
// the cached rate, without the fee.
func (o *Orchestrator) SetToAmount(ctx context.Context, amount string) Snapshot {
	o.mu.Lock()
	to := domain.NormalizeAmount(amount)
	q := quote.ReverseQuote(to, o.rateLocked(), o.feeLocked())
	o.st.toAmount = to
	o.st.fromAmount = q.FromAmount.String()
	o.st.quote = q
	o.st.approval = allowance.ApprovalUnknown
	version := o.bumpLocked()
	o.mu.Unlock()

	o.reconcile(ctx, version, false)
	return o.Snapshot()
}

// SetMaxAmount copies the source balance into the source amount.
func (o *Orchestrator) SetMaxAmount(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	if !o.st.connected {
		o.mu.Unlock()
		return Snapshot{}, ErrNotConnected
	}
	balance := o.st.fromBalance.String()
	o.mu.Unlock()

	return o.SetFromAmount(ctx, balance), nil
}

// RatesUpdated applies a background rate refresh for the selected pair.
// Inputs are unchanged, so the version is not bumped.
func (o *Orchestrator) RatesUpdated(r quote.Rates) {
	o.mu.Lock()
	if r.From != o.st.from || r.To != o.st.to {
		o.mu.Unlock()
		return
	}
	o.requoteLocked()
	o.mu.Unlock()

	o.publishCurrent()
}

// Refresh re-reads balances and allowance for the current inputs.
func (o *Orchestrator) Refresh(ctx context.Context) Snapshot {
	o.mu.Lock()
	version := o.st.version
	o.mu.Unlock()

	o.reconcile(ctx, version, true)
	return o.Snapshot()
}

// reconcile reads balances (when asked) and the allowance for the session at
// version, then applies them only if no newer input arrived meanwhile.
func (o *Orchestrator) reconcile(ctx context.Context, version uint64, balances bool) {
	o.mu.Lock()
	if o.st.version != version {
		o.mu.Unlock()
		return
	}
	st := o.st
	o.mu.Unlock()

	if !st.connected {
		o.publishCurrent()
		return
	}

	fromToken, hasFrom := o.tokens.Get(st.from)
	toToken, hasTo := o.tokens.Get(st.to)

	fromBalance, toBalance := st.fromBalance, st.toBalance
	if balances {
		if hasFrom {
			fromBalance = o.balance(ctx, st.trader, fromToken)
		}
		if hasTo {
			toBalance = o.balance(ctx, st.trader, toToken)
		}
	}

	approval := allowance.ApprovalUnknown
	inputs := allowance.ButtonInputs{
		Connected:  st.connected,
		ToToken:    st.to,
		FromAmount: domain.ParseAmount(st.fromAmount),
		Balance:    fromBalance,
	}
	if hasFrom && allowance.RequiresAllowance(inputs) {
		need, err := o.gate.NeedsApproval(ctx, st.trader, fromToken, inputs.FromAmount)
		approval = allowance.ApprovalFrom(need, err)
	}

	o.mu.Lock()
	if o.st.version != version {
		o.mu.Unlock()
		o.logger.Debug("discarding reads for superseded inputs", zap.Uint64("version", version))
		return
	}
	o.st.fromBalance = fromBalance
	o.st.toBalance = toBalance
	o.st.approval = approval
	o.mu.Unlock()

	o.publishCurrent()
}

func (o *Orchestrator) balance(ctx context.Context, owner common.Address, token domain.Token) decimal.Decimal {
	v, err := o.chain.BalanceOf(ctx, token.Address, owner)
	if err != nil {
		o.logger.Warn("balance read failed",
			zap.String("token", token.Symbol),
			zap.String("owner", owner.Hex()),
			zap.Error(err))
		return decimal.Zero
	}
	return domain.FromBaseUnits(v, token.Decimals)
}

// bumpLocked advances the input version. o.mu must be held.
func (o *Orchestrator) bumpLocked() uint64 {
	o.st.version++
	return o.st.version
}

// rateLocked returns the cached rate if it belongs to the selected pair.
func (o *Orchestrator) rateLocked() decimal.Decimal {
	r := o.quoter.Rates()
	if r.From != o.st.from || r.To != o.st.to || !r.Complete() {
		return decimal.Zero
	}
	return r.ExchangeRate
}

func (o *Orchestrator) feeLocked() int64 {
	r := o.quoter.Rates()
	if r.From != o.st.from || r.To != o.st.to {
		return 0
	}
	return r.FeeBps
}

// requoteLocked recomputes the forward quote from the source amount.
func (o *Orchestrator) requoteLocked() {
	q := quote.Compute(domain.QuoteRequest{
		From:       o.st.from,
		To:         o.st.to,
		FromAmount: o.st.fromAmount,
	}, o.rateLocked(), o.feeLocked())
	o.st.quote = q
	o.st.toAmount = q.ToAmount.String()
}

// Subscribe streams session snapshots until ctx ends.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Snapshot {
	return o.feed.Subscribe(ctx)
}

func (o *Orchestrator) publishCurrent() {
	o.feed.Publish(o.Snapshot())
}

func (o *Orchestrator) notify(n Notification) {
	o.notifier.Notify(n)
}

// Wait blocks until every detached receipt wait has finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}
