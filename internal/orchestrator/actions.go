package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"spotdex/internal/allowance"
	"spotdex/internal/domain"
	"spotdex/internal/exchange"
	"spotdex/internal/metrics"
)

// ApproveParams are the arguments of an approval write.
type ApproveParams struct {
	Token   domain.Token
	Spender common.Address
	// Amount is the source amount in base units.
	Amount *big.Int
}

// PlaceOrderParams are the arguments of an order placement write.
type PlaceOrderParams struct {
	From domain.Token
	// Amount is the source amount in base units.
	Amount *big.Int
	To     domain.Token
}

// Submission describes a write accepted by the chain and awaiting its receipt.
type Submission struct {
	Action      domain.ActionKind `json:"action"`
	TxHash      common.Hash       `json:"tx_hash"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Primary runs the write the swap button is bound to.
func (o *Orchestrator) Primary(ctx context.Context, version uint64) (*Submission, error) {
	o.mu.Lock()
	// A pending button keeps its action, so a repeat reports ErrActionInFlight.
	action := o.buttonLocked().Action
	o.mu.Unlock()

	switch action {
	case domain.ActionApprove:
		return o.Approve(ctx, version)
	case domain.ActionPlaceOrder:
		return o.PlaceOrder(ctx, version)
	default:
		return nil, ErrActionNotAvailable
	}
}

// Approve grants the exchange an allowance of the current source amount.
// version 0 skips the staleness check.
func (o *Orchestrator) Approve(ctx context.Context, version uint64) (*Submission, error) {
	const kind = domain.ActionApprove

	o.mu.Lock()
	if err := o.checkLocked(kind, version); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	params, err := o.approveParamsLocked()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.inFlight[kind] = true
	o.mu.Unlock()
	o.publishCurrent()

	o.logger.Info("submitting approval",
		zap.String("token", params.Token.Symbol),
		zap.String("spender", params.Spender.Hex()),
		zap.Stringer("amount", params.Amount))

	tx, err := o.chain.Approve(ctx, params.Token.Address, params.Spender, params.Amount)
	if err != nil {
		o.fail(kind, nil, err)
		return nil, fmt.Errorf("submit approval: %w", err)
	}

	o.await(kind, tx, func(ctx context.Context) {
		o.notify(o.notification(LevelSuccess, kind, tx, msgApproved))
		o.resetApproval()
		o.finish(kind)
		o.Refresh(ctx)
	})
	return o.submitted(kind, tx), nil
}

// PlaceOrder submits an order for the current pair and source amount.
// version 0 skips the staleness check.
func (o *Orchestrator) PlaceOrder(ctx context.Context, version uint64) (*Submission, error) {
	const kind = domain.ActionPlaceOrder

	o.mu.Lock()
	if err := o.checkLocked(kind, version); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	params, err := o.placeOrderParamsLocked()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.inFlight[kind] = true
	o.mu.Unlock()
	o.publishCurrent()

	o.logger.Info("submitting order",
		zap.String("from", params.From.Symbol),
		zap.String("to", params.To.Symbol),
		zap.Stringer("amount", params.Amount))

	tx, err := o.chain.PlaceOrder(ctx, params.From.Address, params.Amount, params.To.Address)
	if err != nil {
		o.fail(kind, nil, err)
		return nil, fmt.Errorf("submit order: %w", err)
	}

	o.await(kind, tx, func(ctx context.Context) {
		msg := fmt.Sprintf("You've submitted an order. You can settle it after %s.", humanDuration(o.cooldown))
		o.notify(o.notification(LevelSuccess, kind, tx, msg))
		// The order spent the allowance.
		o.resetApproval()
		o.finish(kind)
		o.monitor.Poll(ctx)
		o.Refresh(ctx)
	})
	return o.submitted(kind, tx), nil
}

// SettleOrder settles the trader's active order at the latest rate.
func (o *Orchestrator) SettleOrder(ctx context.Context) (*Submission, error) {
	const kind = domain.ActionSettleOrder

	order := o.monitor.Snapshot()

	o.mu.Lock()
	if err := o.checkLocked(kind, 0); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if !o.settleButtonLocked(order).Enabled || order.Order == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: order is %s", ErrActionNotAvailable, order.State)
	}
	orderID := order.Order.ID
	o.inFlight[kind] = true
	o.mu.Unlock()
	o.publishCurrent()

	o.logger.Info("submitting settlement", zap.String("order_id", orderID))

	tx, err := o.chain.SettleOrder(ctx)
	if err != nil {
		o.fail(kind, nil, err)
		return nil, fmt.Errorf("submit settlement: %w", err)
	}

	o.await(kind, tx, func(ctx context.Context) {
		o.monitor.MarkSettled(orderID)
		o.notify(o.notification(LevelSuccess, kind, tx, msgSettled))
		o.finish(kind)
		o.Refresh(ctx)
	})
	return o.submitted(kind, tx), nil
}

// checkLocked validates preconditions shared by all writes. o.mu must be held.
func (o *Orchestrator) checkLocked(kind domain.ActionKind, version uint64) error {
	if !o.st.connected {
		return ErrNotConnected
	}
	if _, ok := o.chain.Signer(); !ok {
		return exchange.ErrNoSigner
	}
	if version != 0 && version != o.st.version {
		return fmt.Errorf("%w: have %d, current %d", ErrStaleAction, version, o.st.version)
	}
	if o.inFlight[kind] {
		return fmt.Errorf("%w: %s", ErrActionInFlight, kind)
	}
	return nil
}

// approveParamsLocked builds approval arguments from the current inputs.
func (o *Orchestrator) approveParamsLocked() (ApproveParams, error) {
	if b := o.buttonLocked(); b.Action != domain.ActionApprove || !b.Enabled {
		return ApproveParams{}, fmt.Errorf("%w: button is %s", ErrActionNotAvailable, b.Kind)
	}
	token, ok := o.tokens.Get(o.st.from)
	if !ok {
		return ApproveParams{}, fmt.Errorf("%w: source token %q", ErrActionNotAvailable, o.st.from)
	}
	return ApproveParams{
		Token:   token,
		Spender: o.gate.Spender(),
		Amount:  domain.ToBaseUnits(domain.ParseAmount(o.st.fromAmount), token.Decimals),
	}, nil
}

// placeOrderParamsLocked builds order arguments from the current inputs.
func (o *Orchestrator) placeOrderParamsLocked() (PlaceOrderParams, error) {
	if b := o.buttonLocked(); b.Action != domain.ActionPlaceOrder || !b.Enabled {
		return PlaceOrderParams{}, fmt.Errorf("%w: button is %s", ErrActionNotAvailable, b.Kind)
	}
	from, ok := o.tokens.Get(o.st.from)
	if !ok {
		return PlaceOrderParams{}, fmt.Errorf("%w: source token %q", ErrActionNotAvailable, o.st.from)
	}
	to, ok := o.tokens.Get(o.st.to)
	if !ok {
		return PlaceOrderParams{}, fmt.Errorf("%w: destination token %q", ErrActionNotAvailable, o.st.to)
	}
	return PlaceOrderParams{
		From:   from,
		Amount: domain.ToBaseUnits(domain.ParseAmount(o.st.fromAmount), from.Decimals),
		To:     to,
	}, nil
}

// await waits for tx detached from the caller's context; a submitted write
// cannot be retracted. onSuccess runs after a successful receipt.
func (o *Orchestrator) await(kind domain.ActionKind, tx *types.Transaction, onSuccess func(ctx context.Context)) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), o.receiptTimeout)
		defer cancel()

		if err := o.chain.WaitMined(ctx, tx); err != nil {
			o.fail(kind, tx, err)
			return
		}

		metrics.Transactions.WithLabelValues(string(kind), metrics.ResultOK).Inc()
		o.logger.Info("transaction confirmed",
			zap.String("action", string(kind)),
			zap.String("tx_hash", tx.Hash().Hex()))

		readCtx, readCancel := context.WithTimeout(context.Background(), o.readTimeout)
		defer readCancel()
		onSuccess(readCtx)
	}()
}

// fail reports a rejected or reverted write and restores the pre-submission state.
func (o *Orchestrator) fail(kind domain.ActionKind, tx *types.Transaction, err error) {
	result := metrics.ResultError
	if errors.Is(err, exchange.ErrReverted) {
		result = metrics.ResultReverted
	}
	metrics.Transactions.WithLabelValues(string(kind), result).Inc()

	fields := []zap.Field{zap.String("action", string(kind)), zap.Error(err)}
	if tx != nil {
		fields = append(fields, zap.String("tx_hash", tx.Hash().Hex()))
	}
	o.logger.Error("transaction failed", fields...)

	o.notify(o.notification(LevelError, kind, tx, err.Error()))
	o.finish(kind)
}

// resetApproval forgets the allowance result until the next read completes.
func (o *Orchestrator) resetApproval() {
	o.mu.Lock()
	o.st.approval = allowance.ApprovalUnknown
	o.mu.Unlock()
}

// finish clears the in-flight mark of kind.
func (o *Orchestrator) finish(kind domain.ActionKind) {
	o.mu.Lock()
	delete(o.inFlight, kind)
	o.mu.Unlock()
	o.publishCurrent()
}

func (o *Orchestrator) submitted(kind domain.ActionKind, tx *types.Transaction) *Submission {
	o.logger.Info("transaction submitted",
		zap.String("action", string(kind)),
		zap.String("tx_hash", tx.Hash().Hex()))
	return &Submission{Action: kind, TxHash: tx.Hash(), SubmittedAt: o.clock.Now()}
}

func (o *Orchestrator) notification(level Level, kind domain.ActionKind, tx *types.Transaction, msg string) Notification {
	n := Notification{
		ID:      uuid.New(),
		Level:   level,
		Message: msg,
		Action:  kind,
		Time:    o.clock.Now(),
	}
	if level == LevelError {
		n.Title = failureTitle(kind)
	} else {
		n.Title = successTitle(kind)
	}
	if tx != nil {
		n.TxHash = tx.Hash().Hex()
	}
	return n
}

// humanDuration renders whole minutes as "2 mins" and anything else as a duration.
func humanDuration(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 min"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d mins", int64(d/time.Minute))
	default:
		return d.String()
	}
}
