package orchestrator

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"spotdex/internal/allowance"
	"spotdex/internal/domain"
	"spotdex/internal/lifecycle"
)

// Settle button label.
const labelSettle = "Settle"

// Pending lists the writes awaiting their receipts.
type Pending struct {
	Approve     bool
	PlaceOrder  bool
	SettleOrder bool
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	// Version identifies the inputs this view was derived from. Actions may
	// pass it back to refuse submission against newer inputs.
	Version     uint64
	Connected   bool
	Trader      common.Address
	FromToken   string
	ToToken     string
	FromAmount  string
	ToAmount    string
	Quote       domain.Quote
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
	Approval    allowance.Approval
	// Button is the swap panel's main control.
	Button domain.ButtonState
	// Settle is the orders panel control.
	Settle  domain.ButtonState
	Order   lifecycle.Snapshot
	Pending Pending
	Time    time.Time
}

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot() Snapshot {
	order := o.monitor.Snapshot()

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(order)
}

func (o *Orchestrator) snapshotLocked(order lifecycle.Snapshot) Snapshot {
	st := o.st
	return Snapshot{
		Version:     st.version,
		Connected:   st.connected,
		Trader:      st.trader,
		FromToken:   st.from,
		ToToken:     st.to,
		FromAmount:  st.fromAmount,
		ToAmount:    st.toAmount,
		Quote:       st.quote,
		FromBalance: st.fromBalance,
		ToBalance:   st.toBalance,
		Approval:    st.approval,
		Button:      o.buttonLocked(),
		Settle:      o.settleButtonLocked(order),
		Order:       order,
		Pending: Pending{
			Approve:     o.inFlight[domain.ActionApprove],
			PlaceOrder:  o.inFlight[domain.ActionPlaceOrder],
			SettleOrder: o.inFlight[domain.ActionSettleOrder],
		},
		Time: o.clock.Now(),
	}
}

// buttonLocked derives the swap button and disables it while its write is pending.
func (o *Orchestrator) buttonLocked() domain.ButtonState {
	b := allowance.DeriveButton(allowance.ButtonInputs{
		Connected:  o.st.connected,
		ToToken:    o.st.to,
		FromAmount: domain.ParseAmount(o.st.fromAmount),
		Balance:    o.st.fromBalance,
		Approval:   o.st.approval,
	})
	if b.Action != domain.ActionNone && o.inFlight[b.Action] {
		b.Enabled = false
		b.Pending = true
	}
	return b
}

func (o *Orchestrator) settleButtonLocked(order lifecycle.Snapshot) domain.ButtonState {
	b := domain.ButtonState{
		Kind:   domain.ButtonSettle,
		Label:  labelSettle,
		Action: domain.ActionSettleOrder,
	}
	switch {
	case o.inFlight[domain.ActionSettleOrder]:
		b.Pending = true
	case o.st.connected && order.Ready && order.Trader == o.st.trader:
		b.Enabled = true
	}
	return b
}
