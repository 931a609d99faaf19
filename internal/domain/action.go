package domain

// ActionKind identifies one of the on-chain writes a trader can trigger.
type ActionKind string

const (
	// ActionNone means the control is not bound to any write.
	ActionNone ActionKind = ""
	// ActionApprove grants the exchange contract an allowance on the source token.
	ActionApprove ActionKind = "approve"
	// ActionPlaceOrder submits a new order to the exchange contract.
	ActionPlaceOrder ActionKind = "place_order"
	// ActionSettleOrder settles the trader's active order at the latest rate.
	ActionSettleOrder ActionKind = "settle_order"
)

// ButtonKind identifies which of the mutually exclusive main-button states is active.
type ButtonKind string

const (
	ButtonConnect              ButtonKind = "connect"
	ButtonSelectToken          ButtonKind = "select_token"
	ButtonEnterAmount          ButtonKind = "enter_amount"
	ButtonInsufficientBalance  ButtonKind = "insufficient_balance"
	ButtonAllowanceUnavailable ButtonKind = "allowance_unavailable"
	ButtonApprove              ButtonKind = "approve"
	ButtonSubmitOrder          ButtonKind = "submit_order"
	// ButtonSettle is the orders panel control, independent of the swap button.
	ButtonSettle ButtonKind = "settle"
)

// ButtonState is the derived state of the swap panel's main control.
type ButtonState struct {
	Kind    ButtonKind
	Label   string
	Enabled bool
	// Action is the write the control is bound to when enabled.
	Action ActionKind
	// Pending is set while the bound write is in flight; the control is disabled meanwhile.
	Pending bool
}
