package allowance

import (
	"github.com/shopspring/decimal"

	"spotdex/internal/domain"
)

// Approval is the allowance outcome fed into button derivation.
type Approval int

const (
	// ApprovalUnknown means the allowance read failed or has not completed.
	ApprovalUnknown Approval = iota
	// ApprovalRequired means the allowance is below the amount.
	ApprovalRequired
	// ApprovalGranted means the allowance covers the amount.
	ApprovalGranted
)

// String returns the approval name.
func (a Approval) String() string {
	switch a {
	case ApprovalRequired:
		return "required"
	case ApprovalGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// ApprovalFrom maps a NeedsApproval result to an Approval.
func ApprovalFrom(needsApproval bool, err error) Approval {
	switch {
	case err != nil:
		return ApprovalUnknown
	case needsApproval:
		return ApprovalRequired
	default:
		return ApprovalGranted
	}
}

// Button labels.
const (
	LabelConnect              = "Connect Wallet"
	LabelSelectToken          = "Select a Token"
	LabelEnterAmount          = "Enter Amount"
	LabelInsufficientBalance  = "Insufficient Balance"
	LabelAllowanceUnavailable = "Allowance Unavailable"
	LabelApprove              = "Approve"
	LabelSubmitOrder          = "Submit Order"
)

// ButtonInputs is everything the swap button depends on.
type ButtonInputs struct {
	Connected bool
	// ToToken is the destination symbol, empty when none is chosen.
	ToToken    string
	FromAmount decimal.Decimal
	Balance    decimal.Decimal
	Approval   Approval
}

// RequiresBalance reports whether inputs have reached the point where the source balance matters.
func RequiresBalance(in ButtonInputs) bool {
	return in.Connected && in.ToToken != "" && in.FromAmount.IsPositive()
}

// RequiresAllowance reports whether the allowance has to be read to derive the button.
func RequiresAllowance(in ButtonInputs) bool {
	return RequiresBalance(in) && in.FromAmount.LessThanOrEqual(in.Balance)
}

// DeriveButton evaluates the button rules in priority order; exactly one applies.
func DeriveButton(in ButtonInputs) domain.ButtonState {
	switch {
	case !in.Connected:
		return domain.ButtonState{Kind: domain.ButtonConnect, Label: LabelConnect}
	case in.ToToken == "":
		return domain.ButtonState{Kind: domain.ButtonSelectToken, Label: LabelSelectToken}
	case !in.FromAmount.IsPositive():
		return domain.ButtonState{Kind: domain.ButtonEnterAmount, Label: LabelEnterAmount}
	case in.FromAmount.GreaterThan(in.Balance):
		return domain.ButtonState{Kind: domain.ButtonInsufficientBalance, Label: LabelInsufficientBalance}
	}

	switch in.Approval {
	case ApprovalRequired:
		return domain.ButtonState{Kind: domain.ButtonApprove, Label: LabelApprove, Enabled: true, Action: domain.ActionApprove}
	case ApprovalGranted:
		return domain.ButtonState{Kind: domain.ButtonSubmitOrder, Label: LabelSubmitOrder, Enabled: true, Action: domain.ActionPlaceOrder}
	default:
		return domain.ButtonState{Kind: domain.ButtonAllowanceUnavailable, Label: LabelAllowanceUnavailable}
	}
}
