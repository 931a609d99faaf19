package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"spotdex/internal/domain"
	"spotdex/internal/lifecycle"
	"spotdex/internal/orchestrator"
)

// Amounts, rates and balances travel as decimal strings.

type tokenResponse struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Oracle   string `json:"oracle_address"`
	Decimals uint8  `json:"decimals"`
}

type quoteResponse struct {
	Available    bool   `json:"available"`
	ExchangeRate string `json:"exchange_rate"`
	FeeBps       int64  `json:"fee_bps"`
	FeePercent   string `json:"fee_percent"`
	FromAmount   string `json:"from_amount"`
	ToAmount     string `json:"to_amount"`
	FeeAmount    string `json:"fee_amount"`
}

type buttonResponse struct {
	Kind    domain.ButtonKind `json:"kind"`
	Label   string            `json:"label"`
	Enabled bool              `json:"enabled"`
	Action  domain.ActionKind `json:"action,omitempty"`
	Pending bool              `json:"pending"`
}

type pendingResponse struct {
	Approve     bool `json:"approve"`
	PlaceOrder  bool `json:"place_order"`
	SettleOrder bool `json:"settle_order"`
}

type activeOrderResponse struct {
	ID                string    `json:"id"`
	FromToken         string    `json:"from_token"`
	ToToken           string    `json:"to_token"`
	FromAddress       string    `json:"from_address"`
	ToAddress         string    `json:"to_address"`
	FromAmount        string    `json:"from_amount"`
	PlacedAt          int64     `json:"placed_at"`
	PlacementRate     string    `json:"placement_rate"`
	LiveRate          string    `json:"live_rate"`
	FeeBps            int64     `json:"fee_bps"`
	EstimatedToAmount string    `json:"estimated_to_amount"`
	RateUpdatedAt     time.Time `json:"rate_updated_at"`
}

type orderResponse struct {
	Trader            string                `json:"trader,omitempty"`
	State             domain.LifecycleState `json:"state"`
	RemainingSeconds  int64                 `json:"remaining_seconds"`
	CooldownRemaining int64                 `json:"cooldown_remaining"`
	WindowRemaining   int64                 `json:"window_remaining"`
	Ready             bool                  `json:"ready"`
	DisplaySeconds    int64                 `json:"display_seconds"`
	Active            *activeOrderResponse  `json:"active,omitempty"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

type sessionResponse struct {
	Version     uint64          `json:"version"`
	Connected   bool            `json:"connected"`
	Trader      string          `json:"trader,omitempty"`
	FromToken   string          `json:"from_token"`
	ToToken     string          `json:"to_token"`
	FromAmount  string          `json:"from_amount"`
	ToAmount    string          `json:"to_amount"`
	Quote       quoteResponse   `json:"quote"`
	FromBalance string          `json:"from_balance"`
	ToBalance   string          `json:"to_balance"`
	Approval    string          `json:"approval"`
	Button      buttonResponse  `json:"button"`
	Settle      buttonResponse  `json:"settle"`
	Pending     pendingResponse `json:"pending"`
	Order       orderResponse   `json:"order"`
	Time        time.Time       `json:"time"`
}

type submissionResponse struct {
	Action      domain.ActionKind `json:"action"`
	TxHash      string            `json:"tx_hash"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

type connectRequest struct {
	Trader string `json:"trader" binding:"required"`
}

type tokenRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// amountRequest edits one side of the swap. Side is "from" (default) or "to".
type amountRequest struct {
	Amount string `json:"amount"`
	Side   string `json:"side"`
}

// actionRequest carries the session version the caller saw. Zero skips the check.
type actionRequest struct {
	Version uint64 `json:"version"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func newTokenResponse(t domain.Token) tokenResponse {
	return tokenResponse{
		Symbol:   t.Symbol,
		Address:  t.Address.Hex(),
		Oracle:   t.Oracle.Hex(),
		Decimals: t.Decimals,
	}
}

func newQuoteResponse(q domain.Quote) quoteResponse {
	return quoteResponse{
		Available:    q.Available(),
		ExchangeRate: q.ExchangeRate.String(),
		FeeBps:       q.FeeBps,
		FeePercent:   q.FeePercent().String(),
		FromAmount:   q.FromAmount.String(),
		ToAmount:     q.ToAmount.String(),
		FeeAmount:    q.FeeAmount.String(),
	}
}

func newButtonResponse(b domain.ButtonState) buttonResponse {
	return buttonResponse{
		Kind:    b.Kind,
		Label:   b.Label,
		Enabled: b.Enabled,
		Action:  b.Action,
		Pending: b.Pending,
	}
}

func newOrderResponse(s lifecycle.Snapshot) orderResponse {
	resp := orderResponse{
		Trader:            addressString(s.Trader),
		State:             s.State,
		RemainingSeconds:  s.RemainingSeconds,
		CooldownRemaining: s.CooldownRemaining,
		WindowRemaining:   s.WindowRemaining,
		Ready:             s.Ready,
		DisplaySeconds:    s.DisplaySeconds,
		UpdatedAt:         s.UpdatedAt,
	}
	if resp.State == "" {
		resp.State = domain.LifecycleNone
	}
	if o := s.Order; o != nil {
		resp.Active = &activeOrderResponse{
			ID:                o.ID,
			FromToken:         o.FromSymbol,
			ToToken:           o.ToSymbol,
			FromAddress:       o.FromToken.Hex(),
			ToAddress:         o.ToToken.Hex(),
			FromAmount:        o.FromAmount.String(),
			PlacedAt:          o.PlacedAt,
			PlacementRate:     o.PlacementRate.String(),
			LiveRate:          o.LiveRate.String(),
			FeeBps:            o.FeeBps,
			EstimatedToAmount: o.EstimatedToAmount.String(),
			RateUpdatedAt:     o.RateUpdatedAt,
		}
	}
	return resp
}

func newSessionResponse(s orchestrator.Snapshot) sessionResponse {
	return sessionResponse{
		Version:     s.Version,
		Connected:   s.Connected,
		Trader:      addressString(s.Trader),
		FromToken:   s.FromToken,
		ToToken:     s.ToToken,
		FromAmount:  s.FromAmount,
		ToAmount:    s.ToAmount,
		Quote:       newQuoteResponse(s.Quote),
		FromBalance: s.FromBalance.String(),
		ToBalance:   s.ToBalance.String(),
		Approval:    s.Approval.String(),
		Button:      newButtonResponse(s.Button),
		Settle:      newButtonResponse(s.Settle),
		Pending: pendingResponse{
			Approve:     s.Pending.Approve,
			PlaceOrder:  s.Pending.PlaceOrder,
			SettleOrder: s.Pending.SettleOrder,
		},
		Order: newOrderResponse(s.Order),
		Time:  s.Time,
	}
}

func newSubmissionResponse(s *orchestrator.Submission) submissionResponse {
	return submissionResponse{
		Action:      s.Action,
		TxHash:      s.TxHash.Hex(),
		SubmittedAt: s.SubmittedAt,
	}
}
