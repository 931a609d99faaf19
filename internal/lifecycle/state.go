// Package lifecycle tracks the trader's active order through its cooldown and
// settlement window.
package lifecycle

import (
	"time"

	"spotdex/internal/domain"
)

// Default thresholds measured from the order's placement time.
const (
	DefaultCooldown = 120 * time.Second
	DefaultWindow   = 300 * time.Second
)

// Thresholds are the phase boundaries: COOLDOWN before Cooldown, SETTLEABLE
// until Window, EXPIRED afterwards.
type Thresholds struct {
	Cooldown time.Duration
	Window   time.Duration
}

// DefaultThresholds returns the 120s/300s boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Cooldown: DefaultCooldown, Window: DefaultWindow}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Cooldown <= 0 {
		t.Cooldown = DefaultCooldown
	}
	if t.Window <= 0 {
		t.Window = DefaultWindow
	}
	return t
}

// Derive returns the lifecycle of an order placed at placedAt (unix seconds).
// Elapsed time is whole seconds and never negative, so an order stamped slightly
// in the future reads as just placed.
func Derive(placedAt int64, now time.Time, t Thresholds) domain.OrderLifecycle {
	t = t.withDefaults()
	cooldown := int64(t.Cooldown / time.Second)
	window := int64(t.Window / time.Second)

	elapsed := now.Unix() - placedAt
	if elapsed < 0 {
		elapsed = 0
	}

	switch {
	case elapsed < cooldown:
		return domain.OrderLifecycle{State: domain.LifecycleCooldown, RemainingSeconds: cooldown - elapsed}
	case elapsed < window:
		return domain.OrderLifecycle{State: domain.LifecycleSettleable, RemainingSeconds: window - elapsed}
	default:
		return domain.OrderLifecycle{State: domain.LifecycleExpired}
	}
}

// DeriveOrder is Derive for an optional order; nil yields NONE.
func DeriveOrder(order *domain.Order, now time.Time, t Thresholds) domain.OrderLifecycle {
	if order == nil {
		return domain.OrderLifecycle{State: domain.LifecycleNone}
	}
	return Derive(order.PlacedAt, now, t)
}

// AllStates lists every lifecycle state.
var AllStates = []domain.LifecycleState{
	domain.LifecycleNone,
	domain.LifecycleCooldown,
	domain.LifecycleSettleable,
	domain.LifecycleExpired,
}
