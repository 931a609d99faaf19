package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotdex/internal/domain"
	"spotdex/internal/metrics"
	"spotdex/internal/pubsub"
	"spotdex/internal/quote"
	"spotdex/internal/schedule"
)

// Default timer intervals.
const (
	DefaultTickInterval        = time.Second
	DefaultPollInterval        = 15 * time.Second
	DefaultRateRefreshInterval = 30 * time.Second
)

// OrderSource returns the trader's most recent order placed after minTimestamp.
// *indexer.Client satisfies it.
type OrderSource interface {
	LatestOrder(ctx context.Context, trader common.Address, minTimestamp int64) (*domain.Order, error)
}

// TokenIndex resolves contract addresses to registry descriptors.
type TokenIndex interface {
	ByAddress(addr common.Address) (domain.Token, bool)
}

// Config holds the dependencies of a Monitor.
type Config struct {
	// Orders is the external order index.
	Orders OrderSource
	// Rates computes live rate and fee for the active order's pair.
	Rates quote.RateSource
	// Tokens resolves the order's token addresses.
	Tokens TokenIndex
	// Clock defaults to the system clock.
	Clock schedule.Clock
	// Thresholds default to 120s/300s.
	Thresholds Thresholds
	// TickInterval is the countdown recompute interval.
	TickInterval time.Duration
	// PollInterval is the order index poll interval.
	PollInterval time.Duration
	// RateRefreshInterval is the live rate refresh interval.
	RateRefreshInterval time.Duration
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// ActiveOrder is the display view of the tracked order. Values are replaced, never mutated.
type ActiveOrder struct {
	ID         string
	FromSymbol string
	ToSymbol   string
	FromToken  common.Address
	ToToken    common.Address
	// FromAmount is human readable; zero when the token is not in the registry.
	FromAmount decimal.Decimal
	PlacedAt   int64
	// PlacementRate is the rate recorded when the order was placed.
	PlacementRate decimal.Decimal
	// LiveRate is the current rate for the pair, zero when unavailable.
	LiveRate decimal.Decimal
	FeeBps   int64
	// EstimatedToAmount is what settling now would yield at LiveRate after fee.
	EstimatedToAmount decimal.Decimal
	// RateUpdatedAt is zero until the first live rate read completes.
	RateUpdatedAt time.Time
}

// Snapshot is the monitor's complete published state.
type Snapshot struct {
	// Trader is the zero address while disconnected.
	Trader           common.Address
	State            domain.LifecycleState
	RemainingSeconds int64
	// CooldownRemaining is non-zero only in COOLDOWN.
	CooldownRemaining int64
	// WindowRemaining counts down to the end of the settlement window.
	WindowRemaining int64
	// Ready is set while a settlement is valid.
	Ready bool
	// DisplaySeconds is the cooldown remainder, or the window remainder once the cooldown is over.
	DisplaySeconds int64
	Order          *ActiveOrder
	UpdatedAt      time.Time
}

// Monitor polls the order index for the trader's active order and derives its
// lifecycle every tick. It owns three loops, each restarted when its
// dependencies change: the poll loop (trader), and the tick and rate loops
// (tracked order).
type Monitor struct {
	orders     OrderSource
	rates      quote.RateSource
	tokens     TokenIndex
	clock      schedule.Clock
	thresholds Thresholds
	logger     *zap.Logger

	pollLoop *schedule.Loop
	tickLoop *schedule.Loop
	rateLoop *schedule.Loop
	feed     *pubsub.Feed[Snapshot]

	// traderMu serializes trader changes, poll loop restarts included.
	// poll never takes it, so it may be held while the poll loop stops.
	traderMu sync.Mutex
	// loopsMu orders dependency changes with loop restarts.
	loopsMu sync.Mutex

	mu        sync.Mutex
	trader    common.Address
	epoch     uint64
	order     *domain.Order
	active    *ActiveOrder
	gen       uint64
	settledID string
	expired   bool
	running   bool
	snapshot  Snapshot
}

// NewMonitor creates a monitor with no trader.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.SystemClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RateRefreshInterval <= 0 {
		cfg.RateRefreshInterval = DefaultRateRefreshInterval
	}

	m := &Monitor{
		orders:     cfg.Orders,
		rates:      cfg.Rates,
		tokens:     cfg.Tokens,
		clock:      cfg.Clock,
		thresholds: cfg.Thresholds.withDefaults(),
		logger:     cfg.Logger,
		pollLoop:   schedule.NewLoop("order_poll", cfg.PollInterval, cfg.Logger),
		tickLoop:   schedule.NewLoop("lifecycle_tick", cfg.TickInterval, cfg.Logger),
		rateLoop:   schedule.NewLoop("order_rate", cfg.RateRefreshInterval, cfg.Logger),
		feed:       pubsub.NewFeed[Snapshot](pubsub.DefaultBuffer),
	}
	m.snapshot = Snapshot{State: domain.LifecycleNone, UpdatedAt: m.clock.Now()}
	return m
}

// Thresholds returns the phase boundaries in use.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Run blocks until ctx is done, then stops every loop.
func (m *Monitor) Run(ctx context.Context) error {
	<-ctx.Done()
	m.Stop()
	return nil
}

// SetTrader switches the tracked trader. The zero address disconnects.
// The previous trader's order is dropped at once and the poll loop restarts
// bound to the new trader, polling immediately.
func (m *Monitor) SetTrader(trader common.Address) {
	m.traderMu.Lock()
	defer m.traderMu.Unlock()

	m.loopsMu.Lock()

	m.mu.Lock()
	if m.running && m.trader == trader {
		m.mu.Unlock()
		m.loopsMu.Unlock()
		return
	}
	m.trader = trader
	m.epoch++
	epoch := m.epoch
	m.running = trader != (common.Address{})
	m.clearLocked()
	m.expired = false
	m.settledID = ""
	snap := m.rebuildLocked()
	m.mu.Unlock()

	m.tickLoop.Stop()
	m.rateLoop.Stop()
	m.loopsMu.Unlock()

	m.publish(snap)

	if trader == (common.Address{}) {
		m.pollLoop.Stop()
		m.logger.Info("order monitor idle")
		return
	}

	m.logger.Info("order monitor tracking trader", zap.String("trader", trader.Hex()))
	m.pollLoop.StartNow(func(ctx context.Context) {
		m.poll(ctx, epoch, trader)
	})
}

// Trader returns the tracked trader, the zero address when none.
func (m *Monitor) Trader() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trader
}

// Poll queries the order index once for the current trader.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.Lock()
	epoch, trader, running := m.epoch, m.trader, m.running
	m.mu.Unlock()

	if running {
		m.poll(ctx, epoch, trader)
	}
}

func (m *Monitor) poll(ctx context.Context, epoch uint64, trader common.Address) {
	now := m.clock.Now()
	since := now.Unix() - int64(m.thresholds.Window/time.Second)

	order, err := m.orders.LatestOrder(ctx, trader, since)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// An unreadable index means no active order.
		metrics.OrderPolls.WithLabelValues(metrics.ResultError).Inc()
		m.logger.Warn("order poll failed", zap.String("trader", trader.Hex()), zap.Error(err))
		order = nil
	} else {
		metrics.OrderPolls.WithLabelValues(metrics.ResultOK).Inc()
	}

	m.loopsMu.Lock()
	defer m.loopsMu.Unlock()

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.logger.Debug("discarding poll for previous trader", zap.String("trader", trader.Hex()))
		return
	}

	if order != nil && order.ID == m.settledID {
		order = nil
	}
	if order != nil && Derive(order.PlacedAt, now, m.thresholds).State == domain.LifecycleExpired {
		order = nil
	}

	switch {
	case order == nil:
		hadOrder := m.order != nil || m.expired
		m.clearLocked()
		m.expired = false
		snap := m.rebuildLocked()
		m.mu.Unlock()

		if hadOrder {
			m.tickLoop.Stop()
			m.rateLoop.Stop()
			m.logger.Info("no active order", zap.String("trader", trader.Hex()))
		}
		m.publish(snap)

	case m.order != nil && m.order.ID == order.ID:
		// Same order: the countdown keeps running from its placement time.
		m.mu.Unlock()

	default:
		m.order = order
		m.expired = false
		m.gen++
		gen := m.gen
		active := m.describe(order)
		m.active = active
		snap := m.rebuildLocked()
		m.mu.Unlock()

		m.logger.Info("tracking order",
			zap.String("order_id", order.ID),
			zap.String("pair", active.FromSymbol+"/"+active.ToSymbol),
			zap.Int64("placed_at", order.PlacedAt),
			zap.String("state", string(snap.State)))
		m.publish(snap)

		m.tickLoop.Start(func(ctx context.Context) {
			m.tick(gen)
		})

		if active.FromSymbol != "" && active.ToSymbol != "" {
			from, to := active.FromSymbol, active.ToSymbol
			m.refreshRate(ctx, gen, from, to)
			m.rateLoop.Start(func(ctx context.Context) {
				m.refreshRate(ctx, gen, from, to)
			})
		} else {
			m.rateLoop.Stop()
		}
	}
}

// describe builds the display view of a newly tracked order.
func (m *Monitor) describe(order *domain.Order) *ActiveOrder {
	active := &ActiveOrder{
		ID:            order.ID,
		FromToken:     order.FromToken,
		ToToken:       order.ToToken,
		FromAmount:    decimal.Zero,
		PlacedAt:      order.PlacedAt,
		PlacementRate: order.PlacementRate(),
	}
	if t, ok := m.tokens.ByAddress(order.FromToken); ok {
		active.FromSymbol = t.Symbol
		active.FromAmount = domain.FromBaseUnits(order.FromAmount, t.Decimals)
	} else {
		m.logger.Warn("order token not in registry", zap.String("token", order.FromToken.Hex()))
	}
	if t, ok := m.tokens.ByAddress(order.ToToken); ok {
		active.ToSymbol = t.Symbol
	} else {
		m.logger.Warn("order token not in registry", zap.String("token", order.ToToken.Hex()))
	}
	return active
}

// Tick recomputes the countdown now.
func (m *Monitor) Tick() {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.tick(gen)
}

func (m *Monitor) tick(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.order == nil {
		m.mu.Unlock()
		return
	}
	snap := m.rebuildLocked()
	if snap.State == domain.LifecycleExpired {
		// The order stops being active; the next poll confirms NONE.
		m.logger.Info("order expired", zap.String("order_id", m.order.ID))
		m.order = nil
		m.active = nil
		m.expired = true
		m.gen++
		snap = m.rebuildLocked()
	}
	m.mu.Unlock()

	m.publish(snap)
}

// RefreshRate re-reads the live rate and fee of the active order's pair.
func (m *Monitor) RefreshRate(ctx context.Context) {
	m.mu.Lock()
	gen, active := m.gen, m.active
	m.mu.Unlock()

	if active == nil || active.FromSymbol == "" || active.ToSymbol == "" {
		return
	}
	m.refreshRate(ctx, gen, active.FromSymbol, active.ToSymbol)
}

func (m *Monitor) refreshRate(ctx context.Context, gen uint64, from, to string) {
	rate := m.rates.ExchangeRate(ctx, from, to)
	fee := m.rates.FeeRate(ctx, from, to)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.active == nil {
		m.mu.Unlock()
		m.logger.Debug("discarding rate for previous order", zap.String("pair", from+"/"+to))
		return
	}

	next := *m.active
	next.LiveRate = rate
	next.FeeBps = fee
	next.EstimatedToAmount = quote.Compute(domain.QuoteRequest{
		From:       from,
		To:         to,
		FromAmount: next.FromAmount.String(),
	}, rate, fee).ToAmount
	next.RateUpdatedAt = m.clock.Now()
	m.active = &next
	snap := m.rebuildLocked()
	m.mu.Unlock()

	m.publish(snap)
}

// MarkSettled forces NONE after a confirmed settlement. The settled id is
// remembered so a poll that still returns it does not revive it.
func (m *Monitor) MarkSettled(orderID string) {
	m.loopsMu.Lock()
	defer m.loopsMu.Unlock()

	m.mu.Lock()
	if orderID == "" && m.order != nil {
		orderID = m.order.ID
	}
	if orderID != "" {
		m.settledID = orderID
	}
	m.clearLocked()
	m.expired = false
	snap := m.rebuildLocked()
	m.mu.Unlock()

	m.tickLoop.Stop()
	m.rateLoop.Stop()

	m.logger.Info("order settled", zap.String("order_id", orderID))
	m.publish(snap)
}

// Snapshot returns the latest published state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Subscribe streams every published snapshot until ctx ends.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Snapshot {
	return m.feed.Subscribe(ctx)
}

// Stop halts every loop permanently.
func (m *Monitor) Stop() {
	m.traderMu.Lock()
	defer m.traderMu.Unlock()

	m.loopsMu.Lock()
	m.mu.Lock()
	m.epoch++
	m.running = false
	m.gen++
	m.mu.Unlock()
	m.loopsMu.Unlock()

	m.pollLoop.Close()
	m.tickLoop.Close()
	m.rateLoop.Close()
}

// clearLocked drops the tracked order. m.mu must be held.
func (m *Monitor) clearLocked() {
	if m.order != nil || m.active != nil {
		m.gen++
	}
	m.order = nil
	m.active = nil
}

// rebuildLocked derives and stores a fresh snapshot. m.mu must be held.
func (m *Monitor) rebuildLocked() Snapshot {
	now := m.clock.Now()
	snap := Snapshot{
		Trader:    m.trader,
		State:     domain.LifecycleNone,
		Order:     m.active,
		UpdatedAt: now,
	}

	switch {
	case m.order != nil:
		lc := Derive(m.order.PlacedAt, now, m.thresholds)
		snap.State = lc.State
		snap.RemainingSeconds = lc.RemainingSeconds

		elapsed := now.Unix() - m.order.PlacedAt
		if elapsed < 0 {
			elapsed = 0
		}
		switch lc.State {
		case domain.LifecycleCooldown:
			snap.CooldownRemaining = lc.RemainingSeconds
			snap.WindowRemaining = int64(m.thresholds.Window/time.Second) - elapsed
			snap.DisplaySeconds = snap.CooldownRemaining
		case domain.LifecycleSettleable:
			snap.WindowRemaining = lc.RemainingSeconds
			snap.DisplaySeconds = snap.WindowRemaining
			snap.Ready = true
		}
	case m.expired:
		snap.State = domain.LifecycleExpired
	}

	if snap.State != m.snapshot.State {
		m.logger.Debug("lifecycle transition",
			zap.String("from", string(m.snapshot.State)),
			zap.String("to", string(snap.State)))
	}
	m.snapshot = snap
	return snap
}

func (m *Monitor) publish(snap Snapshot) {
	states := make([]string, len(AllStates))
	for i, s := range AllStates {
		states[i] = string(s)
	}
	metrics.SetLifecycleState(string(snap.State), states)
	m.feed.Publish(snap)
}
