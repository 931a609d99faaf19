package lifecycle_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spotdex/internal/domain"
	"spotdex/internal/lifecycle"
	"spotdex/internal/registry"
	"spotdex/internal/schedule"
)

const t0 = int64(1_700_000_000)

var (
	traderA = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	traderB = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	weth    = domain.Token{
		Symbol:   "WETH",
		Address:  common.HexToAddress("0x4200000000000000000000000000000000000006"),
		Oracle:   common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		Decimals: 18,
	}
	usdc = domain.Token{
		Symbol:   "USDC",
		Address:  common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Oracle:   common.HexToAddress("0x00000000000000000000000000000000000000e2"),
		Decimals: 6,
	}
)

func TestDerive_Boundaries(t *testing.T) {
	t.Parallel()

	th := lifecycle.DefaultThresholds()
	tests := []struct {
		elapsed   int64
		state     domain.LifecycleState
		remaining int64
	}{
		{-5, domain.LifecycleCooldown, 120},
		{0, domain.LifecycleCooldown, 120},
		{119, domain.LifecycleCooldown, 1},
		{120, domain.LifecycleSettleable, 180},
		{130, domain.LifecycleSettleable, 170},
		{299, domain.LifecycleSettleable, 1},
		{300, domain.LifecycleExpired, 0},
		{1000, domain.LifecycleExpired, 0},
	}

	for _, tt := range tests {
		got := lifecycle.Derive(t0, time.Unix(t0+tt.elapsed, 0), th)
		assert.Equal(t, tt.state, got.State, "elapsed %d", tt.elapsed)
		assert.Equal(t, tt.remaining, got.RemainingSeconds, "elapsed %d", tt.elapsed)
	}

	assert.Equal(t, domain.LifecycleNone, lifecycle.DeriveOrder(nil, time.Unix(t0, 0), th).State)
}

func TestDerive_CustomThresholds(t *testing.T) {
	t.Parallel()

	th := lifecycle.Thresholds{Cooldown: 10 * time.Second, Window: 20 * time.Second}
	assert.Equal(t, domain.LifecycleSettleable, lifecycle.Derive(t0, time.Unix(t0+10, 0), th).State)
	assert.Equal(t, domain.LifecycleExpired, lifecycle.Derive(t0, time.Unix(t0+20, 0), th).State)
}

// fakeOrders returns a scripted order per trader.
type fakeOrders struct {
	mu     sync.Mutex
	orders map[common.Address]*domain.Order
	err    error
	calls  int
	since  int64
	// hold, when set, blocks LatestOrder until closed.
	hold chan struct{}
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[common.Address]*domain.Order)}
}

func (f *fakeOrders) LatestOrder(ctx context.Context, trader common.Address, minTimestamp int64) (*domain.Order, error) {
	f.mu.Lock()
	f.calls++
	f.since = minTimestamp
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	o := f.orders[trader]
	if o == nil || o.PlacedAt <= minTimestamp {
		return nil, nil
	}
	return o, nil
}

func (f *fakeOrders) set(trader common.Address, o *domain.Order) {
	f.mu.Lock()
	f.orders[trader] = o
	f.mu.Unlock()
}

func (f *fakeOrders) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRates struct {
	mu   sync.Mutex
	rate decimal.Decimal
	fee  int64
}

func (f *fakeRates) ExchangeRate(ctx context.Context, from, to string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate
}

func (f *fakeRates) FeeRate(ctx context.Context, from, to string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fee
}

func order(id string, trader common.Address, placedAt int64) *domain.Order {
	return &domain.Order{
		ID:             id,
		Trader:         trader,
		FromToken:      weth.Address,
		ToToken:        usdc.Address,
		FromAmount:     new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		FromTokenPrice: big.NewInt(3000_00000000),
		ToTokenPrice:   big.NewInt(1_00000000),
		PlacedAt:       placedAt,
	}
}

type harness struct {
	monitor *lifecycle.Monitor
	orders  *fakeOrders
	rates   *fakeRates
	clock   *schedule.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reg, err := registry.New([]domain.Token{weth, usdc})
	require.NoError(t, err)

	h := &harness{
		orders: newFakeOrders(),
		rates:  &fakeRates{rate: decimal.NewFromInt(3000), fee: 10},
		clock:  schedule.NewFakeClock(time.Unix(t0, 0)),
	}
	h.monitor = lifecycle.NewMonitor(lifecycle.Config{
		Orders: h.orders,
		Rates:  h.rates,
		Tokens: reg,
		Clock:  h.clock,
		// Loops fire only on demand; tests drive Poll and Tick directly.
		TickInterval:        time.Hour,
		PollInterval:        time.Hour,
		RateRefreshInterval: time.Hour,
		Logger:              zaptest.NewLogger(t),
	})
	t.Cleanup(h.monitor.Stop)
	return h
}

// connect sets the trader and waits for the immediate first poll.
func (h *harness) connect(t *testing.T, trader common.Address) {
	t.Helper()
	before := h.orders.callCount()
	h.monitor.SetTrader(trader)
	require.Eventually(t, func() bool { return h.orders.callCount() > before }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.monitor.Trader() == trader }, time.Second, time.Millisecond)
}

func (h *harness) at(elapsed int64) {
	h.clock.Set(time.Unix(t0+elapsed, 0))
}

func TestMonitor_PollScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(10)
	h.connect(t, traderA)

	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().State == domain.LifecycleCooldown
	}, time.Second, time.Millisecond)

	snap := h.monitor.Snapshot()
	assert.Equal(t, int64(110), snap.RemainingSeconds)
	assert.Equal(t, int64(110), snap.CooldownRemaining)
	assert.Equal(t, int64(290), snap.WindowRemaining)
	assert.Equal(t, int64(110), snap.DisplaySeconds)
	assert.False(t, snap.Ready)

	// Poll at t0+130 finds the same id.
	h.at(130)
	h.monitor.Poll(context.Background())
	h.monitor.Tick()
	snap = h.monitor.Snapshot()
	assert.Equal(t, domain.LifecycleSettleable, snap.State)
	assert.Equal(t, int64(170), snap.RemainingSeconds)
	assert.Equal(t, int64(0), snap.CooldownRemaining)
	assert.Equal(t, int64(170), snap.DisplaySeconds)
	assert.True(t, snap.Ready)
	require.NotNil(t, snap.Order)
	assert.Equal(t, int64(t0), snap.Order.PlacedAt, "same id must not reset placement time")

	// Poll at t0+310: the window is exceeded and nothing matches.
	h.at(310)
	h.monitor.Poll(context.Background())
	snap = h.monitor.Snapshot()
	assert.Equal(t, domain.LifecycleNone, snap.State)
	assert.Nil(t, snap.Order)

	h.orders.mu.Lock()
	since := h.orders.since
	h.orders.mu.Unlock()
	assert.Equal(t, t0+310-300, since)
}

func TestMonitor_ActiveOrderView(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(5)
	h.connect(t, traderA)

	require.Eventually(t, func() bool {
		o := h.monitor.Snapshot().Order
		return o != nil && !o.RateUpdatedAt.IsZero()
	}, time.Second, time.Millisecond)

	o := h.monitor.Snapshot().Order
	assert.Equal(t, "WETH", o.FromSymbol)
	assert.Equal(t, "USDC", o.ToSymbol)
	assert.True(t, o.FromAmount.Equal(decimal.NewFromInt(1)), "fromAmount = %s", o.FromAmount)
	assert.True(t, o.PlacementRate.Equal(decimal.NewFromInt(3000)))
	assert.True(t, o.LiveRate.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, int64(10), o.FeeBps)
	assert.True(t, o.EstimatedToAmount.Equal(decimal.NewFromInt(2997)), "estimate = %s", o.EstimatedToAmount)

	h.rates.mu.Lock()
	h.rates.rate = decimal.NewFromInt(3100)
	h.rates.mu.Unlock()
	h.monitor.RefreshRate(context.Background())
	assert.True(t, h.monitor.Snapshot().Order.LiveRate.Equal(decimal.NewFromInt(3100)))
}

func TestMonitor_NewOrderReplacesTracked(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(200)
	h.connect(t, traderA)
	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().State == domain.LifecycleSettleable
	}, time.Second, time.Millisecond)

	h.orders.set(traderA, order("order-2", traderA, t0+190))
	h.monitor.Poll(context.Background())

	snap := h.monitor.Snapshot()
	assert.Equal(t, domain.LifecycleCooldown, snap.State)
	assert.Equal(t, int64(110), snap.RemainingSeconds)
	assert.Equal(t, "order-2", snap.Order.ID)
}

func TestMonitor_TickExpires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(290)
	h.connect(t, traderA)
	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().State == domain.LifecycleSettleable
	}, time.Second, time.Millisecond)

	h.at(300)
	h.monitor.Tick()
	snap := h.monitor.Snapshot()
	assert.Equal(t, domain.LifecycleExpired, snap.State)
	assert.False(t, snap.Ready)
	assert.Nil(t, snap.Order)

	h.monitor.Poll(context.Background())
	assert.Equal(t, domain.LifecycleNone, h.monitor.Snapshot().State)
}

func TestMonitor_MarkSettled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(150)
	h.connect(t, traderA)
	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().Ready
	}, time.Second, time.Millisecond)

	h.monitor.MarkSettled("order-1")
	assert.Equal(t, domain.LifecycleNone, h.monitor.Snapshot().State)

	// The index still reports the settled order inside the window.
	h.at(160)
	h.monitor.Poll(context.Background())
	assert.Equal(t, domain.LifecycleNone, h.monitor.Snapshot().State)

	// A later order is tracked normally.
	h.orders.set(traderA, order("order-2", traderA, t0+155))
	h.monitor.Poll(context.Background())
	assert.Equal(t, "order-2", h.monitor.Snapshot().Order.ID)
}

func TestMonitor_PollErrorMeansNone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(10)
	h.connect(t, traderA)
	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().State == domain.LifecycleCooldown
	}, time.Second, time.Millisecond)

	h.orders.mu.Lock()
	h.orders.err = assert.AnError
	h.orders.mu.Unlock()

	h.monitor.Poll(context.Background())
	assert.Equal(t, domain.LifecycleNone, h.monitor.Snapshot().State)
}

func TestMonitor_TraderChangeDiscardsStalePoll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-a", traderA, t0))
	h.at(10)
	h.connect(t, traderA)
	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().State == domain.LifecycleCooldown
	}, time.Second, time.Millisecond)

	// Hold a manual poll for trader A while switching to B.
	hold := make(chan struct{})
	h.orders.mu.Lock()
	h.orders.hold = hold
	h.orders.mu.Unlock()

	before := h.orders.callCount()
	done := make(chan struct{})
	go func() {
		h.monitor.Poll(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return h.orders.callCount() > before }, time.Second, time.Millisecond)

	h.monitor.SetTrader(traderB)
	assert.Equal(t, domain.LifecycleNone, h.monitor.Snapshot().State)
	assert.Equal(t, traderB, h.monitor.Snapshot().Trader)

	h.orders.mu.Lock()
	h.orders.hold = nil
	h.orders.mu.Unlock()
	close(hold)
	<-done

	// Trader B has no orders; A's late result must not appear.
	require.Eventually(t, func() bool { return h.orders.callCount() >= before+2 }, time.Second, time.Millisecond)
	h.monitor.Poll(context.Background())
	assert.Equal(t, domain.LifecycleNone, h.monitor.Snapshot().State)
	assert.Nil(t, h.monitor.Snapshot().Order)
}

func TestMonitor_Subscribe(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := h.monitor.Subscribe(ctx)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(10)
	h.monitor.SetTrader(traderA)

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.State == domain.LifecycleCooldown {
				return
			}
		case <-deadline:
			t.Fatal("no cooldown snapshot published")
		}
	}
}

func TestMonitor_Disconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(10)
	h.connect(t, traderA)
	require.Eventually(t, func() bool {
		return h.monitor.Snapshot().Order != nil
	}, time.Second, time.Millisecond)

	h.monitor.SetTrader(common.Address{})
	snap := h.monitor.Snapshot()
	assert.Equal(t, domain.LifecycleNone, snap.State)
	assert.Equal(t, common.Address{}, snap.Trader)

	calls := h.orders.callCount()
	h.monitor.Poll(context.Background())
	assert.Equal(t, calls, h.orders.callCount(), "no polls without a trader")
}

func TestMonitor_ConcurrentTraderChanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.orders.set(traderA, order("order-1", traderA, t0))
	h.at(10)

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.monitor.SetTrader(common.Address{})
		}()
		go func() {
			defer wg.Done()
			h.monitor.SetTrader(traderA)
		}()
		wg.Wait()

		tracking := h.monitor.Trader() != (common.Address{})
		require.Equal(t, tracking, h.monitor.PollRunning(), "iteration %d", i)
	}
}
