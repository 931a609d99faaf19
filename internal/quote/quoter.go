package quote

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotdex/internal/domain"
	"spotdex/internal/schedule"
)

// DefaultRefreshInterval is the background rate and fee refresh period.
const DefaultRefreshInterval = 30 * time.Second

// RateSource reads a pair's rate and fee. *Engine satisfies it.
type RateSource interface {
	ExchangeRate(ctx context.Context, from, to string) decimal.Decimal
	FeeRate(ctx context.Context, from, to string) int64
}

// Rates is the cached rate and fee of one ordered pair.
type Rates struct {
	From         string
	To           string
	ExchangeRate decimal.Decimal
	FeeBps       int64
	// UpdatedAt is zero until the first read for the pair completes.
	UpdatedAt time.Time
}

// Complete reports whether both sides of the pair are chosen.
func (r Rates) Complete() bool {
	return r.From != "" && r.To != ""
}

// QuoterConfig holds the dependencies of a Quoter.
type QuoterConfig struct {
	// Source reads rates and fees.
	Source RateSource
	// RefreshInterval is the background refresh period. Defaults to 30s.
	RefreshInterval time.Duration
	// Clock stamps UpdatedAt. Defaults to the system clock.
	Clock schedule.Clock
	// OnUpdate is called after each background refresh that was applied.
	OnUpdate func(Rates)
	// Name labels the refresh loop in logs and metrics.
	Name string
	// Logger is the logger instance. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// Quoter caches the rate and fee of the selected pair so amount edits can be
// quoted synchronously. A background loop bound to the current pair keeps the
// cache fresh; selecting a new pair restarts it.
type Quoter struct {
	source   RateSource
	clock    schedule.Clock
	onUpdate func(Rates)
	logger   *zap.Logger
	loop     *schedule.Loop

	// pairMu serializes SetPair so the running loop always matches the latest pair.
	pairMu sync.Mutex

	mu      sync.RWMutex
	rates   Rates
	version uint64
}

// NewQuoter creates a quoter with no pair selected.
func NewQuoter(cfg QuoterConfig) *Quoter {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.SystemClock{}
	}
	if cfg.Name == "" {
		cfg.Name = "quote_refresh"
	}
	return &Quoter{
		source:   cfg.Source,
		clock:    cfg.Clock,
		onUpdate: cfg.OnUpdate,
		logger:   cfg.Logger,
		loop:     schedule.NewLoop(cfg.Name, cfg.RefreshInterval, cfg.Logger),
	}
}

// SetPair selects the ordered pair, reads its rate and fee before returning, and
// restarts the refresh loop bound to the new pair. An incomplete pair stops the loop.
func (q *Quoter) SetPair(ctx context.Context, from, to string) Rates {
	q.pairMu.Lock()
	defer q.pairMu.Unlock()

	q.mu.Lock()
	q.version++
	version := q.version
	q.rates = Rates{From: from, To: to}
	q.mu.Unlock()

	if from == "" || to == "" {
		q.loop.Stop()
		return Rates{From: from, To: to}
	}

	rates, _ := q.fetch(ctx, version, from, to)
	q.loop.Start(func(ctx context.Context) {
		if r, ok := q.fetch(ctx, version, from, to); ok && q.onUpdate != nil {
			q.onUpdate(r)
		}
	})
	return rates
}

// Refresh re-reads the current pair now and returns the cache afterwards.
func (q *Quoter) Refresh(ctx context.Context) Rates {
	q.mu.RLock()
	version, from, to := q.version, q.rates.From, q.rates.To
	q.mu.RUnlock()

	if from != "" && to != "" {
		q.fetch(ctx, version, from, to)
	}
	return q.Rates()
}

// fetch reads the pair and stores the result if version is still current.
func (q *Quoter) fetch(ctx context.Context, version uint64, from, to string) (Rates, bool) {
	rate := q.source.ExchangeRate(ctx, from, to)
	fee := q.source.FeeRate(ctx, from, to)

	if ctx.Err() != nil {
		return Rates{}, false
	}

	rates := Rates{
		From:         from,
		To:           to,
		ExchangeRate: rate,
		FeeBps:       fee,
		UpdatedAt:    q.clock.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.version != version {
		q.logger.Debug("discarding stale rates",
			zap.String("from", from),
			zap.String("to", to))
		return Rates{}, false
	}
	q.rates = rates
	return rates, true
}

// Rates returns the cached rate and fee.
func (q *Quoter) Rates() Rates {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.rates
}

// Quote computes a forward quote for fromAmount from the cache.
func (q *Quoter) Quote(fromAmount string) domain.Quote {
	r := q.Rates()
	return Compute(domain.QuoteRequest{From: r.From, To: r.To, FromAmount: fromAmount}, r.ExchangeRate, r.FeeBps)
}

// QuoteReverse computes the quote for an edited destination amount from the cache.
func (q *Quoter) QuoteReverse(toAmount string) domain.Quote {
	r := q.Rates()
	return ReverseQuote(toAmount, r.ExchangeRate, r.FeeBps)
}

// Stop halts the refresh loop and forgets the pair.
func (q *Quoter) Stop() {
	q.SetPair(context.Background(), "", "")
}

// Close stops the refresh loop permanently.
func (q *Quoter) Close() {
	q.loop.Close()
}
