package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papergains/trade-engine/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func buyReq(user, symbol string, shares int64, price float64) Request {
	return Request{
		UserID:    user,
		ContextID: model.PersonalContextID,
		Symbol:    symbol,
		Action:    model.ActionBuy,
		Shares:    shares,
		Price:     d(price),
	}
}

func cashSnapshot(cash float64) Snapshot {
	return Snapshot{Cash: d(cash), StartingCash: d(cash)}
}

func TestCheck_Cooldown(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)

	req := buyReq("u1", "AAPL", 1, 100)
	snap := cashSnapshot(100000)

	require.Nil(t, g.Check(req, snap), "first trade should be admitted")
	g.Record(req, decimal.Zero, clock.Now())

	denial := g.Check(req, snap)
	require.NotNil(t, denial, "immediate retrade of same symbol should be denied")
	assert.Equal(t, ReasonCooldown, denial.Reason)
	assert.Greater(t, denial.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, denial.RetryAfter, 2*time.Second)

	// A different symbol is not subject to the cooldown.
	assert.Nil(t, g.Check(buyReq("u1", "MSFT", 1, 100), snap))

	clock.Advance(2 * time.Second)
	assert.Nil(t, g.Check(req, snap), "trade after cooldown should be admitted")
}

func TestCheck_Frequency(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)
	snap := cashSnapshot(100000)

	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	for _, sym := range symbols {
		req := buyReq("u1", sym, 1, 10)
		require.Nil(t, g.Check(req, snap), "trade %s should be admitted", sym)
		g.Record(req, decimal.Zero, clock.Now())
		clock.Advance(3 * time.Second)
	}

	// 10 trades in the last 60s: the 11th is denied.
	denial := g.Check(buyReq("u1", "K", 1, 10), snap)
	require.NotNil(t, denial)
	assert.Equal(t, ReasonFrequency, denial.Reason)
	assert.Greater(t, denial.RetryAfter, time.Duration(0))

	// Another user is unaffected.
	assert.Nil(t, g.Check(buyReq("u2", "K", 1, 10), snap))

	// Once the oldest trade leaves the window, admission resumes.
	clock.Advance(denial.RetryAfter + time.Millisecond)
	assert.Nil(t, g.Check(buyReq("u1", "K", 1, 10), snap))
}

func TestCheck_Concentration(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)

	// $10,000 cash, no holdings: a $3,000 buy is 30% of the estimated
	// portfolio, over the 25% cap.
	snap := cashSnapshot(10000)
	denial := g.Check(buyReq("u1", "TSLA", 30, 100), snap)
	require.NotNil(t, denial)
	assert.Equal(t, ReasonConcentration, denial.Reason)
	assert.Zero(t, denial.RetryAfter, "concentration denial carries no retry hint")

	// A $2,000 buy is 20% and is admitted.
	assert.Nil(t, g.Check(buyReq("u1", "TSLA", 20, 100), snap))
}

func TestCheck_ConcentrationCountsExistingPosition(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)

	// $8,000 cash plus 20 TSLA @ 100: estimated portfolio $10,000.
	// Buying 10 more puts the position at $3,000, which is denied.
	snap := Snapshot{
		Cash:         d(8000),
		StartingCash: d(10000),
		Holdings: []model.Holding{
			{Symbol: "TSLA", Shares: 20, AverageCost: d(100), LastPrice: d(100)},
		},
	}
	denial := g.Check(buyReq("u1", "TSLA", 10, 100), snap)
	require.NotNil(t, denial)
	assert.Equal(t, ReasonConcentration, denial.Reason)
}

func TestCheck_ConcentrationIgnoresSells(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)

	snap := Snapshot{
		Cash:         d(1000),
		StartingCash: d(10000),
		Holdings: []model.Holding{
			{Symbol: "TSLA", Shares: 90, AverageCost: d(100), LastPrice: d(100)},
		},
	}
	req := Request{
		UserID:    "u1",
		ContextID: model.PersonalContextID,
		Symbol:    "TSLA",
		Action:    model.ActionSell,
		Shares:    10,
		Price:     d(100),
	}
	assert.Nil(t, g.Check(req, snap), "a sell always shrinks the position")
}

func TestCheck_DailyLossCircuitBreaker(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)
	snap := cashSnapshot(100000)

	// Realize a $5,000 loss.
	sell := Request{
		UserID:    "u1",
		ContextID: model.PersonalContextID,
		Symbol:    "NVDA",
		Action:    model.ActionSell,
		Shares:    50,
		Price:     d(100),
	}
	g.Record(sell, d(-5000), clock.Now())
	clock.Advance(time.Minute)

	denial := g.Check(buyReq("u1", "AAPL", 1, 10), snap)
	require.NotNil(t, denial)
	assert.Equal(t, ReasonDailyLoss, denial.Reason)

	// A different context for the same user is unaffected.
	leagueReq := buyReq("u1", "AAPL", 1, 10)
	leagueReq.ContextID = "league:42"
	assert.Nil(t, g.Check(leagueReq, snap))

	// The breaker resets at the day boundary.
	clock.Advance(24 * time.Hour)
	assert.Nil(t, g.Check(buyReq("u1", "AAPL", 1, 10), snap))
}

func TestCheck_DailyLossPctOfStartingCash(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.DailyLossPct = d(0.05)
	g := NewGuard(cfg, clock)

	// 5% of $20,000 starting cash = $1,000, which trips well before the
	// absolute default.
	snap := Snapshot{Cash: d(15000), StartingCash: d(20000)}
	g.Record(Request{
		UserID:    "u1",
		ContextID: model.PersonalContextID,
		Symbol:    "NVDA",
		Action:    model.ActionSell,
		Shares:    10,
		Price:     d(50),
	}, d(-1000), clock.Now())
	clock.Advance(time.Minute)

	denial := g.Check(buyReq("u1", "AAPL", 1, 10), snap)
	require.NotNil(t, denial)
	assert.Equal(t, ReasonDailyLoss, denial.Reason)
}

func TestCheck_DoesNotMutateWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)
	snap := cashSnapshot(100000)

	// Repeated checks without Record must never trip the frequency cap:
	// a denied or unapplied trade leaves no trace.
	for i := 0; i < 50; i++ {
		require.Nil(t, g.Check(buyReq("u1", "AAPL", 1, 10), snap))
	}
}

func TestRecord_EvictsOldEntries(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	g := NewGuard(DefaultConfig(), clock)
	snap := cashSnapshot(100000)

	g.Record(Request{
		UserID:    "u1",
		ContextID: model.PersonalContextID,
		Symbol:    "OLD",
		Action:    model.ActionSell,
		Shares:    1,
		Price:     d(10),
	}, d(-9000), clock.Now())

	// 25h later the loss entry is outside the retention window and the
	// breaker no longer sees it.
	clock.Advance(25 * time.Hour)
	assert.Nil(t, g.Check(buyReq("u1", "AAPL", 1, 10), snap))
}

func TestPreload_RebuildsDailyLoss(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	g := NewGuard(DefaultConfig(), clock)
	snap := cashSnapshot(100000)

	g.Preload([]model.Transaction{
		{
			UserID:      "u1",
			ContextID:   model.PersonalContextID,
			Symbol:      "NVDA",
			Shares:      -50,
			Price:       d(100),
			RealizedPnL: d(-6000),
			Timestamp:   now.Add(-time.Hour),
		},
		// Outside the retention window, must be skipped.
		{
			UserID:      "u2",
			ContextID:   model.PersonalContextID,
			Symbol:      "NVDA",
			Shares:      -50,
			Price:       d(100),
			RealizedPnL: d(-6000),
			Timestamp:   now.Add(-30 * time.Hour),
		},
	})

	denial := g.Check(buyReq("u1", "AAPL", 1, 10), snap)
	require.NotNil(t, denial)
	assert.Equal(t, ReasonDailyLoss, denial.Reason)

	assert.Nil(t, g.Check(buyReq("u2", "AAPL", 1, 10), snap))
}
