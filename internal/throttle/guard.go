// Package throttle implements trade admission control: a cooldown per
// symbol, a rolling trade-frequency cap, a position-concentration limit,
// and a daily realized-loss circuit breaker.
//
// State is a bounded per-user window of recent trades, sharded by user
// so unrelated users never contend on the same lock. The window is
// derived state: it is rebuilt from the transaction log on restart and
// is only ever updated after a trade has actually been applied.
package throttle

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papergains/trade-engine/internal/model"
)

// Reason identifies which admission check denied a trade.
type Reason string

const (
	ReasonCooldown      Reason = "cooldown"
	ReasonFrequency     Reason = "frequency"
	ReasonConcentration Reason = "concentration"
	ReasonDailyLoss     Reason = "daily_loss"
)

// Denial describes a rejected admission. RetryAfter is set only for the
// time-based denials (cooldown, frequency); concentration and daily-loss
// denials require behavioral, not time-based, resolution.
type Denial struct {
	Reason     Reason
	RetryAfter time.Duration
}

// Config holds the admission thresholds. A zero value for any field
// falls back to the default at construction.
type Config struct {
	// Cooldown is the minimum gap between trades of the same symbol by
	// the same user.
	Cooldown time.Duration

	// MaxTradesPerWindow caps trades across all symbols per user within
	// FrequencyWindow.
	MaxTradesPerWindow int
	FrequencyWindow    time.Duration

	// MaxConcentration is the maximum fraction of estimated portfolio
	// value held in a single symbol after a buy.
	MaxConcentration decimal.Decimal

	// DailyLossLimit is the realized-loss magnitude per context per day
	// that trips the circuit breaker. When DailyLossPct is positive the
	// limit is DailyLossPct * startingCash instead.
	DailyLossLimit decimal.Decimal
	DailyLossPct   decimal.Decimal

	// RetainFor bounds the window; entries older than this are evicted.
	RetainFor time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Cooldown:           2 * time.Second,
		MaxTradesPerWindow: 10,
		FrequencyWindow:    60 * time.Second,
		MaxConcentration:   decimal.NewFromFloat(0.25),
		DailyLossLimit:     decimal.NewFromInt(5000),
		RetainFor:          24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxTradesPerWindow <= 0 {
		c.MaxTradesPerWindow = d.MaxTradesPerWindow
	}
	if c.FrequencyWindow <= 0 {
		c.FrequencyWindow = d.FrequencyWindow
	}
	if c.MaxConcentration.LessThanOrEqual(decimal.Zero) {
		c.MaxConcentration = d.MaxConcentration
	}
	if c.DailyLossLimit.LessThanOrEqual(decimal.Zero) {
		c.DailyLossLimit = d.DailyLossLimit
	}
	if c.RetainFor <= 0 {
		c.RetainFor = d.RetainFor
	}
	return c
}

// Request is the candidate trade under admission.
type Request struct {
	UserID    string
	ContextID string
	Symbol    string
	Action    model.Action
	Shares    int64
	Price     decimal.Decimal
}

// Snapshot is a point-in-time read of the target account used by the
// concentration and daily-loss checks. The guard never locks the ledger
// itself.
type Snapshot struct {
	Cash         decimal.Decimal
	StartingCash decimal.Decimal
	Holdings     []model.Holding
}

type entry struct {
	at        time.Time
	contextID string
	symbol    string
	shares    int64
	realized  decimal.Decimal
}

type userWindow struct {
	entries []entry // time-ordered, oldest first
}

const shardCount = 64

type shard struct {
	mu    sync.Mutex
	users map[string]*userWindow
}

// Guard evaluates admission checks against per-user trade windows.
type Guard struct {
	cfg    Config
	clock  Clock
	shards [shardCount]shard
}

// NewGuard creates a guard with the given thresholds and clock.
func NewGuard(cfg Config, clock Clock) *Guard {
	if clock == nil {
		clock = SystemClock()
	}
	g := &Guard{cfg: cfg.withDefaults(), clock: clock}
	for i := range g.shards {
		g.shards[i].users = make(map[string]*userWindow)
	}
	return g
}

func (g *Guard) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &g.shards[h.Sum32()%shardCount]
}

// Check runs the four admission checks and returns nil if the trade is
// allowed. The first failing check wins; each is independently
// sufficient to deny.
func (g *Guard) Check(req Request, snap Snapshot) *Denial {
	now := g.clock.Now()

	sh := g.shardFor(req.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.users[req.UserID]
	if w == nil {
		w = &userWindow{}
		sh.users[req.UserID] = w
	}
	w.evict(now.Add(-g.cfg.RetainFor))

	if d := g.checkCooldown(w, req, now); d != nil {
		return d
	}
	if d := g.checkFrequency(w, now); d != nil {
		return d
	}
	if d := g.checkConcentration(req, snap); d != nil {
		return d
	}
	if d := g.checkDailyLoss(w, req, snap, now); d != nil {
		return d
	}
	return nil
}

// Record adds an applied trade to the user's window. Callers must only
// record trades the ledger actually committed.
func (g *Guard) Record(req Request, realized decimal.Decimal, at time.Time) {
	sh := g.shardFor(req.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.users[req.UserID]
	if w == nil {
		w = &userWindow{}
		sh.users[req.UserID] = w
	}
	w.entries = append(w.entries, entry{
		at:        at,
		contextID: req.ContextID,
		symbol:    req.Symbol,
		shares:    req.Shares,
		realized:  realized,
	})
	w.evict(g.clock.Now().Add(-g.cfg.RetainFor))
}

// Preload rebuilds windows from the transaction log, typically on
// process restart. Transactions must be in timestamp order.
func (g *Guard) Preload(transactions []model.Transaction) {
	cutoff := g.clock.Now().Add(-g.cfg.RetainFor)
	for _, t := range transactions {
		if t.Timestamp.Before(cutoff) {
			continue
		}
		g.Record(Request{
			UserID:    t.UserID,
			ContextID: t.ContextID,
			Symbol:    t.Symbol,
			Action:    t.Action(),
			Shares:    t.Shares,
			Price:     t.Price,
		}, t.RealizedPnL, t.Timestamp)
	}
}

func (w *userWindow) evict(cutoff time.Time) {
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

func (g *Guard) checkCooldown(w *userWindow, req Request, now time.Time) *Denial {
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if e.symbol != req.Symbol {
			continue
		}
		elapsed := now.Sub(e.at)
		if elapsed < g.cfg.Cooldown {
			return &Denial{Reason: ReasonCooldown, RetryAfter: g.cfg.Cooldown - elapsed}
		}
		break
	}
	return nil
}

func (g *Guard) checkFrequency(w *userWindow, now time.Time) *Denial {
	windowStart := now.Add(-g.cfg.FrequencyWindow)
	count := 0
	var oldest time.Time
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].at.Before(windowStart) {
			break
		}
		count++
		oldest = w.entries[i].at
	}
	if count >= g.cfg.MaxTradesPerWindow {
		return &Denial{
			Reason:     ReasonFrequency,
			RetryAfter: oldest.Add(g.cfg.FrequencyWindow).Sub(now),
		}
	}
	return nil
}

// checkConcentration limits the fraction of estimated portfolio value in
// one symbol. Sells always shrink the traded position, so only buys are
// checked. The traded symbol is valued at the trade's price; other
// holdings at their last-known trade price. Advisory risk control, not a
// solvency check.
func (g *Guard) checkConcentration(req Request, snap Snapshot) *Denial {
	if req.Action != model.ActionBuy {
		return nil
	}

	var existingShares int64
	total := snap.Cash
	for _, h := range snap.Holdings {
		if h.Symbol == req.Symbol {
			existingShares = h.Shares
			total = total.Add(req.Price.Mul(decimal.NewFromInt(h.Shares)))
		} else {
			total = total.Add(h.MarketValue())
		}
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	position := req.Price.Mul(decimal.NewFromInt(existingShares + req.Shares))
	if position.GreaterThan(g.cfg.MaxConcentration.Mul(total)) {
		return &Denial{Reason: ReasonConcentration}
	}
	return nil
}

// checkDailyLoss trips once realized losses for the current wall-clock
// day in this context reach the limit, and keeps denying until the day
// rolls over. No reset job: trades after midnight naturally fall outside
// the prior day's window.
func (g *Guard) checkDailyLoss(w *userWindow, req Request, snap Snapshot, now time.Time) *Denial {
	limit := g.cfg.DailyLossLimit
	if g.cfg.DailyLossPct.IsPositive() {
		limit = snap.StartingCash.Mul(g.cfg.DailyLossPct)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	realized := decimal.Zero
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if e.at.Before(dayStart) {
			break
		}
		if e.contextID == req.ContextID {
			realized = realized.Add(e.realized)
		}
	}

	if realized.LessThanOrEqual(limit.Neg()) {
		return &Denial{Reason: ReasonDailyLoss}
	}
	return nil
}
