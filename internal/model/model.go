// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal; money is never a float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the direction of a trade.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Valid reports whether the action is one of buy/sell.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// League lifecycle states.
const (
	LeagueActive = "active"
	LeagueEnded  = "ended"
)

// Account is one trading ledger for a (user, context) pair. Personal and
// league accounts are fully isolated from each other.
type Account struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	ContextID    string          `json:"context_id" db:"context_id"`
	Cash         decimal.Decimal `json:"cash" db:"cash"`
	StartingCash decimal.Decimal `json:"starting_cash" db:"starting_cash"` // immutable baseline
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Holding is one symbol position inside an account. Shares never goes
// negative; the row is removed when shares reach zero.
type Holding struct {
	AccountID   string          `json:"account_id" db:"account_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Shares      int64           `json:"shares" db:"shares"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
	// LastPrice is the most recent price this symbol traded at in this
	// account. Non-traded holdings are valued at it when estimating
	// portfolio concentration.
	LastPrice decimal.Decimal `json:"last_price" db:"last_price"`
}

// MarketValue returns shares * LastPrice.
func (h Holding) MarketValue() decimal.Decimal {
	return h.LastPrice.Mul(decimal.NewFromInt(h.Shares))
}

// Transaction is an immutable record of an accepted trade. Once written,
// these are never modified or deleted.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	ContextID     string          `json:"context_id" db:"context_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Shares        int64           `json:"shares" db:"shares"` // signed: +buy, -sell
	Price         decimal.Decimal `json:"price" db:"price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // non-zero only on sells
	ResultingCash decimal.Decimal `json:"resulting_cash" db:"resulting_cash"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// Action derives the trade direction from the signed share count.
func (t Transaction) Action() Action {
	if t.Shares < 0 {
		return ActionSell
	}
	return ActionBuy
}

// League is a competition context with its own isolated accounts.
type League struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	StartingCash decimal.Decimal `json:"starting_cash" db:"starting_cash"`
	Status       string          `json:"status" db:"status"` // "active" or "ended"
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Membership records a user's participation in a league, with the cash
// baseline fixed at join time.
type Membership struct {
	UserID       string          `json:"user_id" db:"user_id"`
	LeagueID     string          `json:"league_id" db:"league_id"`
	StartingCash decimal.Decimal `json:"starting_cash" db:"starting_cash"`
	JoinedAt     time.Time       `json:"joined_at" db:"joined_at"`
}

// Receipt is the successful-trade result returned to callers.
type Receipt struct {
	TransactionID    string          `json:"transaction_id"`
	AccountID        string          `json:"account_id"`
	Symbol           string          `json:"symbol"`
	Action           Action          `json:"action"`
	Shares           int64           `json:"shares"`
	Price            decimal.Decimal `json:"price"`
	CashAfter        decimal.Decimal `json:"cash_after"`
	SharesAfter      int64           `json:"shares_after"`
	AverageCostAfter decimal.Decimal `json:"average_cost_after"`
}
