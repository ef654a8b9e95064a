// Package store defines the ledger persistence interface for the trade
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papergains/trade-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("store: already exists")
)

// ApplyTradeInput carries the full effect of one accepted trade. The
// store must commit cash, holding, and transaction together or not at
// all.
type ApplyTradeInput struct {
	AccountID string

	// NewCash is the account's cash balance after the trade.
	NewCash decimal.Decimal

	// Holding is the post-trade holding state for the traded symbol.
	// Shares == 0 removes the row.
	Holding model.Holding

	// Transaction is the immutable log entry to append.
	Transaction model.Transaction
}

// Store is the ledger persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer. Calls against
// different accounts never block each other; same-account serialization
// is the executor's responsibility.
type Store interface {
	// --- Leagues and memberships ---

	// CreateLeague persists a new league in the active state.
	CreateLeague(ctx context.Context, league *model.League) error

	// GetLeague retrieves a league by ID.
	GetLeague(ctx context.Context, id string) (*model.League, error)

	// EndLeague transitions a league to the ended state.
	EndLeague(ctx context.Context, id string) error

	// CreateMembership records a user joining a league.
	CreateMembership(ctx context.Context, m *model.Membership) error

	// GetMembership retrieves one user's membership in one league.
	GetMembership(ctx context.Context, userID, leagueID string) (*model.Membership, error)

	// --- Accounts and holdings ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves the account for a (user, context) pair.
	GetAccount(ctx context.Context, userID, contextID string) (*model.Account, error)

	// GetAccountByID retrieves an account by its ID.
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)

	// GetHolding retrieves one holding; ErrNotFound if the account
	// holds no shares of the symbol.
	GetHolding(ctx context.Context, accountID, symbol string) (*model.Holding, error)

	// ListHoldings returns all holdings for an account.
	ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error)

	// --- Atomic trade application ---

	// ApplyTrade commits one trade's cash, holding, and transaction
	// mutations atomically.
	ApplyTrade(ctx context.Context, in ApplyTradeInput) error

	// --- Immutable transaction log ---

	// ListTransactions returns an account's transactions at or after
	// since, oldest first.
	ListTransactions(ctx context.Context, accountID string, since time.Time) ([]model.Transaction, error)

	// ListTransactionsByUser returns a user's transactions across all
	// contexts at or after since, oldest first.
	ListTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error)

	// ListRecentTransactions returns all transactions at or after since,
	// oldest first. Used to rebuild throttle windows on restart.
	ListRecentTransactions(ctx context.Context, since time.Time) ([]model.Transaction, error)
}
