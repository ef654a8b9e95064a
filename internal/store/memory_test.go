package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papergains/trade-engine/internal/model"
)

func newAccount(id, userID, contextID string) *model.Account {
	return &model.Account{
		ID:           id,
		UserID:       userID,
		ContextID:    contextID,
		Cash:         decimal.NewFromInt(100000),
		StartingCash: decimal.NewFromInt(100000),
		CreatedAt:    time.Now(),
	}
}

func TestMemoryStore_Accounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateAccount(ctx, newAccount("a1", "alice", "personal")))

	got, err := s.GetAccount(ctx, "alice", "personal")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	byID, err := s.GetAccountByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.UserID)

	// One account per (user, context).
	err = s.CreateAccount(ctx, newAccount("a2", "alice", "personal"))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.GetAccount(ctx, "alice", "league:x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a1", "alice", "personal")))

	got, err := s.GetAccount(ctx, "alice", "personal")
	require.NoError(t, err)
	got.Cash = decimal.NewFromInt(1)

	again, err := s.GetAccount(ctx, "alice", "personal")
	require.NoError(t, err)
	assert.True(t, again.Cash.Equal(decimal.NewFromInt(100000)),
		"mutating a returned account must not affect the store")
}

func TestMemoryStore_Leagues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l := &model.League{ID: "l1", Name: "Test", StartingCash: decimal.NewFromInt(50000), Status: model.LeagueActive}
	require.NoError(t, s.CreateLeague(ctx, l))
	assert.ErrorIs(t, s.CreateLeague(ctx, l), ErrConflict)

	require.NoError(t, s.CreateMembership(ctx, &model.Membership{UserID: "alice", LeagueID: "l1"}))
	assert.ErrorIs(t, s.CreateMembership(ctx, &model.Membership{UserID: "alice", LeagueID: "l1"}), ErrConflict)

	_, err := s.GetMembership(ctx, "bob", "l1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.EndLeague(ctx, "l1"))
	got, err := s.GetLeague(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, model.LeagueEnded, got.Status)

	assert.ErrorIs(t, s.EndLeague(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_ApplyTrade(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a1", "alice", "personal")))

	now := time.Now()
	err := s.ApplyTrade(ctx, ApplyTradeInput{
		AccountID: "a1",
		NewCash:   decimal.NewFromInt(99000),
		Holding: model.Holding{
			AccountID:   "a1",
			Symbol:      "AAPL",
			Shares:      10,
			AverageCost: decimal.NewFromInt(100),
			LastPrice:   decimal.NewFromInt(100),
		},
		Transaction: model.Transaction{
			ID:            "t1",
			AccountID:     "a1",
			UserID:        "alice",
			ContextID:     "personal",
			Symbol:        "AAPL",
			Shares:        10,
			Price:         decimal.NewFromInt(100),
			ResultingCash: decimal.NewFromInt(99000),
			Timestamp:     now,
		},
	})
	require.NoError(t, err)

	acct, err := s.GetAccountByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(99000)))

	h, err := s.GetHolding(ctx, "a1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.Shares)

	txns, err := s.ListTransactions(ctx, "a1", time.Time{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "t1", txns[0].ID)
}

func TestMemoryStore_ApplyTradeRemovesEmptyHolding(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a1", "alice", "personal")))

	buy := ApplyTradeInput{
		AccountID: "a1",
		NewCash:   decimal.NewFromInt(99000),
		Holding:   model.Holding{AccountID: "a1", Symbol: "AAPL", Shares: 10, AverageCost: decimal.NewFromInt(100), LastPrice: decimal.NewFromInt(100)},
		Transaction: model.Transaction{
			ID: "t1", AccountID: "a1", UserID: "alice", ContextID: "personal",
			Symbol: "AAPL", Shares: 10, Price: decimal.NewFromInt(100), Timestamp: time.Now(),
		},
	}
	require.NoError(t, s.ApplyTrade(ctx, buy))

	sellAll := ApplyTradeInput{
		AccountID: "a1",
		NewCash:   decimal.NewFromInt(100000),
		Holding:   model.Holding{AccountID: "a1", Symbol: "AAPL", Shares: 0},
		Transaction: model.Transaction{
			ID: "t2", AccountID: "a1", UserID: "alice", ContextID: "personal",
			Symbol: "AAPL", Shares: -10, Price: decimal.NewFromInt(100), Timestamp: time.Now(),
		},
	}
	require.NoError(t, s.ApplyTrade(ctx, sellAll))

	_, err := s.GetHolding(ctx, "a1", "AAPL")
	assert.ErrorIs(t, err, ErrNotFound)

	holdings, err := s.ListHoldings(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestMemoryStore_ApplyTradeUnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	err := s.ApplyTrade(context.Background(), ApplyTradeInput{AccountID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TransactionQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a1", "alice", "personal")))
	require.NoError(t, s.CreateAccount(ctx, newAccount("a2", "alice", "league:l1")))

	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	for i, acctID := range []string{"a1", "a2", "a1"} {
		in := ApplyTradeInput{
			AccountID: acctID,
			NewCash:   decimal.NewFromInt(99000),
			Holding:   model.Holding{AccountID: acctID, Symbol: "AAPL", Shares: 1, AverageCost: decimal.NewFromInt(100), LastPrice: decimal.NewFromInt(100)},
			Transaction: model.Transaction{
				ID: string(rune('x' + i)), AccountID: acctID, UserID: "alice",
				Symbol: "AAPL", Shares: 1, Price: decimal.NewFromInt(100),
				Timestamp: base.Add(time.Duration(i) * time.Hour),
			},
		}
		require.NoError(t, s.ApplyTrade(ctx, in))
	}

	byAccount, err := s.ListTransactions(ctx, "a1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, byAccount, 2)

	byUser, err := s.ListTransactionsByUser(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Len(t, byUser, 3)

	recent, err := s.ListRecentTransactions(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
