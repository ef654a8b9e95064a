package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papergains/trade-engine/internal/model"
	"github.com/papergains/trade-engine/internal/store"
)

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	require.NoError(t, st.CreateAccount(ctx, &model.Account{
		ID:           "acct-personal",
		UserID:       "alice",
		ContextID:    model.PersonalContextID,
		Cash:         decimal.NewFromInt(100000),
		StartingCash: decimal.NewFromInt(100000),
		CreatedAt:    time.Now(),
	}))

	require.NoError(t, st.CreateLeague(ctx, &model.League{
		ID:           "spring",
		Name:         "Spring Open",
		StartingCash: decimal.NewFromInt(50000),
		Status:       model.LeagueActive,
		CreatedAt:    time.Now(),
	}))
	require.NoError(t, st.CreateMembership(ctx, &model.Membership{
		UserID:       "alice",
		LeagueID:     "spring",
		StartingCash: decimal.NewFromInt(50000),
		JoinedAt:     time.Now(),
	}))
	require.NoError(t, st.CreateAccount(ctx, &model.Account{
		ID:           "acct-league",
		UserID:       "alice",
		ContextID:    model.LeagueRef("spring").ID(),
		Cash:         decimal.NewFromInt(50000),
		StartingCash: decimal.NewFromInt(50000),
		CreatedAt:    time.Now(),
	}))
	return st
}

func TestResolve_Personal(t *testing.T) {
	r := NewResolver(seedStore(t))

	acct, err := r.Resolve(context.Background(), "alice", model.Personal())
	require.NoError(t, err)
	assert.Equal(t, "acct-personal", acct.ID)
	assert.Equal(t, model.PersonalContextID, acct.ContextID)
}

func TestResolve_League(t *testing.T) {
	r := NewResolver(seedStore(t))

	acct, err := r.Resolve(context.Background(), "alice", model.LeagueRef("spring"))
	require.NoError(t, err)
	assert.Equal(t, "acct-league", acct.ID)
	assert.Equal(t, "league:spring", acct.ContextID)
}

func TestResolve_NoMembership(t *testing.T) {
	r := NewResolver(seedStore(t))

	_, err := r.Resolve(context.Background(), "bob", model.LeagueRef("spring"))
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestResolve_UnknownLeague(t *testing.T) {
	r := NewResolver(seedStore(t))

	_, err := r.Resolve(context.Background(), "alice", model.LeagueRef("nope"))
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestResolve_EndedLeague(t *testing.T) {
	st := seedStore(t)
	require.NoError(t, st.EndLeague(context.Background(), "spring"))
	r := NewResolver(st)

	_, err := r.Resolve(context.Background(), "alice", model.LeagueRef("spring"))
	assert.ErrorIs(t, err, ErrContextInactive)
}

func TestResolve_NoPersonalAccount(t *testing.T) {
	r := NewResolver(store.NewMemoryStore())

	_, err := r.Resolve(context.Background(), "ghost", model.Personal())
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestResolve_InvalidRef(t *testing.T) {
	r := NewResolver(seedStore(t))

	_, err := r.Resolve(context.Background(), "alice", model.ContextRef{Kind: model.ContextLeague})
	assert.ErrorIs(t, err, ErrContextNotFound)
}
