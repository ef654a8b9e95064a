package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papergains/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for account and holding reads. Writes go to the primary store and
// invalidate the cache. The transaction log is never cached: throttle
// rebuilds and audits must see the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, in ApplyTradeInput) error {
	if err := s.primary.ApplyTrade(ctx, in); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, accountKey(in.AccountID), holdingsKey(in.AccountID))
	return nil
}

func (s *CachedStore) EndLeague(ctx context.Context, id string) error {
	if err := s.primary.EndLeague(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, leagueKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLeague(ctx context.Context, id string) (*model.League, error) {
	data, err := s.rdb.Get(ctx, leagueKey(id)).Bytes()
	if err == nil {
		var l model.League
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetLeague(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, leagueKey(id), data, s.ttl)
	}
	return l, nil
}

func (s *CachedStore) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID, contextID string) (*model.Account, error) {
	// Try the (user, context)→accountID mapping first.
	accountID, err := s.rdb.Get(ctx, accountIndexKey(userID, contextID)).Result()
	if err == nil {
		return s.GetAccountByID(ctx, accountID)
	}

	a, err := s.primary.GetAccount(ctx, userID, contextID)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(accountID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(accountID), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateLeague(ctx context.Context, l *model.League) error {
	return s.primary.CreateLeague(ctx, l)
}

func (s *CachedStore) CreateMembership(ctx context.Context, m *model.Membership) error {
	return s.primary.CreateMembership(ctx, m)
}

func (s *CachedStore) GetMembership(ctx context.Context, userID, leagueID string) (*model.Membership, error) {
	return s.primary.GetMembership(ctx, userID, leagueID)
}

func (s *CachedStore) GetHolding(ctx context.Context, accountID, symbol string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, accountID, symbol)
}

func (s *CachedStore) ListTransactions(ctx context.Context, accountID string, since time.Time) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, accountID, since)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID, since)
}

func (s *CachedStore) ListRecentTransactions(ctx context.Context, since time.Time) ([]model.Transaction, error) {
	return s.primary.ListRecentTransactions(ctx, since)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.ID), data, s.ttl)
		s.rdb.Set(ctx, accountIndexKey(a.UserID, a.ContextID), a.ID, s.ttl)
	}
}

func leagueKey(id string) string   { return fmt.Sprintf("league:%s", id) }
func accountKey(id string) string  { return fmt.Sprintf("account:%s", id) }
func holdingsKey(id string) string { return fmt.Sprintf("holdings:%s", id) }

func accountIndexKey(userID, contextID string) string {
	return fmt.Sprintf("account-index:%s:%s", userID, contextID)
}
