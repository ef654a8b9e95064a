package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/papergains/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	leagues      map[string]*model.League
	memberships  map[string]*model.Membership // userID + "\x00" + leagueID
	accounts     map[string]*model.Account    // by account ID
	accountIndex map[string]string            // userID + "\x00" + contextID → account ID
	holdings     map[string]map[string]*model.Holding
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leagues:      make(map[string]*model.League),
		memberships:  make(map[string]*model.Membership),
		accounts:     make(map[string]*model.Account),
		accountIndex: make(map[string]string),
		holdings:     make(map[string]map[string]*model.Holding),
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func (s *MemoryStore) CreateLeague(_ context.Context, l *model.League) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leagues[l.ID]; ok {
		return ErrConflict
	}
	cp := *l
	s.leagues[l.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLeague(_ context.Context, id string) (*model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leagues[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) EndLeague(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leagues[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = model.LeagueEnded
	return nil
}

func (s *MemoryStore) CreateMembership(_ context.Context, m *model.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(m.UserID, m.LeagueID)
	if _, ok := s.memberships[key]; ok {
		return ErrConflict
	}
	cp := *m
	s.memberships[key] = &cp
	return nil
}

func (s *MemoryStore) GetMembership(_ context.Context, userID, leagueID string) (*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[pairKey(userID, leagueID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(a.UserID, a.ContextID)
	if _, ok := s.accountIndex[key]; ok {
		return ErrConflict
	}
	if _, ok := s.accounts[a.ID]; ok {
		return ErrConflict
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.accountIndex[key] = a.ID
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID, contextID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountIndex[pairKey(userID, contextID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *MemoryStore) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, accountID, symbol string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[accountID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Holding, 0, len(s.holdings[accountID]))
	for _, h := range s.holdings[accountID] {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ApplyTrade commits cash, holding, and transaction under one lock.
// Validation happens before any mutation, so a failure leaves the store
// untouched.
func (s *MemoryStore) ApplyTrade(_ context.Context, in ApplyTradeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[in.AccountID]
	if !ok {
		return ErrNotFound
	}

	a.Cash = in.NewCash

	byAccount, ok := s.holdings[in.AccountID]
	if !ok {
		byAccount = make(map[string]*model.Holding)
		s.holdings[in.AccountID] = byAccount
	}
	if in.Holding.Shares == 0 {
		delete(byAccount, in.Holding.Symbol)
	} else {
		cp := in.Holding
		byAccount[in.Holding.Symbol] = &cp
	}

	s.transactions = append(s.transactions, in.Transaction)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID && !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID && !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentTransactions(_ context.Context, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, t := range s.transactions {
		if !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
