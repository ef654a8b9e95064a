// Package portfolio resolves which ledger partition a trade targets: a
// user's personal account, or one of their league accounts. Resolution
// is a pure lookup: no fallback context is ever substituted, because an
// ambiguous target is a correctness risk, not a convenience.
package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/papergains/trade-engine/internal/model"
	"github.com/papergains/trade-engine/internal/store"
)

var (
	// ErrContextNotFound is returned when the user has no account or
	// membership for the requested context.
	ErrContextNotFound = errors.New("portfolio: context not found")

	// ErrContextInactive is returned when the requested league is no
	// longer active.
	ErrContextInactive = errors.New("portfolio: context not active")
)

// Resolver validates context references against membership data and
// returns the account a trade applies to.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns the account for (userID, ref). For league contexts the
// user must hold a membership and the league must be active at the
// moment of resolution.
func (r *Resolver) Resolve(ctx context.Context, userID string, ref model.ContextRef) (*model.Account, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextNotFound, err)
	}

	if ref.Kind == model.ContextLeague {
		if _, err := r.store.GetMembership(ctx, userID, ref.LeagueID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: no membership in league %s", ErrContextNotFound, ref.LeagueID)
			}
			return nil, err
		}

		league, err := r.store.GetLeague(ctx, ref.LeagueID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: league %s", ErrContextNotFound, ref.LeagueID)
			}
			return nil, err
		}
		if league.Status != model.LeagueActive {
			return nil, fmt.Errorf("%w: league %s is %s", ErrContextInactive, ref.LeagueID, league.Status)
		}
	}

	account, err := r.store.GetAccount(ctx, userID, ref.ID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no account for user %s in context %s", ErrContextNotFound, userID, ref.ID())
		}
		return nil, err
	}
	return account, nil
}
