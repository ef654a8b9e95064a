package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papergains/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) CreateLeague(ctx context.Context, l *model.League) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leagues (id, name, starting_cash, status, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		l.ID, l.Name, l.StartingCash.String(), l.Status, l.CreatedAt,
	)
	return mapPgError(err)
}

func (s *PostgresStore) GetLeague(ctx context.Context, id string) (*model.League, error) {
	var l model.League
	var startingCash string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, starting_cash::TEXT, status, created_at
		 FROM leagues WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &startingCash, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	l.StartingCash, _ = decimal.NewFromString(startingCash)
	return &l, nil
}

func (s *PostgresStore) EndLeague(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE leagues SET status = $2 WHERE id = $1`, id, model.LeagueEnded)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMembership(ctx context.Context, m *model.Membership) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (user_id, league_id, starting_cash, joined_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		m.UserID, m.LeagueID, m.StartingCash.String(), m.JoinedAt,
	)
	return mapPgError(err)
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID, leagueID string) (*model.Membership, error) {
	var m model.Membership
	var startingCash string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, league_id, starting_cash::TEXT, joined_at
		 FROM memberships WHERE user_id = $1 AND league_id = $2`, userID, leagueID).
		Scan(&m.UserID, &m.LeagueID, &startingCash, &m.JoinedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	m.StartingCash, _ = decimal.NewFromString(startingCash)
	return &m, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, user_id, context_id, cash, starting_cash, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		a.ID, a.UserID, a.ContextID, a.Cash.String(), a.StartingCash.String(), a.CreatedAt,
	)
	return mapPgError(err)
}

const accountColumns = `id, user_id, context_id, cash::TEXT, starting_cash::TEXT, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var cash, startingCash string

	if err := row.Scan(&a.ID, &a.UserID, &a.ContextID, &cash, &startingCash, &a.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	a.Cash, _ = decimal.NewFromString(cash)
	a.StartingCash, _ = decimal.NewFromString(startingCash)
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID, contextID string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND context_id = $2`,
		userID, contextID)
	return scanAccount(row)
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresStore) GetHolding(ctx context.Context, accountID, symbol string) (*model.Holding, error) {
	var h model.Holding
	var avgCost, lastPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, symbol, shares, average_cost::TEXT, last_price::TEXT
		 FROM holdings WHERE account_id = $1 AND symbol = $2`, accountID, symbol).
		Scan(&h.AccountID, &h.Symbol, &h.Shares, &avgCost, &lastPrice)
	if err != nil {
		return nil, mapPgError(err)
	}

	h.AverageCost, _ = decimal.NewFromString(avgCost)
	h.LastPrice, _ = decimal.NewFromString(lastPrice)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, symbol, shares, average_cost::TEXT, last_price::TEXT
		 FROM holdings WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avgCost, lastPrice string
		if err := rows.Scan(&h.AccountID, &h.Symbol, &h.Shares, &avgCost, &lastPrice); err != nil {
			return nil, err
		}
		h.AverageCost, _ = decimal.NewFromString(avgCost)
		h.LastPrice, _ = decimal.NewFromString(lastPrice)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// ApplyTrade commits the cash update, holding upsert/delete, and
// transaction append in one database transaction. The account row is
// locked for the duration so concurrent applies against the same
// account serialize at the database even without the executor lock.
func (s *PostgresStore) ApplyTrade(ctx context.Context, in ApplyTradeInput) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin apply trade: %w", err)
	}
	defer tx.Rollback(ctx)

	var accountID string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, in.AccountID).
		Scan(&accountID); err != nil {
		return mapPgError(err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE id = $1`,
		in.AccountID, in.NewCash.String()); err != nil {
		return err
	}

	if in.Holding.Shares == 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE account_id = $1 AND symbol = $2`,
			in.AccountID, in.Holding.Symbol); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (account_id, symbol, shares, average_cost, last_price)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (account_id, symbol)
			 DO UPDATE SET shares = $3, average_cost = $4::NUMERIC, last_price = $5::NUMERIC`,
			in.AccountID, in.Holding.Symbol, in.Holding.Shares,
			in.Holding.AverageCost.String(), in.Holding.LastPrice.String()); err != nil {
			return err
		}
	}

	t := in.Transaction
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, user_id, context_id, symbol, shares, price, realized_pnl, resulting_cash, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.AccountID, t.UserID, t.ContextID, t.Symbol, t.Shares,
		t.Price.String(), t.RealizedPnL.String(), t.ResultingCash.String(), t.Timestamp); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const transactionColumns = `id, account_id, user_id, context_id, symbol, shares,
	price::TEXT, realized_pnl::TEXT, resulting_cash::TEXT, timestamp`

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, since time.Time) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE account_id = $1 AND timestamp >= $2 ORDER BY timestamp`,
		accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE user_id = $1 AND timestamp >= $2 ORDER BY timestamp`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListRecentTransactions(ctx context.Context, since time.Time) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions WHERE timestamp >= $1 ORDER BY timestamp`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, realized, resulting string

		if err := rows.Scan(&t.ID, &t.AccountID, &t.UserID, &t.ContextID, &t.Symbol,
			&t.Shares, &price, &realized, &resulting, &t.Timestamp); err != nil {
			return nil, err
		}

		t.Price, _ = decimal.NewFromString(price)
		t.RealizedPnL, _ = decimal.NewFromString(realized)
		t.ResultingCash, _ = decimal.NewFromString(resulting)

		out = append(out, t)
	}
	return out, rows.Err()
}
