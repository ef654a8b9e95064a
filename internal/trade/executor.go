// Package trade orchestrates trade execution: context resolution,
// admission control, and atomic application against the ledger.
//
// All monetary values use shopspring/decimal; money is never a float64.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papergains/trade-engine/internal/events"
	"github.com/papergains/trade-engine/internal/metrics"
	"github.com/papergains/trade-engine/internal/model"
	"github.com/papergains/trade-engine/internal/portfolio"
	"github.com/papergains/trade-engine/internal/store"
	"github.com/papergains/trade-engine/internal/throttle"
)

// ExecuteRequest is one buy/sell request against one context.
type ExecuteRequest struct {
	UserID  string
	Context model.ContextRef
	Symbol  string
	Action  model.Action
	Shares  int64
	Price   decimal.Decimal
}

// Executor applies trades with full consistency guarantees: one logical
// lock per (user, context) account serializes read-check-write, the
// ledger commits cash/holding/transaction atomically, and the throttle
// window only records trades the ledger accepted.
type Executor struct {
	store    store.Store
	resolver *portfolio.Resolver
	guard    *throttle.Guard
	locks    *accountLocks
	sink     events.Sink
	clock    throttle.Clock
	log      *slog.Logger
}

// NewExecutor creates an executor. Pass a NopSink if no event delivery
// is needed; a nil clock means wall-clock time.
func NewExecutor(st store.Store, resolver *portfolio.Resolver, guard *throttle.Guard, sink events.Sink, clock throttle.Clock) *Executor {
	if sink == nil {
		sink = events.NopSink{}
	}
	if clock == nil {
		clock = throttle.SystemClock()
	}
	return &Executor{
		store:    st,
		resolver: resolver,
		guard:    guard,
		locks:    newAccountLocks(),
		sink:     sink,
		clock:    clock,
		log:      slog.Default(),
	}
}

// Execute runs one trade to completion or returns a typed *Error. A
// failed trade has no effect on cash, holdings, the transaction log, or
// the throttle window.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*model.Receipt, error) {
	start := time.Now()

	if err := e.validate(&req); err != nil {
		metrics.TradeRejections.WithLabelValues(string(CodeInvalidInput)).Inc()
		return nil, err
	}

	// One lock per (user, context): trades against the same account are
	// fully serialized, different accounts never wait on each other. A
	// request that cannot acquire the lock in time aborts with no
	// effect.
	release, err := e.locks.acquire(ctx, req.UserID+"|"+req.Context.ID())
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(CodeTimeout)).Inc()
		return nil, &Error{Code: CodeTimeout, Message: "timed out waiting for account lock", Err: err}
	}
	defer release()

	receipt, err := e.executeLocked(ctx, req)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			if te.Code == CodeThrottleDenied {
				metrics.ThrottleDenials.WithLabelValues(string(te.Reason)).Inc()
			} else {
				metrics.TradeRejections.WithLabelValues(string(te.Code)).Inc()
			}
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(req.Action)).Inc()
	metrics.TradeLatency.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	return receipt, nil
}

func (e *Executor) validate(req *ExecuteRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errInvalidInput("user_id is required")
	}
	symbol, err := model.NormalizeSymbol(req.Symbol)
	if err != nil {
		return errInvalidInput("%v", err)
	}
	req.Symbol = symbol
	if !req.Action.Valid() {
		return errInvalidInput("action must be buy or sell")
	}
	if req.Shares <= 0 {
		return errInvalidInput("shares must be > 0")
	}
	if req.Price.IsNegative() {
		return errInvalidInput("price must be >= 0")
	}
	if err := req.Context.Validate(); err != nil {
		return errInvalidInput("%v", err)
	}
	return nil
}

func (e *Executor) executeLocked(ctx context.Context, req ExecuteRequest) (*model.Receipt, error) {
	account, err := e.resolver.Resolve(ctx, req.UserID, req.Context)
	if err != nil {
		return nil, mapResolveError(err)
	}

	holding, err := e.store.GetHolding(ctx, account.ID, req.Symbol)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, errStorage(err)
		}
		// No position yet: a sell against it is an over-sell.
		holding = &model.Holding{AccountID: account.ID, Symbol: req.Symbol}
	}

	shares := decimal.NewFromInt(req.Shares)
	notional := req.Price.Mul(shares)

	switch req.Action {
	case model.ActionBuy:
		if account.Cash.LessThan(notional) {
			return nil, &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
		}
	case model.ActionSell:
		if holding.Shares < req.Shares {
			return nil, &Error{Code: CodeInsufficientShares, Message: "insufficient shares"}
		}
	}

	holdings, err := e.store.ListHoldings(ctx, account.ID)
	if err != nil {
		return nil, errStorage(err)
	}

	guardReq := throttle.Request{
		UserID:    req.UserID,
		ContextID: account.ContextID,
		Symbol:    req.Symbol,
		Action:    req.Action,
		Shares:    req.Shares,
		Price:     req.Price,
	}
	if denial := e.guard.Check(guardReq, throttle.Snapshot{
		Cash:         account.Cash,
		StartingCash: account.StartingCash,
		Holdings:     holdings,
	}); denial != nil {
		return nil, errDenied(denial)
	}

	// Compute the post-trade state.
	var newCash decimal.Decimal
	var newHolding model.Holding
	realized := decimal.Zero

	if req.Action == model.ActionBuy {
		newCash = account.Cash.Sub(notional)
		newHolding = model.Holding{
			AccountID:   account.ID,
			Symbol:      req.Symbol,
			Shares:      holding.Shares + req.Shares,
			AverageCost: weightedAverageCost(holding.Shares, holding.AverageCost, req.Shares, req.Price),
			LastPrice:   req.Price,
		}
	} else {
		newCash = account.Cash.Add(notional)
		realized = req.Price.Sub(holding.AverageCost).Mul(shares)
		newHolding = model.Holding{
			AccountID:   account.ID,
			Symbol:      req.Symbol,
			Shares:      holding.Shares - req.Shares,
			AverageCost: holding.AverageCost, // unchanged by a sell
			LastPrice:   req.Price,
		}
	}

	now := e.clock.Now().UTC()
	signedShares := req.Shares
	if req.Action == model.ActionSell {
		signedShares = -req.Shares
	}
	txn := model.Transaction{
		ID:            uuid.New().String(),
		AccountID:     account.ID,
		UserID:        req.UserID,
		ContextID:     account.ContextID,
		Symbol:        req.Symbol,
		Shares:        signedShares,
		Price:         req.Price,
		RealizedPnL:   realized,
		ResultingCash: newCash,
		Timestamp:     now,
	}

	// The commit must finish once the lock is held, so detach from the
	// caller's deadline so a late cancellation cannot stop it mid-write.
	if err := e.store.ApplyTrade(context.WithoutCancel(ctx), store.ApplyTradeInput{
		AccountID:   account.ID,
		NewCash:     newCash,
		Holding:     newHolding,
		Transaction: txn,
	}); err != nil {
		e.log.Error("atomic apply failed", "user", req.UserID, "context", account.ContextID, "err", err)
		return nil, errStorage(err)
	}

	// Only now does the trade enter the throttle window: a trade the
	// ledger rejected must never count against the user.
	e.guard.Record(guardReq, realized, now)

	e.log.Info("trade applied",
		"transaction_id", txn.ID,
		"user", req.UserID,
		"context", account.ContextID,
		"symbol", req.Symbol,
		"action", req.Action,
		"shares", req.Shares,
		"price", req.Price.String(),
		"cash_after", newCash.String(),
	)

	e.emit(events.TradeEvent{
		TransactionID: txn.ID,
		UserID:        req.UserID,
		AccountID:     account.ID,
		ContextID:     account.ContextID,
		Symbol:        req.Symbol,
		Action:        req.Action,
		Shares:        req.Shares,
		Price:         req.Price,
		CashAfter:     newCash,
		Timestamp:     now,
	})

	return &model.Receipt{
		TransactionID:    txn.ID,
		AccountID:        account.ID,
		Symbol:           req.Symbol,
		Action:           req.Action,
		Shares:           req.Shares,
		Price:            req.Price,
		CashAfter:        newCash,
		SharesAfter:      newHolding.Shares,
		AverageCostAfter: newHolding.AverageCost,
	}, nil
}

// emit delivers the trade event asynchronously. Sink failures are
// logged and never surface as trade errors.
func (e *Executor) emit(ev events.TradeEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sink.PublishTrade(ctx, ev); err != nil {
			e.log.Warn("trade event delivery failed", "transaction_id", ev.TransactionID, "err", err)
		}
	}()
}

// weightedAverageCost recomputes average cost after buying more shares:
// (oldShares*oldAvg + newShares*price) / (oldShares+newShares).
func weightedAverageCost(oldShares int64, oldAvg decimal.Decimal, newShares int64, price decimal.Decimal) decimal.Decimal {
	oldQty := decimal.NewFromInt(oldShares)
	newQty := decimal.NewFromInt(newShares)
	totalCost := oldAvg.Mul(oldQty).Add(price.Mul(newQty))
	return totalCost.Div(oldQty.Add(newQty))
}

func mapResolveError(err error) error {
	switch {
	case errors.Is(err, portfolio.ErrContextNotFound):
		return &Error{Code: CodeContextNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, portfolio.ErrContextInactive):
		return &Error{Code: CodeContextInactive, Message: err.Error(), Err: err}
	default:
		return errStorage(err)
	}
}
