// Package events delivers accepted-trade events to external consumers:
// the notification pipeline (Kafka) and the live activity feed
// (WebSocket). Delivery is fire-and-forget: a sink failure is logged
// and never affects the trade that produced the event.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papergains/trade-engine/internal/model"
)

// TradeEvent is published once per accepted trade.
type TradeEvent struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	AccountID     string          `json:"account_id"`
	ContextID     string          `json:"context_id"`
	Symbol        string          `json:"symbol"`
	Action        model.Action    `json:"action"`
	Shares        int64           `json:"shares"`
	Price         decimal.Decimal `json:"price"`
	CashAfter     decimal.Decimal `json:"cash_after"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Sink receives accepted-trade events.
type Sink interface {
	PublishTrade(ctx context.Context, ev TradeEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) PublishTrade(context.Context, TradeEvent) error { return nil }

// MultiSink fans an event out to several sinks, returning the first
// error after attempting all of them.
type MultiSink []Sink

func (m MultiSink) PublishTrade(ctx context.Context, ev TradeEvent) error {
	var first error
	for _, s := range m {
		if err := s.PublishTrade(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
