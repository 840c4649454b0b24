// Package provider abstracts trade execution behind one contract with two
// implementations: a ledger-backed simulator and the MetaTrader HTTP bridge.
package provider

import (
	"context"
	"time"
)

// OrderRequest captures an order intent.
type OrderRequest struct {
	UserID     string
	AccountID  string
	SessionID  string
	Symbol     string
	Side       string // BUY or SELL
	Lot        float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit *float64
}

// OrderResult is the provider's ack for an execution.
type OrderResult struct {
	Success bool   `json:"success"`
	TradeID string `json:"tradeId,omitempty"`
	Ticket  string `json:"ticket,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CloseResult is the provider's ack for a close.
type CloseResult struct {
	Success    bool     `json:"success"`
	Ticket     string   `json:"ticket"`
	ClosePrice *float64 `json:"closePrice,omitempty"`
	Profit     *float64 `json:"profit,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// AccountSummary describes account health.
type AccountSummary struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"freeMargin"`
	Currency   string  `json:"currency"`
}

// OpenPosition is one live position as the provider sees it.
type OpenPosition struct {
	Ticket     string    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Lot        float64   `json:"lot"`
	OpenPrice  float64   `json:"openPrice"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit *float64  `json:"takeProfit,omitempty"`
	OpenedAt   time.Time `json:"openedAt"`
}

// Provider turns decisions into orders. Implementations are stateless; a new
// value per invocation is fine.
type Provider interface {
	Name() string
	ExecuteOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CloseOrder(ctx context.Context, ticket string, lots *float64) (CloseResult, error)
	AccountSummary(ctx context.Context, accountID string) (AccountSummary, error)
	OpenPositions(ctx context.Context, accountID string) ([]OpenPosition, error)
	ServerTime(ctx context.Context) (time.Time, error)
}
