package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"xau-engine/internal/marketdata"
	"xau-engine/pkg/db"
)

// lotMultiplier converts a price difference into dollars: for XAUUSD a 0.01
// lot is one ounce, so P&L = diff * lot * 100.
const lotMultiplier = 100

// Simulated executes against the trade ledger instead of a broker.
type Simulated struct {
	DB             *db.Database
	Spot           *marketdata.SpotCache
	DefaultBalance float64

	now func() time.Time
}

// NewSimulated builds the ledger-backed provider.
func NewSimulated(database *db.Database, spot *marketdata.SpotCache, defaultBalance float64) *Simulated {
	return &Simulated{DB: database, Spot: spot, DefaultBalance: defaultBalance, now: time.Now}
}

func (s *Simulated) Name() string { return "simulated" }

// ExecuteOrder inserts an open ledger row with a generated ticket.
func (s *Simulated) ExecuteOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Side != db.SideBuy && req.Side != db.SideSell {
		return OrderResult{Success: false, Error: fmt.Sprintf("invalid side %q", req.Side)}, nil
	}
	if req.Lot <= 0 || req.OpenPrice <= 0 {
		return OrderResult{Success: false, Error: "lot and open price must be positive"}, nil
	}

	trade := db.Trade{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		AccountID:  req.AccountID,
		SessionID:  req.SessionID,
		Ticket:     "SIM-" + uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		LotSize:    req.Lot,
		OpenPrice:  req.OpenPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   s.now().UTC(),
	}
	if err := s.DB.InsertTrade(ctx, trade); err != nil {
		return OrderResult{}, fmt.Errorf("simulated execute: %w", err)
	}
	return OrderResult{Success: true, TradeID: trade.ID, Ticket: trade.Ticket}, nil
}

// CloseOrder closes an open ledger row at the current spot.
func (s *Simulated) CloseOrder(ctx context.Context, ticket string, lots *float64) (CloseResult, error) {
	trade, err := s.DB.GetTradeByTicket(ctx, ticket)
	if errors.Is(err, db.ErrNotFound) {
		// Callers holding the row id instead of the ticket still resolve.
		trade, err = s.DB.GetTrade(ctx, ticket)
	}
	if errors.Is(err, db.ErrNotFound) {
		return CloseResult{Success: false, Ticket: ticket, Error: "trade not found"}, nil
	}
	if err != nil {
		return CloseResult{}, fmt.Errorf("simulated close: %w", err)
	}
	if trade.Status != db.TradeOpen {
		return CloseResult{Success: false, Ticket: ticket, Error: "trade already closed"}, nil
	}

	spot, err := s.Spot.Spot(ctx)
	if err != nil {
		return CloseResult{}, fmt.Errorf("simulated close: %w", err)
	}

	lot := trade.LotSize
	if lots != nil && *lots > 0 && *lots < lot {
		lot = *lots
	}

	priceDiff := spot - trade.OpenPrice
	if trade.Side == db.SideSell {
		priceDiff = trade.OpenPrice - spot
	}
	profit := priceDiff * lot * lotMultiplier

	closedAt := s.now().UTC()
	if err := s.DB.CloseTrade(ctx, trade.ID, spot, profit, closedAt); err != nil {
		return CloseResult{}, fmt.Errorf("simulated close: %w", err)
	}
	return CloseResult{Success: true, Ticket: trade.Ticket, ClosePrice: &spot, Profit: &profit}, nil
}

// AccountSummary reads the account record, or reports the fixed default
// balance when no account id is supplied.
func (s *Simulated) AccountSummary(ctx context.Context, accountID string) (AccountSummary, error) {
	balance := s.DefaultBalance
	if accountID != "" {
		acct, err := s.DB.GetTradingAccount(ctx, accountID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return AccountSummary{}, fmt.Errorf("account summary: %w", err)
		}
		if err == nil {
			balance = acct.Balance
		}
	}
	return AccountSummary{
		Balance:    balance,
		Equity:     balance,
		Margin:     0,
		FreeMargin: balance,
		Currency:   "USD",
	}, nil
}

// OpenPositions lists open ledger rows, optionally filtered by account.
func (s *Simulated) OpenPositions(ctx context.Context, accountID string) ([]OpenPosition, error) {
	trades, err := s.DB.OpenTrades(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	out := make([]OpenPosition, 0, len(trades))
	for _, t := range trades {
		out = append(out, OpenPosition{
			Ticket:     t.Ticket,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Lot:        t.LotSize,
			OpenPrice:  t.OpenPrice,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			OpenedAt:   t.OpenedAt,
		})
	}
	return out, nil
}

// ServerTime returns the process clock.
func (s *Simulated) ServerTime(ctx context.Context) (time.Time, error) {
	return s.now().UTC(), nil
}
