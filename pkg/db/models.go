package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
)

// Trade side and status values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TradeOpen   = "open"
	TradeClosed = "closed"

	SessionActive  = "active"
	SessionStopped = "stopped"
	SessionError   = "error"
)

// Candle is one OHLC bar in the price archive.
type Candle struct {
	ID        string
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Trade is a ledger row. Close fields are nil while the trade is open.
type Trade struct {
	ID         string
	UserID     string
	AccountID  string
	SessionID  string
	Ticket     string
	Symbol     string
	Side       string
	LotSize    float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit *float64
	ClosePrice *float64
	ProfitLoss *float64
	Status     string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// BotSession is a running strategy configuration for a user.
type BotSession struct {
	ID             string
	UserID         string
	AccountID      string
	RiskLevel      string
	StrategyMode   string
	StrategyParams string
	Status         string
	StartedAt      time.Time
	StoppedAt      *time.Time
	TradeCount     int
	LastTradeAt    *time.Time
}

// BacktestReport is a stored summary of a replayed strategy run.
type BacktestReport struct {
	ID             string
	UserID         string
	Symbol         string
	Timeframe      string
	StartDate      time.Time
	EndDate        time.Time
	StrategyParams string
	RiskParams     string
	TotalTrades    int
	TotalPL        float64
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	CreatedAt      time.Time
}

// SimulatedTrade is one closed trade produced by a backtest run.
type SimulatedTrade struct {
	ID          string
	ReportID    string
	Symbol      string
	Side        string
	LotSize     float64
	EntryPrice  float64
	ExitPrice   float64
	StopLoss    float64
	TakeProfit  *float64
	ProfitLoss  float64
	CloseReason string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Notification is an append-only message for a user.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Title     string
	Body      string
	Read      bool
	CreatedAt time.Time
}

// TradingAccount is a user's named account record.
type TradingAccount struct {
	ID          string
	UserID      string
	Name        string
	AccountType string
	Balance     float64
	Currency    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserOverview aggregates per-user activity for the admin listing.
type UserOverview struct {
	ID           string
	Email        string
	SessionCount int
	TradeCount   int
	CreatedAt    time.Time
}

// ----------------------------------------
// Price data
// ----------------------------------------

// UpsertCandles writes OHLC rows keyed by (symbol, timeframe, timestamp);
// re-ingesting overwrites the OHLCV fields. Returns the number of rows written.
func (d *Database) UpsertCandles(ctx context.Context, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_data (id, symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Symbol, c.Timeframe, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return 0, fmt.Errorf("upsert candle %s: %w", c.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// CandlesInRange returns candles ascending by timestamp within [start, end].
func (d *Database) CandlesInRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, timeframe, timestamp, open, high, low, close, volume
		FROM price_data
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.ID, &c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trade ledger
// ----------------------------------------

// InsertTrade creates an open ledger row.
func (d *Database) InsertTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, account_id, session_id, ticket, symbol, side,
			lot_size, open_price, stop_loss, take_profit, status, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.UserID, nullStr(t.AccountID), nullStr(t.SessionID), t.Ticket, t.Symbol, t.Side,
		t.LotSize, t.OpenPrice, t.StopLoss, t.TakeProfit, nullTime(t.OpenedAt))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// CloseTrade freezes a ledger row with its close fields set.
func (d *Database) CloseTrade(ctx context.Context, id string, closePrice, profitLoss float64, closedAt time.Time) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET status = 'closed', close_price = ?, profit_loss = ?, closed_at = ?
		WHERE id = ? AND status = 'open'
	`, closePrice, profitLoss, closedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTrade returns a ledger row by id.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	return d.scanTrade(d.DB.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id))
}

// GetTradeByTicket returns a ledger row by provider ticket.
func (d *Database) GetTradeByTicket(ctx context.Context, ticket string) (*Trade, error) {
	return d.scanTrade(d.DB.QueryRowContext(ctx, tradeSelect+` WHERE ticket = ?`, ticket))
}

// OpenTrades lists open ledger rows, optionally filtered by account.
func (d *Database) OpenTrades(ctx context.Context, accountID string) ([]Trade, error) {
	q := tradeSelect + ` WHERE status = 'open'`
	args := []any{}
	if accountID != "" {
		q += ` AND account_id = ?`
		args = append(args, accountID)
	}
	q += ` ORDER BY opened_at ASC`
	return d.queryTrades(ctx, q, args...)
}

// CountOpenTradesForSession counts open rows tagged with a session id.
func (d *Database) CountOpenTradesForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades WHERE session_id = ? AND status = 'open'
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open trades: %w", err)
	}
	return n, nil
}

const tradeSelect = `
	SELECT id, user_id, COALESCE(account_id, ''), COALESCE(session_id, ''), ticket,
	       symbol, side, lot_size, open_price, stop_loss, take_profit,
	       close_price, profit_loss, status, opened_at, closed_at
	FROM trades`

func (d *Database) scanTrade(row *sql.Row) (*Trade, error) {
	var t Trade
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.SessionID, &t.Ticket,
		&t.Symbol, &t.Side, &t.LotSize, &t.OpenPrice, &t.StopLoss, &t.TakeProfit,
		&t.ClosePrice, &t.ProfitLoss, &t.Status, &t.OpenedAt, &t.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	return &t, nil
}

func (d *Database) queryTrades(ctx context.Context, q string, args ...any) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.AccountID, &t.SessionID, &t.Ticket,
			&t.Symbol, &t.Side, &t.LotSize, &t.OpenPrice, &t.StopLoss, &t.TakeProfit,
			&t.ClosePrice, &t.ProfitLoss, &t.Status, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Bot sessions
// ----------------------------------------

// InsertSession creates a bot session row.
func (d *Database) InsertSession(ctx context.Context, s BotSession) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_sessions (
			id, user_id, account_id, risk_level, strategy_mode, strategy_params,
			status, started_at, trade_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)
	`, s.ID, s.UserID, nullStr(s.AccountID), s.RiskLevel, s.StrategyMode,
		nullStr(s.StrategyParams), s.Status, nullTime(s.StartedAt), s.TradeCount)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ActiveSessions lists sessions with status=active, oldest first.
func (d *Database) ActiveSessions(ctx context.Context) ([]BotSession, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(account_id, ''), risk_level, strategy_mode,
		       COALESCE(strategy_params, ''), status, started_at, stopped_at,
		       trade_count, last_trade_at
		FROM bot_sessions WHERE status = 'active'
		ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []BotSession
	for rows.Next() {
		var s BotSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.AccountID, &s.RiskLevel, &s.StrategyMode,
			&s.StrategyParams, &s.Status, &s.StartedAt, &s.StoppedAt,
			&s.TradeCount, &s.LastTradeAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordSessionTrade bumps trade_count and last_trade_at after an execution.
func (d *Database) RecordSessionTrade(ctx context.Context, sessionID string, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_sessions
		SET trade_count = trade_count + 1, last_trade_at = ?
		WHERE id = ?
	`, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("record session trade: %w", err)
	}
	return nil
}

// StopSession is terminal: the session never becomes active again.
func (d *Database) StopSession(ctx context.Context, sessionID, status string, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_sessions SET status = ?, stopped_at = ? WHERE id = ?
	`, status, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return nil
}

// ----------------------------------------
// Backtests
// ----------------------------------------

// SaveBacktest persists a report and its simulated trades. When a child insert
// fails the summary row is deleted so the pair stays consistent.
func (d *Database) SaveBacktest(ctx context.Context, r BacktestReport, trades []SimulatedTrade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO backtest_reports (
			id, user_id, symbol, timeframe, start_date, end_date,
			strategy_params, risk_params, total_trades, total_pl,
			winning_trades, losing_trades, win_rate, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, r.ID, nullStr(r.UserID), r.Symbol, r.Timeframe, r.StartDate.UTC(), r.EndDate.UTC(),
		nullStr(r.StrategyParams), nullStr(r.RiskParams), r.TotalTrades, r.TotalPL,
		r.WinningTrades, r.LosingTrades, r.WinRate, nullTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	if err := d.insertSimulatedTrades(ctx, r.ID, trades); err != nil {
		// Compensating delete keeps the report and its children atomic.
		if _, delErr := d.DB.ExecContext(ctx, `DELETE FROM simulated_trades WHERE report_id = ?`, r.ID); delErr != nil {
			return fmt.Errorf("insert trades: %v (cleanup children: %w)", err, delErr)
		}
		if _, delErr := d.DB.ExecContext(ctx, `DELETE FROM backtest_reports WHERE id = ?`, r.ID); delErr != nil {
			return fmt.Errorf("insert trades: %v (rollback report: %w)", err, delErr)
		}
		return fmt.Errorf("insert trades: %w", err)
	}
	return nil
}

func (d *Database) insertSimulatedTrades(ctx context.Context, reportID string, trades []SimulatedTrade) error {
	for _, t := range trades {
		_, err := d.DB.ExecContext(ctx, `
			INSERT INTO simulated_trades (
				id, report_id, symbol, side, lot_size, entry_price, exit_price,
				stop_loss, take_profit, profit_loss, close_reason, opened_at, closed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, reportID, t.Symbol, t.Side, t.LotSize, t.EntryPrice, t.ExitPrice,
			t.StopLoss, t.TakeProfit, t.ProfitLoss, t.CloseReason, t.OpenedAt.UTC(), t.ClosedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert simulated trade %s: %w", t.ID, err)
		}
	}
	return nil
}

// GetBacktest returns a report with its simulated trades.
func (d *Database) GetBacktest(ctx context.Context, id string) (*BacktestReport, []SimulatedTrade, error) {
	row := d.DB.QueryRowContext(ctx, reportSelect+` WHERE id = ?`, id)
	var r BacktestReport
	err := row.Scan(&r.ID, &r.UserID, &r.Symbol, &r.Timeframe, &r.StartDate, &r.EndDate,
		&r.StrategyParams, &r.RiskParams, &r.TotalTrades, &r.TotalPL,
		&r.WinningTrades, &r.LosingTrades, &r.WinRate, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scan report: %w", err)
	}

	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, report_id, symbol, side, lot_size, entry_price, exit_price,
		       stop_loss, take_profit, profit_loss, close_reason, opened_at, closed_at
		FROM simulated_trades WHERE report_id = ?
		ORDER BY opened_at ASC
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("query simulated trades: %w", err)
	}
	defer rows.Close()

	var trades []SimulatedTrade
	for rows.Next() {
		var t SimulatedTrade
		if err := rows.Scan(&t.ID, &t.ReportID, &t.Symbol, &t.Side, &t.LotSize,
			&t.EntryPrice, &t.ExitPrice, &t.StopLoss, &t.TakeProfit, &t.ProfitLoss,
			&t.CloseReason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, nil, fmt.Errorf("scan simulated trade: %w", err)
		}
		trades = append(trades, t)
	}
	return &r, trades, rows.Err()
}

// ListBacktests returns report summaries, newest first. Empty userID lists all.
func (d *Database) ListBacktests(ctx context.Context, userID string, limit int) ([]BacktestReport, error) {
	if limit <= 0 {
		limit = 50
	}
	q := reportSelect
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []BacktestReport
	for rows.Next() {
		var r BacktestReport
		if err := rows.Scan(&r.ID, &r.UserID, &r.Symbol, &r.Timeframe, &r.StartDate, &r.EndDate,
			&r.StrategyParams, &r.RiskParams, &r.TotalTrades, &r.TotalPL,
			&r.WinningTrades, &r.LosingTrades, &r.WinRate, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const reportSelect = `
	SELECT id, COALESCE(user_id, ''), symbol, timeframe, start_date, end_date,
	       COALESCE(strategy_params, ''), COALESCE(risk_params, ''),
	       total_trades, total_pl, winning_trades, losing_trades, win_rate, created_at
	FROM backtest_reports`

// ----------------------------------------
// Notifications
// ----------------------------------------

// InsertNotification appends a notification row.
func (d *Database) InsertNotification(ctx context.Context, n Notification) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.Read, nullTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// NotificationsForUser returns recent notifications, newest first.
func (d *Database) NotificationsForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, kind, title, COALESCE(body, ''), read, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trading accounts
// ----------------------------------------

// UpsertTradingAccount creates or updates an account record.
func (d *Database) UpsertTradingAccount(ctx context.Context, a TradingAccount) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trading_accounts (id, user_id, name, account_type, balance, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			account_type = excluded.account_type,
			balance = excluded.balance,
			currency = excluded.currency,
			updated_at = CURRENT_TIMESTAMP
	`, a.ID, a.UserID, a.Name, a.AccountType, a.Balance, a.Currency)
	if err != nil {
		return fmt.Errorf("upsert trading account: %w", err)
	}
	return nil
}

// GetTradingAccount returns an account record by id.
func (d *Database) GetTradingAccount(ctx context.Context, id string) (*TradingAccount, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, account_type, balance, currency, created_at, updated_at
		FROM trading_accounts WHERE id = ?
	`, id)
	var a TradingAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.AccountType, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trading account: %w", err)
	}
	return &a, nil
}

// ----------------------------------------
// Users (admin overview)
// ----------------------------------------

// ListUsersOverview joins users with their session and trade counts.
func (d *Database) ListUsersOverview(ctx context.Context) ([]UserOverview, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT u.id, u.email, u.created_at,
		       (SELECT COUNT(*) FROM bot_sessions s WHERE s.user_id = u.id),
		       (SELECT COUNT(*) FROM trades t WHERE t.user_id = u.id)
		FROM users u
		ORDER BY u.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []UserOverview
	for rows.Next() {
		var u UserOverview
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.SessionCount, &u.TradeCount); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
