package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"xau-engine/internal/backtest"
	"xau-engine/internal/marketdata"
	"xau-engine/internal/provider"
	"xau-engine/internal/strategy"
	"xau-engine/pkg/db"
)

// envelope is the uniform request shape for /api/actions.
type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type actionHandler func(c *gin.Context, data json.RawMessage) (any, error)

// statusError carries an HTTP status alongside the message.
type statusError struct {
	code int
	err  error
}

func (e statusError) Error() string { return e.err.Error() }
func (e statusError) Unwrap() error { return e.err }

func failf(code int, format string, args ...any) error {
	return statusError{code: code, err: fmt.Errorf(format, args...)}
}

func statusFor(err error) int {
	var se statusError
	switch {
	case errors.As(err, &se):
		return se.code
	case errors.Is(err, marketdata.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, backtest.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errAdminDisabled):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) registerActions() {
	s.actions = map[string]actionHandler{
		"execute_trade":                  s.executeTrade,
		"close_trade":                    s.closeTrade,
		"update_prices":                  s.updatePrices,
		"run_bot_logic":                  s.runBotLogic,
		"get_current_price_action":       s.getCurrentPrice,
		"fetch_historical_data_action":   s.fetchHistoricalData,
		"run_backtest_action":            s.runBacktest,
		"get_backtest_report_action":     s.getBacktestReport,
		"list_backtests_action":          s.listBacktests,
		"provider_close_order":           s.closeTrade,
		"provider_get_account_summary":   s.getAccountSummary,
		"provider_list_open_positions":   s.listOpenPositions,
		"provider_get_server_time":       s.getServerTime,
		"upsert_trading_account_action":  s.upsertTradingAccount,
		"admin_get_env_variables_status": s.adminEnvStatus,
		"admin_list_users_overview":      s.adminUsersOverview,
	}
}

// dispatch routes an {action,data} envelope to its handler and wraps the
// result in the uniform response shape.
func (s *Server) dispatch(c *gin.Context) {
	var env envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request envelope: " + err.Error()})
		return
	}
	if env.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	handler, ok := s.actions[env.Action]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown action %q", env.Action)})
		return
	}

	result, err := handler(c, env.Data)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func decode(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return failf(http.StatusBadRequest, "invalid action data: %v", err)
	}
	return nil
}

// ----------------------------------------
// Trading actions
// ----------------------------------------

type executeTradeRequest struct {
	UserID     string   `json:"user_id"`
	AccountID  string   `json:"account_id"`
	SessionID  string   `json:"session_id"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	LotSize    float64  `json:"lot_size"`
	OpenPrice  float64  `json:"open_price"`
	StopLoss   float64  `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

func (s *Server) executeTrade(c *gin.Context, data json.RawMessage) (any, error) {
	var req executeTradeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, failf(http.StatusBadRequest, "user_id is required")
	}
	if req.Side != db.SideBuy && req.Side != db.SideSell {
		return nil, failf(http.StatusBadRequest, "side must be BUY or SELL")
	}
	if req.LotSize <= 0 {
		return nil, failf(http.StatusBadRequest, "lot_size must be positive")
	}
	if req.Symbol == "" {
		req.Symbol = s.Cfg.Symbol
	}

	openPrice := req.OpenPrice
	if openPrice <= 0 {
		spot, err := s.Market.Spot(c.Request.Context())
		if err != nil {
			return nil, fmt.Errorf("resolve open price: %w", err)
		}
		openPrice = spot
	}

	res, err := s.Provider.ExecuteOrder(c.Request.Context(), provider.OrderRequest{
		UserID:     req.UserID,
		AccountID:  req.AccountID,
		SessionID:  req.SessionID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        req.LotSize,
		OpenPrice:  openPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type closeTradeRequest struct {
	Ticket string   `json:"ticket"`
	Lots   *float64 `json:"lots"`
}

func (s *Server) closeTrade(c *gin.Context, data json.RawMessage) (any, error) {
	var req closeTradeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Ticket == "" {
		return nil, failf(http.StatusBadRequest, "ticket is required")
	}
	return s.Provider.CloseOrder(c.Request.Context(), req.Ticket, req.Lots)
}

// ----------------------------------------
// Market data actions
// ----------------------------------------

type historicalRequest struct {
	Interval   string `json:"interval"`
	Outputsize string `json:"outputsize"`
}

func (s *Server) updatePrices(c *gin.Context, data json.RawMessage) (any, error) {
	req := historicalRequest{Interval: "15m", Outputsize: "compact"}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	candles, err := s.Market.History(c.Request.Context(), req.Interval, req.Outputsize)
	if err != nil {
		return nil, err
	}
	n, err := s.DB.UpsertCandles(c.Request.Context(), candles)
	if err != nil {
		return nil, err
	}
	return gin.H{"upserted": n, "interval": req.Interval}, nil
}

func (s *Server) getCurrentPrice(c *gin.Context, data json.RawMessage) (any, error) {
	price, err := s.Market.Spot(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"symbol": s.Cfg.Symbol, "price": price, "fetched_at": time.Now().UTC()}, nil
}

func (s *Server) fetchHistoricalData(c *gin.Context, data json.RawMessage) (any, error) {
	req := historicalRequest{Interval: "daily", Outputsize: "compact"}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	candles, err := s.Market.History(c.Request.Context(), req.Interval, req.Outputsize)
	if err != nil {
		return nil, err
	}
	return gin.H{"symbol": s.Cfg.Symbol, "interval": req.Interval, "candles": candles}, nil
}

// ----------------------------------------
// Bot & backtest actions
// ----------------------------------------

func (s *Server) runBotLogic(c *gin.Context, data json.RawMessage) (any, error) {
	return s.Bot.Run(c.Request.Context())
}

type backtestRequest struct {
	UserID         string              `json:"user_id"`
	Symbol         string              `json:"symbol"`
	Timeframe      string              `json:"timeframe"`
	StartDate      string              `json:"start_date"`
	EndDate        string              `json:"end_date"`
	StrategyMode   string              `json:"strategy_mode"`
	StrategyParams json.RawMessage     `json:"strategy_params"`
	RiskParams     backtest.RiskParams `json:"risk_params"`
}

func (s *Server) runBacktest(c *gin.Context, data json.RawMessage) (any, error) {
	var req backtestRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.StartDate == "" || req.EndDate == "" {
		return nil, failf(http.StatusBadRequest, "start_date and end_date are required")
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return nil, failf(http.StatusBadRequest, "invalid start_date: %v", err)
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return nil, failf(http.StatusBadRequest, "invalid end_date: %v", err)
	}
	if !end.After(start) {
		return nil, failf(http.StatusBadRequest, "end_date must be after start_date")
	}
	if req.Symbol == "" {
		req.Symbol = s.Cfg.Symbol
	}
	if req.Timeframe == "" {
		return nil, failf(http.StatusBadRequest, "timeframe is required")
	}

	params, err := strategy.ParseParams(s.Defaults, string(req.StrategyParams))
	if err != nil {
		return nil, failf(http.StatusBadRequest, "%v", err)
	}

	report, trades, err := s.Backtest.Run(c.Request.Context(), backtest.Request{
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Timeframe:    req.Timeframe,
		StartDate:    start,
		EndDate:      end,
		StrategyMode: req.StrategyMode,
		Params:       params,
		Risk:         req.RiskParams,
	})
	if err != nil {
		return nil, err
	}
	return gin.H{"report": report, "trades": trades}, nil
}

type reportRequest struct {
	ReportID string `json:"report_id"`
}

func (s *Server) getBacktestReport(c *gin.Context, data json.RawMessage) (any, error) {
	var req reportRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ReportID == "" {
		return nil, failf(http.StatusBadRequest, "report_id is required")
	}
	report, trades, err := s.DB.GetBacktest(c.Request.Context(), req.ReportID)
	if err != nil {
		return nil, err
	}
	return gin.H{"report": report, "trades": trades}, nil
}

type listBacktestsRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

func (s *Server) listBacktests(c *gin.Context, data json.RawMessage) (any, error) {
	var req listBacktestsRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	reports, err := s.DB.ListBacktests(c.Request.Context(), req.UserID, req.Limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"reports": reports}, nil
}

// ----------------------------------------
// Provider pass-throughs
// ----------------------------------------

type accountRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) getAccountSummary(c *gin.Context, data json.RawMessage) (any, error) {
	var req accountRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return s.Provider.AccountSummary(c.Request.Context(), req.AccountID)
}

func (s *Server) listOpenPositions(c *gin.Context, data json.RawMessage) (any, error) {
	var req accountRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	positions, err := s.Provider.OpenPositions(c.Request.Context(), req.AccountID)
	if err != nil {
		return nil, err
	}
	return gin.H{"positions": positions}, nil
}

func (s *Server) getServerTime(c *gin.Context, data json.RawMessage) (any, error) {
	t, err := s.Provider.ServerTime(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"time": t.UTC().Format(time.RFC3339)}, nil
}

// ----------------------------------------
// Accounts & admin
// ----------------------------------------

type upsertAccountRequest struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	AccountType string  `json:"account_type"`
	Balance     float64 `json:"balance"`
	Currency    string  `json:"currency"`
}

func (s *Server) upsertTradingAccount(c *gin.Context, data json.RawMessage) (any, error) {
	var req upsertAccountRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" || req.Name == "" {
		return nil, failf(http.StatusBadRequest, "user_id and name are required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.AccountType == "" {
		req.AccountType = "demo"
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	account := db.TradingAccount{
		ID:          req.ID,
		UserID:      req.UserID,
		Name:        req.Name,
		AccountType: req.AccountType,
		Balance:     req.Balance,
		Currency:    req.Currency,
	}
	if err := s.DB.UpsertTradingAccount(c.Request.Context(), account); err != nil {
		return nil, err
	}
	return gin.H{"id": req.ID}, nil
}

func (s *Server) adminEnvStatus(c *gin.Context, data json.RawMessage) (any, error) {
	if err := authorizeAdmin(c, s.Cfg.AdminJWTSecret); err != nil {
		if errors.Is(err, errAdminDisabled) {
			return nil, err
		}
		return nil, failf(http.StatusUnauthorized, "%v", err)
	}

	// Presence only, except TRADE_PROVIDER_TYPE, which is reported by value.
	return gin.H{
		"DB_PATH":                      s.Cfg.DBPath != "",
		"MARKET_API_KEY":               s.Cfg.MarketAPIKey != "",
		"TRADE_PROVIDER_TYPE":          s.Cfg.ProviderType,
		"MT_BRIDGE_URL":                s.Cfg.BridgeURL != "",
		"MT_BRIDGE_API_KEY":            s.Cfg.BridgeAPIKey != "",
		"SENDGRID_API_KEY":             s.Cfg.SendGridAPIKey != "",
		"FROM_EMAIL":                   s.Cfg.FromEmail != "",
		"NOTIFICATION_EMAIL_RECIPIENT": s.Cfg.NotifyEmail != "",
		"ADMIN_JWT_SECRET":             true,
	}, nil
}

func (s *Server) adminUsersOverview(c *gin.Context, data json.RawMessage) (any, error) {
	if err := authorizeAdmin(c, s.Cfg.AdminJWTSecret); err != nil {
		if errors.Is(err, errAdminDisabled) {
			return nil, err
		}
		return nil, failf(http.StatusUnauthorized, "%v", err)
	}
	users, err := s.DB.ListUsersOverview(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"users": users}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
