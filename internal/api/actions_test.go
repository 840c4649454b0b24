package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xau-engine/internal/backtest"
	"xau-engine/internal/bot"
	"xau-engine/internal/events"
	"xau-engine/internal/marketdata"
	"xau-engine/internal/notify"
	"xau-engine/internal/provider"
	"xau-engine/internal/strategy"
	"xau-engine/pkg/config"
	"xau-engine/pkg/db"
)

type stubMarket struct {
	spot    float64
	history []db.Candle
}

func (m *stubMarket) Spot(ctx context.Context) (float64, error) { return m.spot, nil }

func (m *stubMarket) History(ctx context.Context, interval, outputsize string) ([]db.Candle, error) {
	return m.history, nil
}

type spotFunc func(ctx context.Context) (float64, error)

func (f spotFunc) FetchSpot(ctx context.Context) (float64, error) { return f(ctx) }

func testCandles(n int) []db.Candle {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]db.Candle, n)
	for i := range out {
		price := 2000.0 + float64(i)
		out[i] = db.Candle{
			ID: uuid.NewString(), Symbol: "XAUUSD", Timeframe: "15m",
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price, High: price + 2, Low: price - 2, Close: price + 1,
		}
	}
	return out
}

func newTestServer(t *testing.T, adminSecret string) (*httptest.Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		DBPath:         ":memory:",
		MarketAPIKey:   "k",
		ProviderType:   config.ProviderSimulated,
		DefaultBalance: 10000,
		AdminJWTSecret: adminSecret,
		Symbol:         "XAUUSD",
	}

	market := &stubMarket{spot: 2345.67, history: testCandles(40)}
	cache := marketdata.NewSpotCache(spotFunc(func(ctx context.Context) (float64, error) {
		return market.spot, nil
	}))
	prov := provider.NewSimulated(database, cache, cfg.DefaultBalance)
	bus := events.NewBus()
	notifier := notify.NewService(database, nil, bus)
	defaults := strategy.DefaultParams()
	runner := bot.NewRunner(database, market, prov, notifier, bus, defaults, cfg.Symbol)
	bt := backtest.NewEngine(database, notifier, bus)

	server := NewServer(cfg, database, market, prov, runner, bt, bus, defaults)
	srv := httptest.NewServer(server.Router)
	t.Cleanup(srv.Close)
	return srv, database
}

func post(t *testing.T, srv *httptest.Server, action string, data any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	body := map[string]any{"action": action}
	if data != nil {
		body["data"] = data
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/actions", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(res.Body).Decode(&decoded)
	return res, decoded
}

func TestUnknownActionFails(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, body := post(t, srv, "warp_drive", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body["error"], "warp_drive")
}

func TestPreflightAnsweredWithoutDispatch(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/actions", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestGetCurrentPrice(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, body := post(t, srv, "get_current_price_action", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "XAUUSD", body["symbol"])
	assert.InDelta(t, 2345.67, body["price"].(float64), 1e-9)
}

func TestExecuteAndCloseTrade(t *testing.T) {
	srv, database := newTestServer(t, "")

	res, body := post(t, srv, "execute_trade", map[string]any{
		"user_id": "u1", "side": "BUY", "lot_size": 0.01,
		"open_price": 2000.0, "stop_loss": 1990.0,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["success"])
	ticket, _ := body["ticket"].(string)
	require.NotEmpty(t, ticket)

	trade, err := database.GetTradeByTicket(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, db.TradeOpen, trade.Status)

	res, body = post(t, srv, "close_trade", map[string]any{"ticket": ticket}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["success"])

	trade, err = database.GetTradeByTicket(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, db.TradeClosed, trade.Status)
}

func TestExecuteTradeValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	res, _ := post(t, srv, "execute_trade", map[string]any{
		"user_id": "u1", "side": "HOLD", "lot_size": 0.01,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = post(t, srv, "execute_trade", map[string]any{
		"side": "BUY", "lot_size": 0.01,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestUpdatePricesPersistsCandles(t *testing.T) {
	srv, database := newTestServer(t, "")

	res, body := post(t, srv, "update_prices", map[string]any{"interval": "15m"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(40), body["upserted"])

	stored, err := database.CandlesInRange(context.Background(), "XAUUSD", "15m",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, stored, 40)
}

func TestRunBacktestRequiresDates(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, body := post(t, srv, "run_backtest_action", map[string]any{
		"timeframe": "15m",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body["error"], "start_date")
}

func TestRunBacktestInsufficientData(t *testing.T) {
	srv, _ := newTestServer(t, "")
	// Store has no candles in this window.
	res, _ := post(t, srv, "run_backtest_action", map[string]any{
		"timeframe":  "15m",
		"start_date": "2020-01-01",
		"end_date":   "2020-02-01",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestBacktestRoundTripThroughActions(t *testing.T) {
	srv, _ := newTestServer(t, "")

	// Seed the archive through the action surface, then replay it.
	res, _ := post(t, srv, "update_prices", map[string]any{"interval": "15m"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body := post(t, srv, "run_backtest_action", map[string]any{
		"user_id":    "u1",
		"timeframe":  "15m",
		"start_date": "2024-03-01",
		"end_date":   "2024-03-02",
		"strategy_mode": "SMA_ONLY",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	report := body["report"].(map[string]any)
	reportID := report["ID"].(string)

	res, body = post(t, srv, "get_backtest_report_action", map[string]any{"report_id": reportID}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotNil(t, body["report"])

	res, body = post(t, srv, "list_backtests_action", map[string]any{"user_id": "u1"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	reports := body["reports"].([]any)
	assert.Len(t, reports, 1)
}

func TestProviderPassThroughs(t *testing.T) {
	srv, _ := newTestServer(t, "")

	res, body := post(t, srv, "provider_get_account_summary", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 10000.0, body["balance"])

	res, body = post(t, srv, "provider_list_open_positions", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotNil(t, body)

	res, body = post(t, srv, "provider_get_server_time", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, body["time"])
}

func TestUpsertTradingAccountAction(t *testing.T) {
	srv, database := newTestServer(t, "")

	res, body := post(t, srv, "upsert_trading_account_action", map[string]any{
		"user_id": "u1", "name": "demo", "balance": 5000.0,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	id := body["id"].(string)

	acct, err := database.GetTradingAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, acct.Balance)
}

func adminToken(t *testing.T, secret, role string) string {
	t.Helper()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAdminActionsRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, "top-secret")

	res, _ := post(t, srv, "admin_get_env_variables_status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = post(t, srv, "admin_get_env_variables_status", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t, "wrong-secret", "admin"),
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = post(t, srv, "admin_get_env_variables_status", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t, "top-secret", "viewer"),
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body := post(t, srv, "admin_get_env_variables_status", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t, "top-secret", "admin"),
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["MARKET_API_KEY"])
}

func TestAdminActionsDisabledWithoutSecret(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, _ := post(t, srv, "admin_list_users_overview", nil, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestAdminUsersOverview(t *testing.T) {
	srv, database := newTestServer(t, "s3cret")
	_, err := database.DB.Exec(`INSERT INTO users (id, email) VALUES (?, ?)`, "u1", "trader@example.com")
	require.NoError(t, err)

	res, body := post(t, srv, "admin_list_users_overview", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t, "s3cret", "admin"),
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	users := body["users"].([]any)
	require.Len(t, users, 1)
	first := users[0].(map[string]any)
	assert.Equal(t, "trader@example.com", first["Email"])
}

func TestRunBotLogicThroughRouter(t *testing.T) {
	srv, database := newTestServer(t, "")
	require.NoError(t, database.InsertSession(context.Background(), db.BotSession{
		ID: uuid.NewString(), UserID: "u1", RiskLevel: "conservative",
		StrategyMode: strategy.ModeBreakoutOnly, Status: db.SessionActive,
	}))

	res, body := post(t, srv, "run_bot_logic", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), body["sessions"])
	assert.Equal(t, float64(0), body["trades"])
}
