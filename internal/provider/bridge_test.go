package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeServer(t *testing.T, handler http.HandlerFunc) *Bridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBridge(srv.URL, "secret-key")
}

func TestBridgeExecuteOrder(t *testing.T) {
	tp := 2025.0
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order/execute", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("X-MT-Bridge-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "XAUUSD", payload["symbol"])
		assert.Equal(t, "BUY", payload["type"])
		assert.Equal(t, 2025.0, payload["takeProfitPrice"])

		// Numeric ticket must come back stringified.
		w.Write([]byte(`{"success": true, "ticket": 123456}`))
	})

	res, err := b.ExecuteOrder(context.Background(), OrderRequest{
		Symbol: "XAUUSD", Side: "BUY", Lot: 0.01,
		OpenPrice: 2015, StopLoss: 2010, TakeProfit: &tp,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "123456", res.Ticket)
}

func TestBridgeExecuteFailurePayload(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "market closed"}`))
	})

	res, err := b.ExecuteOrder(context.Background(), OrderRequest{Symbol: "XAUUSD", Side: "BUY", Lot: 0.01, OpenPrice: 2000, StopLoss: 1990})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "/order/execute")
	assert.Contains(t, res.Error, "market closed")
}

func TestBridgeNon2xxTaggedWithEndpoint(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := b.CloseOrder(context.Background(), "42", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/order/close")
	assert.Contains(t, err.Error(), "502")
}

func TestBridgeAcceptedIsEmptySuccess(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	res, err := b.CloseOrder(context.Background(), "42", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Ticket)
	assert.Nil(t, res.Profit)
}

func TestBridgeAccountSummary(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/summary", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"balance": 5000, "equity": 5100, "margin": 200, "freeMargin": 4900, "currency": "USD"}`))
	})

	sum, err := b.AccountSummary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, sum.Balance)
	assert.Equal(t, "USD", sum.Currency)
}

func TestBridgeOpenPositions(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions/open", r.URL.Path)
		w.Write([]byte(`{"positions": [
			{"ticket": 7, "symbol": "XAUUSD", "type": "sell", "lots": 0.05,
			 "openPrice": 2000, "stopLoss": 2015, "openTime": "2024-03-01T12:00:00Z"}
		]}`))
	})

	positions, err := b.OpenPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "7", positions[0].Ticket)
	assert.Equal(t, "SELL", positions[0].Side)
	assert.Equal(t, 0.05, positions[0].Lot)
	assert.False(t, positions[0].OpenedAt.IsZero())
}

func TestBridgeServerTime(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/server/time", r.URL.Path)
		w.Write([]byte(`{"serverTime": "2024-03-01T12:34:56Z"}`))
	})

	ts, err := b.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 34, ts.Minute())
}

func TestBridgeParseFailure(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := b.ServerTime(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/server/time")
}
