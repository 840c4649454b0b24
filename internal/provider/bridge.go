package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const bridgeAPIKeyHeader = "X-MT-Bridge-API-Key"

// Bridge forwards each operation to the MetaTrader HTTP bridge.
type Bridge struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewBridge builds the HTTP bridge provider.
func NewBridge(baseURL, apiKey string) *Bridge {
	return &Bridge{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *Bridge) Name() string { return "metatrader-bridge" }

type bridgeExecutePayload struct {
	Symbol          string   `json:"symbol"`
	Type            string   `json:"type"`
	Lots            float64  `json:"lots"`
	Price           float64  `json:"price"`
	StopLossPrice   float64  `json:"stopLossPrice"`
	TakeProfitPrice *float64 `json:"takeProfitPrice,omitempty"`
	MagicNumber     int      `json:"magicNumber"`
	Comment         string   `json:"comment"`
}

type bridgeOrderResponse struct {
	Success    bool            `json:"success"`
	Ticket     json.RawMessage `json:"ticket"`
	ClosePrice *float64        `json:"closePrice"`
	Profit     *float64        `json:"profit"`
	Error      string          `json:"error"`
}

func (b *Bridge) ExecuteOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	payload := bridgeExecutePayload{
		Symbol:          req.Symbol,
		Type:            req.Side,
		Lots:            req.Lot,
		Price:           req.OpenPrice,
		StopLossPrice:   req.StopLoss,
		TakeProfitPrice: req.TakeProfit,
		MagicNumber:     20101, // engine-tagged orders
		Comment:         "xau-engine " + req.SessionID,
	}

	var res bridgeOrderResponse
	decoded, err := b.call(ctx, http.MethodPost, "/order/execute", payload, &res)
	if err != nil {
		return OrderResult{}, err
	}
	if !decoded {
		return OrderResult{Success: true}, nil
	}
	if !res.Success {
		return OrderResult{Success: false, Error: bridgeError("/order/execute", res.Error)}, nil
	}
	return OrderResult{Success: true, Ticket: stringifyTicket(res.Ticket)}, nil
}

func (b *Bridge) CloseOrder(ctx context.Context, ticket string, lots *float64) (CloseResult, error) {
	payload := map[string]any{"ticket": ticket}
	if lots != nil {
		payload["lots"] = *lots
	}

	var res bridgeOrderResponse
	decoded, err := b.call(ctx, http.MethodPost, "/order/close", payload, &res)
	if err != nil {
		return CloseResult{}, err
	}
	if !decoded {
		return CloseResult{Success: true, Ticket: ticket}, nil
	}
	if !res.Success {
		return CloseResult{Success: false, Ticket: ticket, Error: bridgeError("/order/close", res.Error)}, nil
	}
	return CloseResult{Success: true, Ticket: ticket, ClosePrice: res.ClosePrice, Profit: res.Profit}, nil
}

func (b *Bridge) AccountSummary(ctx context.Context, accountID string) (AccountSummary, error) {
	var res struct {
		AccountSummary
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if _, err := b.call(ctx, http.MethodGet, "/account/summary", nil, &res); err != nil {
		return AccountSummary{}, err
	}
	if res.Success != nil && !*res.Success {
		return AccountSummary{}, fmt.Errorf("%s", bridgeError("/account/summary", res.Error))
	}
	return res.AccountSummary, nil
}

func (b *Bridge) OpenPositions(ctx context.Context, accountID string) ([]OpenPosition, error) {
	var res struct {
		Positions []struct {
			Ticket     json.RawMessage `json:"ticket"`
			Symbol     string          `json:"symbol"`
			Type       string          `json:"type"`
			Lots       float64         `json:"lots"`
			OpenPrice  float64         `json:"openPrice"`
			StopLoss   float64         `json:"stopLoss"`
			TakeProfit *float64        `json:"takeProfit"`
			OpenTime   string          `json:"openTime"`
		} `json:"positions"`
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if _, err := b.call(ctx, http.MethodGet, "/positions/open", nil, &res); err != nil {
		return nil, err
	}
	if res.Success != nil && !*res.Success {
		return nil, fmt.Errorf("%s", bridgeError("/positions/open", res.Error))
	}

	out := make([]OpenPosition, 0, len(res.Positions))
	for _, p := range res.Positions {
		pos := OpenPosition{
			Ticket:     stringifyTicket(p.Ticket),
			Symbol:     p.Symbol,
			Side:       strings.ToUpper(p.Type),
			Lot:        p.Lots,
			OpenPrice:  p.OpenPrice,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
		}
		if t, err := time.Parse(time.RFC3339, p.OpenTime); err == nil {
			pos.OpenedAt = t
		}
		out = append(out, pos)
	}
	return out, nil
}

func (b *Bridge) ServerTime(ctx context.Context) (time.Time, error) {
	var res struct {
		ServerTime string `json:"serverTime"`
		Success    *bool  `json:"success"`
		Error      string `json:"error"`
	}
	if _, err := b.call(ctx, http.MethodGet, "/server/time", nil, &res); err != nil {
		return time.Time{}, err
	}
	if res.Success != nil && !*res.Success {
		return time.Time{}, fmt.Errorf("%s", bridgeError("/server/time", res.Error))
	}
	t, err := time.Parse(time.RFC3339, res.ServerTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("bridge /server/time: parse %q: %w", res.ServerTime, err)
	}
	return t, nil
}

// call performs one bridge request and decodes the JSON body into out. The
// returned bool is false for 202/204 responses, which count as success with an
// empty body. Non-2xx statuses and undecodable bodies become errors tagged
// with the endpoint.
func (b *Bridge) call(ctx context.Context, method, endpoint string, payload, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("bridge %s: encode request: %w", endpoint, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+endpoint, body)
	if err != nil {
		return false, fmt.Errorf("bridge %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(bridgeAPIKeyHeader, b.APIKey)

	res, err := b.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("bridge %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusAccepted || res.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return false, fmt.Errorf("bridge %s: status %d", endpoint, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return false, fmt.Errorf("bridge %s: decode response: %w", endpoint, err)
	}
	return true, nil
}

func bridgeError(endpoint, msg string) string {
	if msg == "" {
		msg = "bridge reported failure"
	}
	return fmt.Sprintf("%s: %s", endpoint, msg)
}

// stringifyTicket accepts numeric or string tickets and always returns text.
func stringifyTicket(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return strings.Trim(string(raw), `"`)
}
