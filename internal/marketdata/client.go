// Package marketdata fetches XAUUSD spot and historical candles from the
// upstream FX API and normalizes them into store candles.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"xau-engine/pkg/db"
)

var (
	// ErrRateLimited is returned when the upstream rejects the call for
	// frequency reasons; callers may retry later.
	ErrRateLimited = errors.New("market api rate limited")
)

// Interval values accepted by FetchHistorical.
var intervalMap = map[string]string{
	"1m":      "1min",
	"5m":      "5min",
	"15m":     "15min",
	"30m":     "30min",
	"60m":     "60min",
	"daily":   "daily",
	"weekly":  "weekly",
	"monthly": "monthly",
}

// Client wraps REST access to the market-data API.
type Client struct {
	APIKey     string
	BaseURL    string
	Symbol     string
	HTTPClient *http.Client
}

// NewClient builds a REST client for the given API key.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Symbol:     "XAUUSD",
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchSpot returns the current XAU->USD rate.
func (c *Client) FetchSpot(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("function", "CURRENCY_EXCHANGE_RATE")
	params.Set("from_currency", "XAU")
	params.Set("to_currency", "USD")
	params.Set("apikey", c.APIKey)

	body, err := c.get(ctx, params)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Rate map[string]string `json:"Realtime Currency Exchange Rate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse spot payload: %w", err)
	}
	raw, ok := payload.Rate["5. Exchange Rate"]
	if !ok {
		if err := rateLimitError(body); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("spot payload missing exchange rate")
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse spot rate %q: %w", raw, err)
	}
	return price, nil
}

// FetchHistorical returns OHLC candles ascending by timestamp. interval is one
// of 1m/5m/15m/30m/60m/daily/weekly/monthly; outputsize is compact or full.
// Intraday FX series carry no volume; it defaults to zero.
func (c *Client) FetchHistorical(ctx context.Context, interval, outputsize string) ([]db.Candle, error) {
	upstream, ok := intervalMap[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	if outputsize == "" {
		outputsize = "compact"
	}
	if outputsize != "compact" && outputsize != "full" {
		return nil, fmt.Errorf("unsupported outputsize %q", outputsize)
	}

	params := url.Values{}
	params.Set("from_symbol", "XAU")
	params.Set("to_symbol", "USD")
	params.Set("outputsize", outputsize)
	params.Set("apikey", c.APIKey)
	switch upstream {
	case "daily":
		params.Set("function", "FX_DAILY")
	case "weekly":
		params.Set("function", "FX_WEEKLY")
	case "monthly":
		params.Set("function", "FX_MONTHLY")
	default:
		params.Set("function", "FX_INTRADAY")
		params.Set("interval", upstream)
	}

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	return c.parseSeries(body, interval)
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	u := fmt.Sprintf("%s/query?%s", c.BaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market api request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market api status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read market api response: %w", err)
	}
	return body, nil
}

// rateLimitError detects throttle messages the upstream hides inside a 200
// response; they must surface as retryable, not as parse failures.
func rateLimitError(body []byte) error {
	var msg struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
		Error       string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil
	}
	for _, s := range []string{msg.Note, msg.Information} {
		if strings.Contains(s, "call frequency") || strings.Contains(s, "Thank you for using") {
			return fmt.Errorf("%w: %s", ErrRateLimited, s)
		}
	}
	if msg.Error != "" {
		return fmt.Errorf("market api error: %s", msg.Error)
	}
	return nil
}

func (c *Client) parseSeries(body []byte, timeframe string) ([]db.Candle, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse series payload: %w", err)
	}

	var seriesKey string
	for k := range raw {
		if strings.HasPrefix(k, "Time Series") {
			seriesKey = k
			break
		}
	}
	if seriesKey == "" {
		if err := rateLimitError(body); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("series payload missing time series")
	}

	var series map[string]map[string]string
	if err := json.Unmarshal(raw[seriesKey], &series); err != nil {
		return nil, fmt.Errorf("parse time series: %w", err)
	}

	candles := make([]db.Candle, 0, len(series))
	for stamp, fields := range series {
		ts, err := parseStamp(stamp)
		if err != nil {
			return nil, err
		}
		candle := db.Candle{
			ID:        uuid.NewString(),
			Symbol:    c.Symbol,
			Timeframe: timeframe,
			Timestamp: ts,
			Open:      parseField(fields, "1. open"),
			High:      parseField(fields, "2. high"),
			Low:       parseField(fields, "3. low"),
			Close:     parseField(fields, "4. close"),
			Volume:    parseField(fields, "5. volume"), // absent for FX: zero
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

func parseStamp(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

func parseField(fields map[string]string, key string) float64 {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
