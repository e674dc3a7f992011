// Package coinbase is a minimal client for the public Coinbase Exchange
// market-data API: REST candles and tickers plus the websocket ticker feed.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// maxCandles is the most the candles endpoint returns per request.
const maxCandles = 300

// Limiter throttles outgoing requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client is the REST client for the public market-data endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    Limiter
}

// NewClient creates a Client.
//
// baseURL is the REST root, e.g. "https://api.exchange.coinbase.com".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetLimiter makes every request wait on l first.
func (c *Client) SetLimiter(l Limiter) {
	c.limiter = l
}

// Candles returns up to limit bars for product, oldest first. granularity
// is the bar width in seconds (60, 300, 900, 3600, 21600 or 86400).
func (c *Client) Candles(ctx context.Context, product string, granularity, limit int) ([]domain.Bar, error) {
	if limit <= 0 || limit > maxCandles {
		limit = maxCandles
	}
	params := url.Values{}
	params.Set("granularity", strconv.Itoa(granularity))
	path := fmt.Sprintf("/products/%s/candles?%s", url.PathEscape(product), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("coinbase: candles %s: %w", product, err)
	}

	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("coinbase: decode candles: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		bar, ok := candleToBar(row)
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}
	// The API returns newest first.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// Ticker returns the last trade for product.
func (c *Client) Ticker(ctx context.Context, product string) (Tick, error) {
	body, err := c.doGet(ctx, fmt.Sprintf("/products/%s/ticker", url.PathEscape(product)))
	if err != nil {
		return Tick{}, fmt.Errorf("coinbase: ticker %s: %w", product, err)
	}

	var t restTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return Tick{}, fmt.Errorf("coinbase: decode ticker: %w", err)
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return Tick{}, fmt.Errorf("coinbase: ticker %s: bad price %q: %w", product, t.Price, err)
	}
	ts := t.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Tick{Product: product, Price: price, Time: ts}, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cryptobot")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
