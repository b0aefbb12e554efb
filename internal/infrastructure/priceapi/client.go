package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// Client - REST-клиент price API. Реализует domain.PriceGateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LatestPrice возвращает текущую цену актива: current_price последней
// минутной свечи, либо ее close, если current_price не пришел.
func (c *Client) LatestPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	resp, err := c.fetch(ctx, asset, "1m:1")
	if err != nil {
		return decimal.Zero, err
	}

	candles := resp.Data["1m"]
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("no 1m candles for %s", asset)
	}

	latest := candles[len(candles)-1]
	price := latest.CurrentPrice
	if price.IsZero() {
		price = latest.Close
	}
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("empty price in payload for %s", asset)
	}
	return price, nil
}

// Candles fetches OHLCV series keyed by timeframe.
// frames uses the provider syntax, e.g. "1m:35,5m:70,1h:30".
func (c *Client) Candles(ctx context.Context, asset, frames string) (map[string][]domain.Candle, error) {
	resp, err := c.fetch(ctx, asset, frames)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]domain.Candle, len(resp.Data))
	for frame, dtos := range resp.Data {
		series := make([]domain.Candle, 0, len(dtos))
		for _, dto := range dtos {
			series = append(series, dto.toDomain())
		}
		out[frame] = series
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no candle data for %s", asset)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, asset, frames string) (*CandlesResponse, error) {
	params := url.Values{}
	params.Set("asset", strings.ToUpper(asset))
	params.Set("frames", frames)

	fullURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price api returned %d for %s", resp.StatusCode, asset)
	}

	var parsed CandlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse price payload for %s: %w", asset, err)
	}
	return &parsed, nil
}
