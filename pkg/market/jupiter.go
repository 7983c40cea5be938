package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rug-tracer/pkg/httpshell"
)

const wrappedSOLMint = "So11111111111111111111111111111111111111112"

// Conservative fallback when the price API is down.
const fallbackSOLPrice = 150.0

// Prices fetches USD prices for a list of mints from the price aggregator.
// Missing entries are simply absent from the result.
func (c *Client) Prices(ctx context.Context, mints ...string) map[string]float64 {
	if len(mints) == 0 {
		return nil
	}

	requestURL := fmt.Sprintf("%s/price/v2?ids=%s", c.jupiterBase, strings.Join(mints, ","))
	body := c.shell.GetJSON(ctx, httpshell.ServiceJupiter, requestURL, nil)
	if body == nil {
		return nil
	}

	var result struct {
		Data map[string]*struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil
	}

	prices := map[string]float64{}
	for mint, entry := range result.Data {
		if entry == nil {
			continue
		}
		if v, err := strconv.ParseFloat(entry.Price, 64); err == nil && v > 0 {
			prices[mint] = v
		}
	}
	return prices
}

// SOLPrice returns the current SOL/USD price, cached for a minute, with a
// static fallback so USD figures stay roughly right when the API is down.
func (c *Client) SOLPrice(ctx context.Context) float64 {
	if cached, ok := c.cache.Get("solprice"); ok {
		if v, err := strconv.ParseFloat(string(cached), 64); err == nil {
			return v
		}
	}

	prices := c.Prices(ctx, wrappedSOLMint)
	if v, ok := prices[wrappedSOLMint]; ok {
		c.cache.Set("solprice", []byte(strconv.FormatFloat(v, 'f', -1, 64)), c.cacheTTL)
		return v
	}
	return fallbackSOLPrice
}
