// Package market wraps the off-chain data providers: the DEX pair aggregator,
// the token-price API, and the bridge explorer. All calls ride the HTTP shell
// and read through the TTL cache.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rug-tracer/pkg/httpshell"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/store"
)

type Client struct {
	shell *httpshell.Shell
	cache store.Cache

	dexBase      string
	jupiterBase  string
	wormholeBase string
	cacheTTL     time.Duration
}

func NewClient(shell *httpshell.Shell, cache store.Cache, dexBase, jupiterBase, wormholeBase string, cacheTTL time.Duration) *Client {
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}
	return &Client{
		shell:        shell,
		cache:        cache,
		dexBase:      dexBase,
		jupiterBase:  jupiterBase,
		wormholeBase: wormholeBase,
		cacheTTL:     cacheTTL,
	}
}

// ---- DEX aggregator ----

type Pair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	URL       string `json:"url"`
	PairAddr  string `json:"pairAddress"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	Info struct {
		ImageURL string `json:"imageUrl"`
	} `json:"info"`
	PriceUSD  string  `json:"priceUsd"`
	MarketCap float64 `json:"marketCap"`
	FDV       float64 `json:"fdv"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Txns struct {
		H1  TxnBucket `json:"h1"`
		H6  TxnBucket `json:"h6"`
		H24 TxnBucket `json:"h24"`
	} `json:"txns"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H6  float64 `json:"h6"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	PairCreatedAt int64 `json:"pairCreatedAt"` // milliseconds
}

type TxnBucket struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Price parses the string-typed priceUsd field.
func (p *Pair) Price() float64 {
	v, _ := strconv.ParseFloat(p.PriceUSD, 64)
	return v
}

func (p *Pair) CreatedTime() time.Time {
	if p.PairCreatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.PairCreatedAt).UTC()
}

// TokenPairs returns every pair listed for a mint, cached.
func (c *Client) TokenPairs(ctx context.Context, mint string) []Pair {
	return c.fetchPairs(ctx, "pairs:"+mint, fmt.Sprintf("%s/latest/dex/tokens/%s", c.dexBase, mint))
}

// SearchPairs queries the aggregator by free text (name or symbol), cached.
func (c *Client) SearchPairs(ctx context.Context, query string) []Pair {
	return c.fetchPairs(ctx, "search:"+query, fmt.Sprintf("%s/latest/dex/search?q=%s", c.dexBase, url.QueryEscape(query)))
}

func (c *Client) fetchPairs(ctx context.Context, cacheKey, requestURL string) []Pair {
	if cached, ok := c.cache.Get(cacheKey); ok {
		var pairs []Pair
		if json.Unmarshal(cached, &pairs) == nil {
			return pairs
		}
	}

	body := c.shell.GetJSON(ctx, httpshell.ServiceDexScreener, requestURL, nil)
	if body == nil {
		return nil
	}

	var result struct {
		Pairs []Pair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		log.Debug().Err(err).Str("url", requestURL).Msg("pair list unmarshal")
		return nil
	}

	if blob, err := json.Marshal(result.Pairs); err == nil {
		c.cache.Set(cacheKey, blob, c.cacheTTL)
	}
	return result.Pairs
}

// BestPair picks the highest-liquidity Solana pair, or nil.
func BestPair(pairs []Pair) *Pair {
	var best *Pair
	for i := range pairs {
		p := &pairs[i]
		if p.ChainID != "solana" {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return best
}

// SolanaTokens converts a pair list into candidate tokens, deduped by mint
// and filtered to Solana, ordered by liquidity.
func SolanaTokens(pairs []Pair) []model.Token {
	byMint := map[string]*Pair{}
	for i := range pairs {
		p := &pairs[i]
		if p.ChainID != "solana" || p.BaseToken.Address == "" {
			continue
		}
		if prev, ok := byMint[p.BaseToken.Address]; !ok || p.Liquidity.USD > prev.Liquidity.USD {
			byMint[p.BaseToken.Address] = p
		}
	}

	tokens := make([]model.Token, 0, len(byMint))
	for _, p := range byMint {
		tokens = append(tokens, PairToken(p))
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].LiquidityUSD > tokens[j].LiquidityUSD })
	return tokens
}

// PairToken maps an aggregator pair onto the token model.
func PairToken(p *Pair) model.Token {
	mcap := p.MarketCap
	if mcap == 0 {
		mcap = p.FDV
	}
	return model.Token{
		Mint:         p.BaseToken.Address,
		Name:         p.BaseToken.Name,
		Symbol:       p.BaseToken.Symbol,
		ImageURL:     p.Info.ImageURL,
		CreatedAt:    p.CreatedTime(),
		MarketCapUSD: mcap,
		LiquidityUSD: p.Liquidity.USD,
		VolumeH24USD: p.Volume.H24,
		DexURL:       p.URL,
	}
}

// TotalLiquidity sums liquidity across every Solana pair of a mint.
func (c *Client) TotalLiquidity(ctx context.Context, mint string) float64 {
	total := 0.0
	for _, p := range c.TokenPairs(ctx, mint) {
		if p.ChainID == "solana" {
			total += p.Liquidity.USD
		}
	}
	return total
}

// FetchImage downloads a token image through the unthrottled image client.
func (c *Client) FetchImage(ctx context.Context, imageURL string) []byte {
	if imageURL == "" {
		return nil
	}
	cacheKey := "img:" + imageURL
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached
	}
	body := c.shell.GetJSON(ctx, httpshell.ServiceImage, imageURL, nil)
	if body != nil {
		c.cache.Set(cacheKey, body, c.cacheTTL)
	}
	return body
}
