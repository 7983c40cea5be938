// Package lineage reconstructs a token's family: the likely original (root)
// and the derivatives copying its name, art and deployer.
package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/similarity"
	"github.com/rug-tracer/pkg/store"
)

type Config struct {
	MaxDerivatives int
	Concurrency    int
	CacheTTL       time.Duration

	Weights         similarity.Weights
	NameThreshold   float64
	SymbolThreshold float64
}

type Engine struct {
	market *market.Client
	rpc    *rpc.Client
	store  *store.Store
	cache  store.Cache
	cfg    Config
}

func NewEngine(m *market.Client, r *rpc.Client, s *store.Store, cache store.Cache, cfg Config) *Engine {
	if cfg.MaxDerivatives == 0 {
		cfg.MaxDerivatives = 10
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Engine{market: m, rpc: r, store: s, cache: cache, cfg: cfg}
}

// Detect builds the LineageResult for a mint. Candidate enrichment errors
// drop the candidate; Detect itself never fails on upstream flakiness.
func (e *Engine) Detect(ctx context.Context, mint string) (*model.LineageResult, error) {
	cacheKey := "lineage:" + mint
	if cached, ok := e.cache.Get(cacheKey); ok {
		var result model.LineageResult
		if json.Unmarshal(cached, &result) == nil {
			return &result, nil
		}
	}

	pairs := e.market.TokenPairs(ctx, mint)
	best := market.BestPair(pairs)
	if best == nil {
		return nil, fmt.Errorf("no pairs for %s", labels.Short(mint))
	}
	query := market.PairToken(best)
	query.Mint = mint

	e.enrichOnChain(ctx, &query)

	if query.Name == "" && query.Symbol == "" {
		result := &model.LineageResult{QueryToken: query, Root: query, FamilySize: 1, Confidence: 0}
		e.cacheResult(cacheKey, result)
		return result, nil
	}

	candidates := e.findCandidates(ctx, query)
	scored := e.enrichCandidates(ctx, query, candidates)

	result := Assemble(query, scored, e.cfg.MaxDerivatives)
	e.cacheResult(cacheKey, result)

	log.Info().Str("mint", labels.Short(mint)).Int("family", result.FamilySize).
		Float64("confidence", result.Confidence).Msg("lineage resolved")
	return result, nil
}

func (e *Engine) cacheResult(key string, result *model.LineageResult) {
	if blob, err := json.Marshal(result); err == nil {
		e.cache.Set(key, blob, e.cfg.CacheTTL)
	}
}

// enrichOnChain fills deployer and creation time, preferring DAS when the
// node supports it.
func (e *Engine) enrichOnChain(ctx context.Context, tok *model.Token) {
	if asset, err := e.rpc.GetAsset(ctx, tok.Mint); err == nil && asset != nil {
		if creator := asset.VerifiedCreator(); creator != "" {
			tok.Deployer = creator
		}
		if tok.Name == "" {
			tok.Name = asset.Content.Metadata.Name
		}
		if tok.Symbol == "" {
			tok.Symbol = asset.Content.Metadata.Symbol
		}
		if tok.ImageURL == "" {
			tok.ImageURL = asset.Content.Links.Image
		}
		tok.MetadataURI = asset.Content.JSONURI
	}

	if tok.Deployer != "" && !tok.CreatedAt.IsZero() {
		return
	}
	deployer, createdAt, err := e.rpc.GetDeployerAndTimestamp(ctx, tok.Mint)
	if err != nil {
		log.Debug().Err(err).Str("mint", labels.Short(tok.Mint)).Msg("deployer lookup failed")
		return
	}
	if tok.Deployer == "" {
		tok.Deployer = deployer
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = createdAt
	}
}

// findCandidates searches the aggregator by name (fallback symbol) and
// pre-filters by cheap string similarity.
func (e *Engine) findCandidates(ctx context.Context, query model.Token) []model.Token {
	searchTerm := query.Name
	if searchTerm == "" {
		searchTerm = query.Symbol
	}

	pairs := e.market.SearchPairs(ctx, searchTerm)
	if len(pairs) == 0 && query.Symbol != "" && searchTerm != query.Symbol {
		pairs = e.market.SearchPairs(ctx, query.Symbol)
	}

	tokens := market.SolanaTokens(pairs)
	var candidates []model.Token
	for _, t := range tokens {
		if t.Mint == query.Mint {
			continue
		}
		if similarity.NameScore(query.Name, t.Name) < e.cfg.NameThreshold &&
			similarity.SymbolScore(query.Symbol, t.Symbol) < e.cfg.SymbolThreshold {
			continue
		}
		candidates = append(candidates, t)
		if len(candidates) >= e.cfg.MaxDerivatives*2 {
			break
		}
	}
	return candidates
}

// enrichCandidates runs per-candidate enrichment in parallel, bounded.
func (e *Engine) enrichCandidates(ctx context.Context, query model.Token, candidates []model.Token) []model.ScoredToken {
	queryHash := e.imageHash(ctx, query.ImageURL)
	fingerprints := e.fingerprintIndex()

	var mu sync.Mutex
	var scored []model.ScoredToken

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			e.enrichOnChain(gctx, &cand)

			shared := shareFingerprint(fingerprints, query.Deployer, cand.Deployer)
			scores := similarity.Scores{
				Name:     similarity.NameScore(query.Name, cand.Name),
				Symbol:   similarity.SymbolScore(query.Symbol, cand.Symbol),
				Image:    similarity.ImageScoreFromHashes(queryHash, e.imageHash(gctx, cand.ImageURL)),
				Deployer: similarity.DeployerScore(query.Deployer, cand.Deployer, shared),
				Temporal: similarity.TemporalScore(query.CreatedAt, cand.CreatedAt),
			}

			mu.Lock()
			scored = append(scored, model.ScoredToken{
				Token:         cand,
				NameScore:     scores.Name,
				SymbolScore:   scores.Symbol,
				ImageScore:    scores.Image,
				DeployerScore: scores.Deployer,
				TemporalScore: scores.Temporal,
				Composite:     e.cfg.Weights.Composite(scores),
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return scored
}

func (e *Engine) imageHash(ctx context.Context, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	data := e.market.FetchImage(ctx, imageURL)
	if data == nil {
		return ""
	}
	hash, err := similarity.PHash(data)
	if err != nil {
		return ""
	}
	return hash
}

// fingerprintIndex maps wallet -> fingerprint set from operator_mappings.
func (e *Engine) fingerprintIndex() map[string]map[string]bool {
	idx := map[string]map[string]bool{}
	if e.store == nil {
		return idx
	}
	mappings, err := e.store.OperatorMappings()
	if err != nil {
		return idx
	}
	for _, m := range mappings {
		if idx[m.Wallet] == nil {
			idx[m.Wallet] = map[string]bool{}
		}
		idx[m.Wallet][m.Fingerprint] = true
	}
	return idx
}

func shareFingerprint(idx map[string]map[string]bool, a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	for fp := range idx[a] {
		if idx[b][fp] {
			return true
		}
	}
	return false
}

// Assemble picks the root, orders the derivatives and computes confidence.
// Split out for deterministic testing.
func Assemble(query model.Token, scored []model.ScoredToken, maxDerivatives int) *model.LineageResult {
	family := make([]model.ScoredToken, 0, len(scored)+1)
	family = append(family, model.ScoredToken{Token: query})
	family = append(family, scored...)

	rootIdx := 0
	for i := 1; i < len(family); i++ {
		if olderRicher(family[i].Token, family[rootIdx].Token) {
			rootIdx = i
		}
	}
	root := family[rootIdx].Token

	derivatives := make([]model.ScoredToken, 0, len(family)-1)
	for i, t := range family {
		if i != rootIdx {
			derivatives = append(derivatives, t)
		}
	}
	sort.SliceStable(derivatives, func(i, j int) bool { return derivatives[i].Composite > derivatives[j].Composite })
	familySize := len(family)
	if len(derivatives) > maxDerivatives {
		derivatives = derivatives[:maxDerivatives]
	}

	return &model.LineageResult{
		QueryToken:  query,
		Root:        root,
		Derivatives: derivatives,
		FamilySize:  familySize,
		Confidence:  confidence(root, derivatives),
	}
}

// olderRicher orders by (older created_at, higher liquidity, higher mcap);
// unknown creation times always lose.
func olderRicher(a, b model.Token) bool {
	aZero, bZero := a.CreatedAt.IsZero(), b.CreatedAt.IsZero()
	switch {
	case aZero && !bZero:
		return false
	case !aZero && bZero:
		return true
	case !aZero && !bZero && !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.LiquidityUSD != b.LiquidityUSD {
		return a.LiquidityUSD > b.LiquidityUSD
	}
	return a.MarketCapUSD > b.MarketCapUSD
}

func confidence(root model.Token, derivatives []model.ScoredToken) float64 {
	if len(derivatives) == 0 {
		return 0
	}

	newer, ambiguous := 0, 0
	totalLiq := root.LiquidityUSD
	for _, d := range derivatives {
		if !d.CreatedAt.IsZero() && !root.CreatedAt.IsZero() && d.CreatedAt.After(root.CreatedAt) {
			newer++
		}
		if d.Composite > 0.8 {
			ambiguous++
		}
		totalLiq += d.LiquidityUSD
	}

	temporal := float64(newer) / float64(len(derivatives))
	liquidity := 0.0
	if totalLiq > 0 {
		liquidity = root.LiquidityUSD / totalLiq
	}
	ambiguity := float64(ambiguous) / float64(len(derivatives))

	return 0.4*temporal + 0.35*liquidity + 0.25*(1-ambiguity)
}
