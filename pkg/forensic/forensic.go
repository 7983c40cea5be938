// Package forensic holds the deterministic derivations layered onto a
// lineage: death clock, factory rhythm, narrative timing, zombie detection,
// operator fingerprints, on-chain risk, insider-sell and liquidity
// architecture. Every derivation returns nil on insufficient data and never
// raises.
package forensic

import (
	"context"
	"sort"
	"time"

	"github.com/rug-tracer/pkg/cartel"
	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/store"
)

// ChainData is the on-chain surface the risk scorers consume.
type ChainData interface {
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]rpc.TokenHolder, error)
	GetTokenSupply(ctx context.Context, mint string) (float64, error)
	GetWalletTokenBalance(ctx context.Context, wallet, mint string) (float64, error)
}

type Engine struct {
	store  *store.Store
	chain  ChainData
	market *market.Client
	meta   MetadataFetcher
}

func NewEngine(s *store.Store, chain ChainData, m *market.Client, meta MetadataFetcher) *Engine {
	return &Engine{store: s, chain: chain, market: m, meta: meta}
}

// deployerHistory loads created events (oldest first) and rug timestamps by
// mint for a deployer.
func (e *Engine) deployerHistory(deployer string) (created []model.TokenEvent, ruggedAt map[string]time.Time) {
	ruggedAt = map[string]time.Time{}
	if e.store == nil {
		return nil, ruggedAt
	}
	events, err := e.store.QueryEvents("deployer=?", []any{deployer}, "recorded_at", 0)
	if err != nil {
		return nil, ruggedAt
	}
	for _, ev := range events {
		switch ev.EventType {
		case model.EventTokenCreated:
			created = append(created, ev)
		case model.EventTokenRugged:
			if at := ev.RuggedTime(); !at.IsZero() {
				ruggedAt[ev.Mint] = at
			}
		}
	}
	sort.Slice(created, func(i, j int) bool {
		return created[i].CreatedTime().Before(created[j].CreatedTime())
	})
	return created, ruggedAt
}

// DeployerProfileFor summarises a deployer's track record from the event log.
func (e *Engine) DeployerProfileFor(deployer string) *model.DeployerProfile {
	created, ruggedAt := e.deployerHistory(deployer)
	if len(created) == 0 {
		return nil
	}

	profile := &model.DeployerProfile{Wallet: deployer, TokenCount: len(created)}
	var rugged []model.TokenEvent
	for _, ev := range created {
		if at := ev.CreatedTime(); !at.IsZero() {
			if profile.FirstSeen.IsZero() || at.Before(profile.FirstSeen) {
				profile.FirstSeen = at
			}
			if at.After(profile.LastSeen) {
				profile.LastSeen = at
			}
		}
		if _, ok := ruggedAt[ev.Mint]; ok {
			profile.RugCount++
			rugged = append(rugged, ev)
		}
	}
	if profile.TokenCount > 0 {
		profile.RugRate = float64(profile.RugCount) / float64(profile.TokenCount)
	}
	profile.EstimatedExtractedUSD = cartel.EstimateExtractedUSD(rugged)
	return profile
}
