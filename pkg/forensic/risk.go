package forensic

import (
	"context"
	"time"

	"github.com/rug-tracer/pkg/model"
)

const riskTimeout = 8 * time.Second

// RiskFor scores supply concentration for a mint. Nil when the holder list
// or supply cannot be fetched.
func (e *Engine) RiskFor(ctx context.Context, mint, deployer string) *model.OnChainRisk {
	if e.chain == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, riskTimeout)
	defer cancel()

	holders, err := e.chain.GetTokenLargestAccounts(ctx, mint)
	if err != nil || len(holders) == 0 {
		return nil
	}
	supply, err := e.chain.GetTokenSupply(ctx, mint)
	if err != nil || supply <= 0 {
		return nil
	}

	var amounts []float64
	for _, h := range holders {
		if h.UIAmount != nil && *h.UIAmount > 0 {
			amounts = append(amounts, *h.UIAmount)
		}
	}
	if len(amounts) == 0 {
		return nil
	}

	deployerPct := 0.0
	if deployer != "" {
		if held, err := e.chain.GetWalletTokenBalance(ctx, deployer, mint); err == nil {
			deployerPct = held / supply * 100
		}
	}

	return ScoreHolders(amounts, supply, deployerPct)
}

// ScoreHolders turns holder amounts (largest first) into the 0-100 risk
// score. Cutoffs: a top-10 share over 70% or a single whale over 30% both
// mark near-certain exit capacity; deployer retention over 20% is treated
// the same.
func ScoreHolders(amounts []float64, supply, deployerPct float64) *model.OnChainRisk {
	top10, top1 := 0.0, 0.0
	for i, amt := range amounts {
		if i < 10 {
			top10 += amt
		}
		if i == 0 {
			top1 = amt
		}
	}
	top10Pct := top10 / supply * 100
	top1Pct := top1 / supply * 100

	risk := &model.OnChainRisk{
		Top10Pct:    top10Pct,
		Top1Pct:     top1Pct,
		DeployerPct: deployerPct,
		HolderCount: len(amounts),
	}

	score := 0
	switch {
	case top10Pct > 70:
		score += 35
		risk.Flags = append(risk.Flags, "TOP10_CONCENTRATION_EXTREME")
	case top10Pct > 50:
		score += 20
		risk.Flags = append(risk.Flags, "TOP10_CONCENTRATION_HIGH")
	}
	switch {
	case top1Pct > 30:
		score += 30
		risk.Flags = append(risk.Flags, "SINGLE_WHALE_EXTREME")
	case top1Pct > 15:
		score += 15
		risk.Flags = append(risk.Flags, "SINGLE_WHALE_HIGH")
	}
	switch {
	case deployerPct > 20:
		score += 35
		risk.Flags = append(risk.Flags, "DEPLOYER_HOLDS_SUPPLY")
	case deployerPct > 5:
		score += 15
		risk.Flags = append(risk.Flags, "DEPLOYER_RETAINS_STAKE")
	}
	if len(amounts) < 20 {
		score += 10
		risk.Flags = append(risk.Flags, "THIN_HOLDER_BASE")
	}
	if score > 100 {
		score = 100
	}
	risk.Score = score
	return risk
}
