package forensic

import (
	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/model"
)

// LiquidityArchitecture characterises how a token's liquidity is laid out
// across pools: concentration, turnover, and how plausible the structure is
// for an organically traded token.
func LiquidityArchitecture(pairs []market.Pair) *model.LiquidityArchitecture {
	totalLiq, totalVol := 0.0, 0.0
	var shares []float64
	for _, p := range pairs {
		if p.ChainID != "solana" || p.Liquidity.USD <= 0 {
			continue
		}
		shares = append(shares, p.Liquidity.USD)
		totalLiq += p.Liquidity.USD
		totalVol += p.Volume.H24
	}
	if len(shares) == 0 || totalLiq <= 0 {
		return nil
	}

	hhi := 0.0
	for _, s := range shares {
		frac := s / totalLiq
		hhi += frac * frac
	}

	liqVol := 0.0
	if totalVol > 0 {
		liqVol = totalLiq / totalVol
	}

	arch := &model.LiquidityArchitecture{
		HHI:         hhi,
		LiqVolRatio: liqVol,
		PairCount:   len(shares),
	}

	authenticity := 1.0
	if len(shares) >= 4 && hhi < 0.4 {
		authenticity -= 0.20
		arch.Flags = append(arch.Flags, "FRAGMENTED_LIQUIDITY")
	}
	if totalVol == 0 {
		authenticity -= 0.30
		arch.Flags = append(arch.Flags, "ZERO_VOLUME")
	} else if liqVol > 20 {
		// Deep pool nobody trades against: parked liquidity.
		authenticity -= 0.25
		arch.Flags = append(arch.Flags, "PARKED_LIQUIDITY")
	}
	if totalLiq < 1_000 {
		authenticity -= 0.15
		arch.Flags = append(arch.Flags, "THIN_LIQUIDITY")
	}
	arch.AuthenticityScore = clamp01(authenticity)
	return arch
}
