package forensic

import (
	"context"

	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/model"
)

const (
	insiderDumpRisk    = 0.45
	exitedBalanceBelow = 1.0
	maxLinkedWallets   = 3
)

// InsiderFor aggregates sell pressure from the DEX aggregator buckets plus
// on-chain balances of the deployer and its linked wallets.
func (e *Engine) InsiderFor(ctx context.Context, pair *market.Pair, mint, deployer string, linked []string) *model.InsiderSellReport {
	if pair == nil {
		return nil
	}

	deployerExited := false
	linkedExits := 0
	if e.chain != nil {
		if deployer != "" {
			if held, err := e.chain.GetWalletTokenBalance(ctx, deployer, mint); err == nil {
				deployerExited = held <= exitedBalanceBelow
			}
		}
		if len(linked) > maxLinkedWallets {
			linked = linked[:maxLinkedWallets]
		}
		for _, w := range linked {
			if held, err := e.chain.GetWalletTokenBalance(ctx, w, mint); err == nil && held <= exitedBalanceBelow {
				linkedExits++
			}
		}
	}

	return InsiderSell(pair, deployerExited, linkedExits)
}

// InsiderSell is the pure scoring over one pair's activity buckets.
func InsiderSell(pair *market.Pair, deployerExited bool, linkedExits int) *model.InsiderSellReport {
	if pair == nil {
		return nil
	}

	report := &model.InsiderSellReport{
		SellsH1:         pair.Txns.H1.Sells,
		BuysH1:          pair.Txns.H1.Buys,
		PriceChangeH1:   pair.PriceChange.H1,
		PriceChangeH24:  pair.PriceChange.H24,
		DeployerExited:  deployerExited,
		LinkedExitCount: linkedExits,
	}

	risk := 0.0
	sells, buys := float64(pair.Txns.H1.Sells), float64(pair.Txns.H1.Buys)
	ratio := sells
	if buys > 0 {
		ratio = sells / buys
	}
	switch {
	case sells >= 10 && ratio >= 3:
		risk += 0.30
		report.Flags = append(report.Flags, "HIGH_SELL_PRESSURE")
	case ratio >= 1.5 && sells >= 5:
		risk += 0.15
		report.Flags = append(report.Flags, "ELEVATED_SELL_PRESSURE")
	}

	switch {
	case pair.PriceChange.H1 <= -60:
		risk += 0.30
		report.Flags = append(report.Flags, "PRICE_CRASH")
	case pair.PriceChange.H1 <= -25:
		risk += 0.15
		report.Flags = append(report.Flags, "PRICE_DECLINING")
	}

	// A burst: the last hour alone outpaces the six-hour average.
	if pair.Txns.H6.Sells > 0 && sells > 2*float64(pair.Txns.H6.Sells)/6 && sells >= 8 {
		risk += 0.15
		report.Flags = append(report.Flags, "SELL_BURST")
	}

	if deployerExited {
		risk += 0.25
		report.Flags = append(report.Flags, "DEPLOYER_EXITED")
	}
	if linkedExits >= 2 {
		risk += 0.20
		report.Flags = append(report.Flags, "LINKED_WALLETS_EXITED")
	}

	severe := false
	for _, f := range report.Flags {
		if f == "HIGH_SELL_PRESSURE" || f == "PRICE_CRASH" {
			severe = true
		}
	}
	if deployerExited && severe {
		report.Flags = append(report.Flags, "INSIDER_DUMP_CONFIRMED")
	}

	if risk > 1 {
		risk = 1
	}
	report.RiskScore = risk

	switch {
	case deployerExited && severe:
		report.Verdict = "insider_dump"
	case risk >= insiderDumpRisk || severe:
		report.Verdict = "suspicious"
	default:
		report.Verdict = "clean"
	}
	return report
}
