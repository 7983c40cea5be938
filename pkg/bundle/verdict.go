package bundle

import (
	"fmt"
	"sort"

	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
)

// ---- Phase 4: cross-wallet coordination ----

// commonPrefundSource returns an address that prefunded at least two bundle
// wallets, or "".
func commonPrefundSource(wallets []model.BundleWalletAnalysis) string {
	counts := map[string]int{}
	for _, w := range wallets {
		if src := w.PreSell.PrefundSource; src != "" {
			counts[src]++
		}
	}
	best, bestCount := "", 0
	for src, n := range counts {
		if n >= 2 && n > bestCount {
			best, bestCount = src, n
		}
	}
	return best
}

// coordinatedSell reports whether three sell slots fall within any 5-slot
// window.
func coordinatedSell(wallets []model.BundleWalletAnalysis) bool {
	var slots []int64
	for _, w := range wallets {
		if w.PostSell.SellDetected {
			slots = append(slots, w.PostSell.SellSlot)
		}
	}
	if len(slots) < 3 {
		return false
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for i := 0; i+2 < len(slots); i++ {
		if slots[i+2]-slots[i] <= 5 {
			return true
		}
	}
	return false
}

// commonSinkWallets returns non-program destinations that received funds
// from at least two bundle wallets.
func commonSinkWallets(wallets []model.BundleWalletAnalysis) []string {
	senders := map[string]map[string]bool{}
	for _, w := range wallets {
		for _, d := range w.PostSell.Destinations {
			if labels.IsProgram(d.Address) {
				continue
			}
			if senders[d.Address] == nil {
				senders[d.Address] = map[string]bool{}
			}
			senders[d.Address][w.Wallet] = true
		}
	}

	var sinks []string
	for addr, from := range senders {
		if len(from) >= 2 {
			sinks = append(sinks, addr)
		}
	}
	sort.Strings(sinks)
	return sinks
}

// applyCoordination back-fills per-wallet fields from the cross-wallet pass.
func applyCoordination(wallets []model.BundleWalletAnalysis, commonPrefund string, sinks []string) {
	sinkSet := map[string]bool{}
	for _, s := range sinks {
		sinkSet[s] = true
	}

	for i := range wallets {
		w := &wallets[i]
		if commonPrefund != "" && w.PreSell.PrefundSource == commonPrefund {
			w.PreSell.PrefundIsKnownFunder = true
		}
		for j := range w.PostSell.Destinations {
			if sinkSet[w.PostSell.Destinations[j].Address] {
				w.PostSell.Destinations[j].SeenInOtherBundles = true
			}
		}
	}
}

// ---- Phase 5: verdicts ----

// classifyWallet assigns the per-wallet verdict and red flags. Rules run
// top-down; first match wins.
func classifyWallet(w *model.BundleWalletAnalysis, sellCoordinated bool) {
	if w.PostSell.DirectTransferToDeployer {
		w.RedFlags = append(w.RedFlags, model.FlagDirectTransferToDeployer)
		w.Verdict = model.WalletConfirmedTeam
		return
	}
	if w.PreSell.PrefundSourceIsDeployer && w.PostSell.TransferToDeployerLinked {
		w.RedFlags = append(w.RedFlags, model.FlagPrefundedByDeployer, model.FlagTransferredToLinked)
		w.Verdict = model.WalletConfirmedTeam
		return
	}

	var flags []string
	if w.PreSell.PrefundSourceIsDeployer {
		flags = append(flags, model.FlagPrefundedByDeployer)
	}
	if w.PostSell.TransferToDeployerLinked {
		flags = append(flags, model.FlagTransferredToLinked)
	}
	if w.PostSell.IndirectViaIntermediary {
		flags = append(flags, model.FlagIndirectLink)
	}
	if w.PreSell.PrefundIsKnownFunder {
		flags = append(flags, model.FlagFundedByCommonSource)
	}
	if w.PreSell.IsDormant {
		flags = append(flags, model.FlagDormantBeforeLaunch)
	}
	commonSink := false
	for _, d := range w.PostSell.Destinations {
		if d.SeenInOtherBundles {
			commonSink = true
			break
		}
	}
	if commonSink {
		flags = append(flags, model.FlagCommonSink)
	}
	if sellCoordinated && w.PostSell.SellDetected {
		flags = append(flags, model.FlagCoordinatedSell)
	}
	if w.PreSell.PreLaunchTxCount == 0 && w.PreSell.WalletAgeDays < 3 {
		flags = append(flags, model.FlagFreshWallet)
	}
	w.RedFlags = flags

	switch {
	case w.PostSell.TransferToDeployerLinked:
		w.Verdict = model.WalletSuspectedTeam
	case w.PostSell.IndirectViaIntermediary && len(flags) >= 2:
		w.Verdict = model.WalletSuspectedTeam
	case w.PreSell.PrefundSourceIsDeployer && len(flags) >= 2:
		w.Verdict = model.WalletSuspectedTeam
	case len(flags) >= 3:
		w.Verdict = model.WalletCoordinatedDump
	case w.PreSell.PrefundIsKnownFunder && commonSink:
		w.Verdict = model.WalletCoordinatedDump
	case w.PreSell.IsDormant && commonSink:
		w.Verdict = model.WalletCoordinatedDump
	default:
		w.Verdict = model.WalletEarlyBuyer
	}
}

// overallVerdict folds per-wallet verdicts into the report verdict and the
// evidence chain. Priority order; first match wins.
func overallVerdict(wallets []model.BundleWalletAnalysis, sinks []string, sellCoordinated bool) (string, []string) {
	confirmed, suspected, dumps := 0, 0, 0
	var evidence []string

	for _, w := range wallets {
		switch w.Verdict {
		case model.WalletConfirmedTeam:
			confirmed++
			evidence = append(evidence, fmt.Sprintf("%s: confirmed team wallet (%v)", labels.Short(w.Wallet), w.RedFlags))
		case model.WalletSuspectedTeam:
			suspected++
			evidence = append(evidence, fmt.Sprintf("%s: suspected team wallet (%v)", labels.Short(w.Wallet), w.RedFlags))
		case model.WalletCoordinatedDump:
			dumps++
		}
	}
	if sellCoordinated {
		evidence = append(evidence, "3+ wallets sold within a 5-slot window")
	}
	for _, s := range sinks {
		evidence = append(evidence, fmt.Sprintf("common sink wallet %s received from multiple bundle wallets", labels.Short(s)))
	}

	switch {
	case confirmed >= 2 || (confirmed >= 1 && suspected >= 1):
		return model.VerdictConfirmedTeamExtraction, evidence
	case suspected >= 2 || confirmed >= 1:
		return model.VerdictSuspectedTeamExtraction, evidence
	case dumps >= 3 && len(sinks) >= 1:
		return model.VerdictSuspectedTeamExtraction, evidence
	case dumps >= 3 || (dumps >= 2 && sellCoordinated):
		return model.VerdictCoordinatedDumpUnknown, evidence
	default:
		return model.VerdictEarlyBuyersNoLink, evidence
	}
}
