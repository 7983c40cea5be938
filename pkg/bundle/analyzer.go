// Package bundle reconstructs launch-block buying rings: who bought in the
// creation window, who funded them, where the proceeds went, and whether the
// wallets tie back to the deployer.
package bundle

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/store"
)

// ChainReader is the slice of the RPC client the pipeline needs; tests
// substitute a fake ledger.
type ChainReader interface {
	GetSignatures(ctx context.Context, address, before string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.Transaction, error)
}

const (
	bundleSlotWindow    = 4
	minBuyLamports      = 1_000_000   // 0.001 SOL
	minPrefundLamports  = 10_000_000  // 0.01 SOL
	minOutflowLamports  = 50_000_000  // 0.05 SOL
	preLaunchWindow     = 72 * time.Hour
	dormancyThreshold   = 30 * 24 * time.Hour
	fullSellResidual    = 1.0
	walletHistoryLimit  = 100
	prefundTxLimit      = 15
	sellScanLimit       = 30
	postSellSigLimit    = 20
	maxHopDestinations  = 10
	maxIndirectTraces   = 5
	indirectSigLimit    = 30
	indirectTxLimit     = 10
	phaseConcurrency    = 5
)

type Config struct {
	Timeout       time.Duration
	MaxLaunchSigs int
	MaxWallets    int
	ReportTTL     time.Duration
}

type Analyzer struct {
	reader ChainReader
	store  *store.Store
	cfg    Config
}

func NewAnalyzer(reader ChainReader, s *store.Store, cfg Config) *Analyzer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxLaunchSigs == 0 {
		cfg.MaxLaunchSigs = 50
	}
	if cfg.MaxWallets == 0 {
		cfg.MaxWallets = 20
	}
	if cfg.ReportTTL == 0 {
		cfg.ReportTTL = 24 * time.Hour
	}
	return &Analyzer{reader: reader, store: s, cfg: cfg}
}

// Analyze runs the full pipeline. Nil report means no bundle activity.
// Sub-phase failures degrade to neutral values; Analyze never raises past
// phase 1.
func (a *Analyzer) Analyze(ctx context.Context, mint, deployer string) (*model.BundleExtractionReport, error) {
	if a.store != nil {
		if cached := a.store.FreshBundleReport(mint, a.cfg.ReportTTL); cached != nil {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	wallets, launchSlot, launchTime, err := a.detectBuyers(ctx, mint, deployer)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, nil
	}

	a.analyzePreSell(ctx, wallets, deployer, launchTime)

	// Wallets prefunded by the deployer are treated as deployer-linked when
	// tracing where proceeds went.
	linked := map[string]bool{deployer: true}
	for _, w := range wallets {
		if w.PreSell.PrefundSourceIsDeployer {
			linked[w.Wallet] = true
		}
	}
	a.analyzePostSell(ctx, wallets, deployer, linked, launchTime)

	analyses := make([]model.BundleWalletAnalysis, len(wallets))
	for i, w := range wallets {
		analyses[i] = *w
	}

	commonPrefund := commonPrefundSource(analyses)
	sellSync := coordinatedSell(analyses)
	sinks := commonSinkWallets(analyses)
	applyCoordination(analyses, commonPrefund, sinks)

	totalSpent, totalExtracted := 0.0, 0.0
	for i := range analyses {
		classifyWallet(&analyses[i], sellSync)
		totalSpent += analyses[i].SOLSpent
		totalExtracted += analyses[i].PostSell.SOLReceived
	}
	verdict, evidence := overallVerdict(analyses, sinks, sellSync)

	report := &model.BundleExtractionReport{
		Mint:                    mint,
		Deployer:                deployer,
		LaunchSlot:              launchSlot,
		LaunchTime:              launchTime,
		Wallets:                 analyses,
		Verdict:                 verdict,
		TotalSOLSpent:           totalSpent,
		TotalSOLExtracted:       totalExtracted,
		CommonPrefundSource:     commonPrefund,
		CoordinatedSellDetected: sellSync,
		CommonSinkWallets:       sinks,
		EvidenceChain:           evidence,
		GeneratedAt:             time.Now().UTC(),
	}

	if a.store != nil {
		if err := a.store.SaveBundleReport(mint, report); err != nil {
			log.Warn().Err(err).Str("mint", labels.Short(mint)).Msg("bundle report save failed")
		}
	}
	log.Info().Str("mint", labels.Short(mint)).Int("wallets", len(analyses)).
		Str("verdict", verdict).Msg("bundle analysis complete")
	return report, nil
}

// ---- Phase 1: buyer detection ----

func (a *Analyzer) detectBuyers(ctx context.Context, mint, deployer string) ([]*model.BundleWalletAnalysis, int64, int64, error) {
	sigs, err := a.reader.GetSignatures(ctx, mint, "", a.cfg.MaxLaunchSigs)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(sigs) == 0 {
		return nil, 0, 0, nil
	}

	// Node order is newest-first; the pipeline walks the launch forward.
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}

	creationSlot := sigs[0].Slot
	launchTime := int64(0)
	if sigs[0].BlockTime != nil {
		launchTime = *sigs[0].BlockTime
	}

	type buyer struct {
		spent   int64
		buySlot int64
	}
	buyers := map[string]*buyer{}

	for _, sig := range sigs {
		if sig.Slot > creationSlot+bundleSlotWindow || sig.Err != nil {
			continue
		}
		tx, err := a.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		for _, signer := range tx.Signers() {
			if signer == deployer || labels.IsProgram(signer) {
				continue
			}
			delta := balanceDelta(tx, signer)
			if delta > -minBuyLamports {
				continue
			}
			b := buyers[signer]
			if b == nil {
				b = &buyer{buySlot: sig.Slot}
				buyers[signer] = b
			}
			b.spent += -delta
		}
	}

	wallets := make([]*model.BundleWalletAnalysis, 0, len(buyers))
	for addr, b := range buyers {
		wallets = append(wallets, &model.BundleWalletAnalysis{
			Wallet:   addr,
			SOLSpent: float64(b.spent) / model.LamportsPerSOL,
			BuySlot:  b.buySlot,
		})
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].SOLSpent > wallets[j].SOLSpent })
	if len(wallets) > a.cfg.MaxWallets {
		wallets = wallets[:a.cfg.MaxWallets]
	}
	return wallets, creationSlot, launchTime, nil
}

// ---- Phase 2: pre-sell behavior ----

func (a *Analyzer) analyzePreSell(ctx context.Context, wallets []*model.BundleWalletAnalysis, deployer string, launchTime int64) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(phaseConcurrency)
	for _, w := range wallets {
		w := w
		g.Go(func() error {
			a.preSellForWallet(gctx, w, deployer, launchTime)
			return nil
		})
	}
	g.Wait()
}

func (a *Analyzer) preSellForWallet(ctx context.Context, w *model.BundleWalletAnalysis, deployer string, launchTime int64) {
	sigs, err := a.reader.GetSignatures(ctx, w.Wallet, "", walletHistoryLimit)
	if err != nil || len(sigs) == 0 {
		return
	}

	windowStart := launchTime - int64(preLaunchWindow.Seconds())
	var oldest, newestPreLaunch int64
	var windowSigs []rpc.SignatureInfo

	for _, sig := range sigs {
		if sig.BlockTime == nil {
			continue
		}
		bt := *sig.BlockTime
		if oldest == 0 || bt < oldest {
			oldest = bt
		}
		if bt < launchTime && bt > newestPreLaunch {
			newestPreLaunch = bt
		}
		if bt >= windowStart && bt < launchTime {
			windowSigs = append(windowSigs, sig)
		}
	}

	if oldest > 0 {
		w.PreSell.WalletAgeDays = time.Since(time.Unix(oldest, 0)).Hours() / 24
	}
	if newestPreLaunch > 0 {
		w.PreSell.IsDormant = launchTime-newestPreLaunch > int64(dormancyThreshold.Seconds())
	}
	w.PreSell.PreLaunchTxCount = len(windowSigs)

	mints := map[string]bool{}
	var bestPrefund int64
	for i, sig := range windowSigs {
		if i >= prefundTxLimit {
			break
		}
		tx, err := a.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		for _, tr := range tx.SolTransfers() {
			if tr.Destination == w.Wallet && tr.Lamports >= minPrefundLamports && tr.Lamports > bestPrefund {
				bestPrefund = tr.Lamports
				w.PreSell.PrefundSource = tr.Source
				w.PreSell.PrefundAmountSOL = float64(tr.Lamports) / model.LamportsPerSOL
			}
		}
		for _, m := range touchedMints(tx, w.Wallet) {
			mints[m] = true
		}
	}
	w.PreSell.PreLaunchUniqueTokens = len(mints)
	w.PreSell.PrefundSourceIsDeployer = w.PreSell.PrefundSource != "" && w.PreSell.PrefundSource == deployer
}

// ---- Phase 3: post-sell behavior ----

func (a *Analyzer) analyzePostSell(ctx context.Context, wallets []*model.BundleWalletAnalysis, deployer string, linked map[string]bool, launchTime int64) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(phaseConcurrency)
	for _, w := range wallets {
		w := w
		g.Go(func() error {
			a.postSellForWallet(gctx, w, deployer, linked, launchTime)
			return nil
		})
	}
	g.Wait()
}

func (a *Analyzer) postSellForWallet(ctx context.Context, w *model.BundleWalletAnalysis, deployer string, linked map[string]bool, launchTime int64) {
	sigs, err := a.reader.GetSignatures(ctx, w.Wallet, "", walletHistoryLimit)
	if err != nil {
		return
	}

	var postLaunch []rpc.SignatureInfo
	for _, sig := range sigs {
		if sig.BlockTime != nil && *sig.BlockTime >= launchTime && sig.Err == nil {
			postLaunch = append(postLaunch, sig)
		}
	}
	// Oldest first: the first full sell is the one that matters.
	sort.Slice(postLaunch, func(i, j int) bool { return postLaunch[i].Slot < postLaunch[j].Slot })

	for i, sig := range postLaunch {
		if i >= sellScanLimit {
			break
		}
		tx, err := a.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		if !isFullSell(tx, w.Wallet) {
			continue
		}
		w.PostSell.SellDetected = true
		w.PostSell.SellSlot = sig.Slot
		w.PostSell.SellSignature = sig.Signature
		if delta := balanceDelta(tx, w.Wallet); delta > 0 {
			w.PostSell.SOLReceived = float64(delta) / model.LamportsPerSOL
		}
		break
	}

	// Without a full sell there is nothing to trace.
	if !w.PostSell.SellDetected {
		return
	}

	outflows := map[string]int64{}
	traced := 0
	for _, sig := range postLaunch {
		if sig.Slot < w.PostSell.SellSlot || sig.Signature == w.PostSell.SellSignature {
			continue
		}
		if traced >= postSellSigLimit {
			break
		}
		traced++
		tx, err := a.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		for _, tr := range tx.SolTransfers() {
			if tr.Source == w.Wallet && tr.Lamports >= minOutflowLamports {
				outflows[tr.Destination] += tr.Lamports
			}
		}
	}

	type dest struct {
		addr     string
		lamports int64
	}
	ordered := make([]dest, 0, len(outflows))
	for addr, lam := range outflows {
		ordered = append(ordered, dest{addr, lam})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].lamports > ordered[j].lamports })
	if len(ordered) > maxHopDestinations {
		ordered = ordered[:maxHopDestinations]
	}

	var indirectCandidates []string
	for _, d := range ordered {
		label, entity := labels.Classify(d.addr)
		fd := model.FundDestination{
			Address:    d.addr,
			AmountSOL:  float64(d.lamports) / model.LamportsPerSOL,
			Hop:        0,
			Label:      label,
			EntityType: entity,
		}
		if linked[d.addr] {
			fd.LinkToDeployer = true
			if d.addr == deployer {
				w.PostSell.DirectTransferToDeployer = true
			} else {
				w.PostSell.TransferToDeployerLinked = true
			}
		} else if !labels.IsProgram(d.addr) {
			indirectCandidates = append(indirectCandidates, d.addr)
		}
		w.PostSell.Destinations = append(w.PostSell.Destinations, fd)
	}

	if len(indirectCandidates) > maxIndirectTraces {
		indirectCandidates = indirectCandidates[:maxIndirectTraces]
	}
	for _, intermediary := range indirectCandidates {
		a.traceIntermediary(ctx, w, intermediary, linked)
	}
}

// traceIntermediary follows one hop beyond a non-linked destination to catch
// proceeds routed to the deployer through a pass-through wallet.
func (a *Analyzer) traceIntermediary(ctx context.Context, w *model.BundleWalletAnalysis, intermediary string, linked map[string]bool) {
	sigs, err := a.reader.GetSignatures(ctx, intermediary, "", indirectSigLimit)
	if err != nil {
		return
	}

	txCount := 0
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		if txCount >= indirectTxLimit {
			break
		}
		txCount++
		tx, err := a.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		for _, tr := range tx.SolTransfers() {
			if tr.Source != intermediary || tr.Lamports < minOutflowLamports {
				continue
			}
			if linked[tr.Destination] {
				w.PostSell.IndirectViaIntermediary = true
				w.PostSell.Destinations = append(w.PostSell.Destinations, model.FundDestination{
					Address:        tr.Destination,
					AmountSOL:      float64(tr.Lamports) / model.LamportsPerSOL,
					Hop:            1,
					LinkToDeployer: true,
				})
				return
			}
		}
	}
}

// ---- Transaction parsing helpers ----

// balanceDelta is (post - pre) lamports for the wallet's account index.
func balanceDelta(tx *rpc.Transaction, wallet string) int64 {
	if tx == nil || tx.Transaction == nil || tx.Meta == nil {
		return 0
	}
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key.Pubkey != wallet {
			continue
		}
		if i < len(tx.Meta.PreBalances) && i < len(tx.Meta.PostBalances) {
			return tx.Meta.PostBalances[i] - tx.Meta.PreBalances[i]
		}
	}
	return 0
}

// isFullSell: the wallet held at least one mint going in and exited to a
// dust residual (≤ 1 token) for all of them.
func isFullSell(tx *rpc.Transaction, wallet string) bool {
	if tx == nil || tx.Meta == nil {
		return false
	}

	pre := map[string]float64{}
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == wallet && b.UITokenAmount.UIAmount != nil {
			pre[b.Mint] += *b.UITokenAmount.UIAmount
		}
	}
	held := false
	for _, amt := range pre {
		if amt > 0 {
			held = true
		}
	}
	if !held {
		return false
	}

	post := map[string]float64{}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == wallet && b.UITokenAmount.UIAmount != nil {
			post[b.Mint] += *b.UITokenAmount.UIAmount
		}
	}
	for mint, amt := range pre {
		if amt > 0 && post[mint] > fullSellResidual {
			return false
		}
	}
	return true
}

// touchedMints lists token mints the wallet held before or after the tx.
func touchedMints(tx *rpc.Transaction, wallet string) []string {
	if tx == nil || tx.Meta == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == wallet {
			seen[b.Mint] = true
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == wallet {
			seen[b.Mint] = true
		}
	}
	mints := make([]string, 0, len(seen))
	for m := range seen {
		mints = append(mints, m)
	}
	return mints
}
