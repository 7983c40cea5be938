// Package cartel builds the cross-operator coordination graph: eight edge
// signals accumulated by the hourly sweep, and on-demand community detection
// over the result.
package cartel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/similarity"
	"github.com/rug-tracer/pkg/store"
)

// ChainReader is the slice of the RPC client the signal builders need.
type ChainReader interface {
	GetSignatures(ctx context.Context, address, before string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.Transaction, error)
	GetDeployerTokenHoldings(ctx context.Context, wallet string) ([]string, error)
}

const (
	dnaMatchStrength     = 0.95
	crossHoldingStrength = 0.70

	timingWindow       = 30 * time.Minute
	phashMaxDistance   = 8
	fundingLookback    = 72 * time.Hour
	fundingSigLimit    = 200
	fundingTxLimit     = 40
	minFundingLamports = 50_000_000  // 0.05 SOL
	minCartelLamports  = 100_000_000 // 0.1 SOL
	launchScanLimit    = 25
	crossHoldMinTokens = 3
	sniperMinShared    = 2
	signalConcurrency  = 7
)

type Builder struct {
	store  *store.Store
	reader ChainReader
}

func NewBuilder(s *store.Store, reader ChainReader) *Builder {
	return &Builder{store: s, reader: reader}
}

func (b *Builder) emit(a, wallet, signalType string, strength float64, evidence map[string]any) {
	blob, _ := json.Marshal(evidence)
	if err := b.store.UpsertCartelEdge(a, wallet, signalType, strength, string(blob)); err != nil {
		log.Warn().Err(err).Str("signal", signalType).Msg("cartel edge upsert failed")
	}
}

// SignalDNAMatchAll runs once per sweep: wallets sharing an operator
// fingerprint are pairwise linked at full strength.
func (b *Builder) SignalDNAMatchAll() error {
	mappings, err := b.store.OperatorMappings()
	if err != nil {
		return err
	}
	groups := map[string][]string{}
	for _, m := range mappings {
		groups[m.Fingerprint] = append(groups[m.Fingerprint], m.Wallet)
	}
	for fp, wallets := range groups {
		for i := 0; i < len(wallets); i++ {
			for j := i + 1; j < len(wallets); j++ {
				b.emit(wallets[i], wallets[j], model.SignalDNAMatch, dnaMatchStrength,
					map[string]any{"fingerprint": fp})
			}
		}
	}
	return nil
}

// RunForDeployer runs signals 2-8 for one deployer over a shared snapshot of
// the event log.
func (b *Builder) RunForDeployer(ctx context.Context, deployer string) error {
	created, err := b.store.QueryEvents("event_type=?", []any{model.EventTokenCreated}, "recorded_at", 0)
	if err != nil {
		return err
	}

	known := map[string]bool{}
	for _, ev := range created {
		if ev.Deployer != "" {
			known[ev.Deployer] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(signalConcurrency)
	g.Go(func() error { b.signalSolTransfer(deployer, known); return nil })
	g.Go(func() error { b.signalTimingSync(deployer, created); return nil })
	g.Go(func() error { b.signalPhashCluster(deployer, created); return nil })
	g.Go(func() error { b.signalCrossHolding(gctx, deployer, created); return nil })
	g.Go(func() error { b.signalFundingLink(gctx, deployer, created, known); return nil })
	g.Go(func() error { b.signalSharedLP(gctx, deployer, created); return nil })
	g.Go(func() error { b.signalSniperRing(gctx, deployer, created); return nil })
	return g.Wait()
}

// Signal 2: direct SOL from the deployer to another known deployer wallet.
func (b *Builder) signalSolTransfer(deployer string, known map[string]bool) {
	flows, err := b.store.SolFlowsFrom(deployer)
	if err != nil {
		return
	}
	for _, f := range flows {
		if !known[f.ToAddress] || f.ToAddress == deployer || f.AmountLamports < minCartelLamports {
			continue
		}
		strength := f.AmountSOL / 10
		if strength > 1 {
			strength = 1
		}
		b.emit(deployer, f.ToAddress, model.SignalSolTransfer, strength,
			map[string]any{"amount_sol": f.AmountSOL, "signature": f.Signature})
	}
}

// Signal 3: launches in the same narrative within a half-hour of each other.
func (b *Builder) signalTimingSync(deployer string, created []model.TokenEvent) {
	for _, mine := range created {
		if mine.Deployer != deployer || mine.Narrative == "" {
			continue
		}
		mineAt := mine.CreatedTime()
		if mineAt.IsZero() {
			continue
		}
		for _, other := range created {
			if other.Deployer == "" || other.Deployer == deployer || other.Narrative != mine.Narrative {
				continue
			}
			otherAt := other.CreatedTime()
			if otherAt.IsZero() {
				continue
			}
			dt := mineAt.Sub(otherAt)
			if dt < 0 {
				dt = -dt
			}
			if dt > timingWindow {
				continue
			}
			strength := 1 - dt.Minutes()/timingWindow.Minutes()
			if strength < 0.1 {
				strength = 0.1
			}
			b.emit(deployer, other.Deployer, model.SignalTimingSync, strength,
				map[string]any{"narrative": mine.Narrative, "delta_minutes": dt.Minutes(),
					"mint_a": mine.Mint, "mint_b": other.Mint})
		}
	}
}

// Signal 4: near-identical token art across deployers, by perceptual hash.
func (b *Builder) signalPhashCluster(deployer string, created []model.TokenEvent) {
	type hashed struct {
		deployer, mint, phash string
	}
	var mine, others []hashed
	for _, ev := range created {
		ph, _ := ev.Extra()["phash"].(string)
		if ph == "" || ev.Deployer == "" {
			continue
		}
		h := hashed{ev.Deployer, ev.Mint, ph}
		if ev.Deployer == deployer {
			mine = append(mine, h)
		} else {
			others = append(others, h)
		}
	}

	for _, m := range mine {
		for _, o := range others {
			d := similarity.HammingDistance(m.phash, o.phash)
			if d < 0 || d > phashMaxDistance {
				continue
			}
			strength := 1 - float64(d)/64
			if strength < 0.5 {
				strength = 0.5
			}
			b.emit(deployer, o.deployer, model.SignalPhashCluster, strength,
				map[string]any{"distance": d, "mint_a": m.mint, "mint_b": o.mint})
		}
	}
}

// Signal 5: a prolific deployer holding tokens someone else created.
func (b *Builder) signalCrossHolding(ctx context.Context, deployer string, created []model.TokenEvent) {
	mineCount := 0
	creator := map[string]string{}
	for _, ev := range created {
		if ev.Deployer == deployer {
			mineCount++
		}
		if ev.Mint != "" && ev.Deployer != "" {
			creator[ev.Mint] = ev.Deployer
		}
	}
	if mineCount < crossHoldMinTokens {
		return
	}

	held, err := b.reader.GetDeployerTokenHoldings(ctx, deployer)
	if err != nil {
		return
	}
	for _, mint := range held {
		if other := creator[mint]; other != "" && other != deployer {
			b.emit(deployer, other, model.SignalCrossHolding, crossHoldingStrength,
				map[string]any{"held_mint": mint})
		}
	}
}

// Signal 6: pre-launch SOL traffic with other deployer wallets. Results are
// cached on the earliest token event so later sweeps skip the RPC work.
func (b *Builder) signalFundingLink(ctx context.Context, deployer string, created []model.TokenEvent, known map[string]bool) {
	var earliest *model.TokenEvent
	for i := range created {
		ev := &created[i]
		if ev.Deployer != deployer || ev.CreatedTime().IsZero() {
			continue
		}
		if earliest == nil || ev.CreatedTime().Before(earliest.CreatedTime()) {
			earliest = ev
		}
	}
	if earliest == nil {
		return
	}

	type link struct {
		Wallet   string  `json:"wallet"`
		Strength float64 `json:"strength"`
		SOL      float64 `json:"sol"`
	}
	if cached, ok := earliest.Extra()["funding_links"]; ok {
		if blob, err := json.Marshal(cached); err == nil {
			var links []link
			if json.Unmarshal(blob, &links) == nil {
				for _, l := range links {
					b.emit(deployer, l.Wallet, model.SignalFundingLink, l.Strength,
						map[string]any{"sol": l.SOL, "cached": true})
				}
				return
			}
		}
	}

	launch := earliest.CreatedTime()
	windowStart := launch.Add(-fundingLookback)
	sigs, err := b.reader.GetSignatures(ctx, deployer, "", fundingSigLimit)
	if err != nil {
		return
	}

	var links []link
	fetched := 0
	for _, sig := range sigs {
		if sig.BlockTime == nil || sig.Err != nil {
			continue
		}
		at := time.Unix(*sig.BlockTime, 0)
		if at.Before(windowStart) || !at.Before(launch) {
			continue
		}
		if fetched >= fundingTxLimit {
			break
		}
		fetched++
		tx, err := b.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		for _, tr := range tx.SolTransfers() {
			var other string
			switch {
			case tr.Source == deployer && known[tr.Destination] && tr.Destination != deployer:
				other = tr.Destination
			case tr.Destination == deployer && known[tr.Source] && tr.Source != deployer:
				other = tr.Source
			default:
				continue
			}
			if tr.Lamports < minFundingLamports {
				continue
			}
			sol := float64(tr.Lamports) / model.LamportsPerSOL
			amountFactor := sol / 5
			if amountFactor > 1 {
				amountFactor = 1
			}
			hoursBefore := launch.Sub(at).Hours()
			timeFactor := 1 - hoursBefore/72
			if timeFactor < 0.3 {
				timeFactor = 0.3
			}
			strength := 0.6*amountFactor + 0.4*timeFactor
			links = append(links, link{Wallet: other, Strength: strength, SOL: sol})
			b.emit(deployer, other, model.SignalFundingLink, strength,
				map[string]any{"sol": sol, "hours_before_launch": hoursBefore})
		}
	}

	if err := b.store.UpdateEventExtra(model.EventTokenCreated, earliest.Mint,
		map[string]any{"funding_links": links}); err != nil {
		log.Debug().Err(err).Str("mint", labels.Short(earliest.Mint)).Msg("funding cache write failed")
	}
}

// Signal 7: the same LP wallet seeding pools for tokens of different
// deployers. LP provider sets are cached per token.
func (b *Builder) signalSharedLP(ctx context.Context, deployer string, created []model.TokenEvent) {
	providersByDeployer := map[string]map[string]bool{}
	for i := range created {
		ev := &created[i]
		if ev.Deployer == "" || ev.Mint == "" {
			continue
		}
		var providers []string
		if ev.Deployer == deployer {
			providers = b.lpProviders(ctx, ev)
		} else {
			providers = extraStrings(ev, "lp_providers")
		}
		if providersByDeployer[ev.Deployer] == nil {
			providersByDeployer[ev.Deployer] = map[string]bool{}
		}
		for _, p := range providers {
			providersByDeployer[ev.Deployer][p] = true
		}
	}

	mine := providersByDeployer[deployer]
	if len(mine) == 0 {
		return
	}
	for other, theirs := range providersByDeployer {
		if other == deployer {
			continue
		}
		overlap := 0
		for p := range mine {
			if theirs[p] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		strength := 0.65 + 0.1*float64(overlap)
		if strength > 1 {
			strength = 1
		}
		b.emit(deployer, other, model.SignalSharedLP, strength,
			map[string]any{"overlap_count": overlap})
	}
}

// lpProviders returns the cached LP set for a token, scanning the launch
// transactions once when the cache is cold.
func (b *Builder) lpProviders(ctx context.Context, ev *model.TokenEvent) []string {
	if _, ok := ev.Extra()["lp_providers"]; ok {
		return extraStrings(ev, "lp_providers")
	}

	providers := map[string]bool{}
	sigs, err := b.reader.GetSignatures(ctx, ev.Mint, "", launchScanLimit)
	if err != nil {
		return nil
	}
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		tx, err := b.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		invokesDEX := false
		for program := range tx.InvokedPrograms() {
			if labels.IsDEXProgram(program) {
				invokesDEX = true
				break
			}
		}
		if !invokesDEX {
			continue
		}
		if payer := tx.FeePayer(); payer != "" && payer != ev.Deployer && !labels.IsProgram(payer) {
			providers[payer] = true
		}
	}

	out := make([]string, 0, len(providers))
	for p := range providers {
		out = append(out, p)
	}
	if err := b.store.UpdateEventExtra(model.EventTokenCreated, ev.Mint,
		map[string]any{"lp_providers": out}); err != nil {
		log.Debug().Err(err).Str("mint", labels.Short(ev.Mint)).Msg("lp cache write failed")
	}
	return out
}

// Signal 8: shared launch-window buyers across deployers.
func (b *Builder) signalSniperRing(ctx context.Context, deployer string, created []model.TokenEvent) {
	buyersByDeployer := map[string]map[string]bool{}
	for i := range created {
		ev := &created[i]
		if ev.Deployer == "" || ev.Mint == "" {
			continue
		}
		var buyers []string
		if ev.Deployer == deployer {
			buyers = b.earlyBuyers(ctx, ev)
		} else {
			buyers = extraStrings(ev, "early_buyers")
		}
		if buyersByDeployer[ev.Deployer] == nil {
			buyersByDeployer[ev.Deployer] = map[string]bool{}
		}
		for _, w := range buyers {
			buyersByDeployer[ev.Deployer][w] = true
		}
	}

	mine := buyersByDeployer[deployer]
	if len(mine) == 0 {
		return
	}
	for other, theirs := range buyersByDeployer {
		if other == deployer {
			continue
		}
		shared := 0
		for w := range mine {
			if theirs[w] {
				shared++
			}
		}
		if shared < sniperMinShared {
			continue
		}
		strength := 0.3 + 0.15*float64(shared)
		if strength > 1 {
			strength = 1
		}
		b.emit(deployer, other, model.SignalSniperRing, strength,
			map[string]any{"shared_buyers": shared})
	}
}

// earlyBuyers returns the cached launch-window buyer set for a token,
// scanning the first signatures when the cache is cold.
func (b *Builder) earlyBuyers(ctx context.Context, ev *model.TokenEvent) []string {
	if _, ok := ev.Extra()["early_buyers"]; ok {
		return extraStrings(ev, "early_buyers")
	}

	buyers := map[string]bool{}
	sigs, err := b.reader.GetSignatures(ctx, ev.Mint, "", launchScanLimit)
	if err != nil {
		return nil
	}
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		tx, err := b.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() || tx.Meta == nil {
			continue
		}
		pre := map[string]float64{}
		for _, tb := range tx.Meta.PreTokenBalances {
			if tb.Mint == ev.Mint && tb.UITokenAmount.UIAmount != nil {
				pre[tb.Owner] = *tb.UITokenAmount.UIAmount
			}
		}
		for _, tb := range tx.Meta.PostTokenBalances {
			if tb.Mint != ev.Mint || tb.UITokenAmount.UIAmount == nil {
				continue
			}
			owner := tb.Owner
			if owner == "" || owner == ev.Deployer || labels.IsProgram(owner) {
				continue
			}
			if *tb.UITokenAmount.UIAmount > pre[owner] {
				buyers[owner] = true
			}
		}
	}

	out := make([]string, 0, len(buyers))
	for w := range buyers {
		out = append(out, w)
	}
	if err := b.store.UpdateEventExtra(model.EventTokenCreated, ev.Mint,
		map[string]any{"early_buyers": out}); err != nil {
		log.Debug().Err(err).Str("mint", labels.Short(ev.Mint)).Msg("buyer cache write failed")
	}
	return out
}

// extraStrings reads a []string field out of the opaque extra blob.
func extraStrings(ev *model.TokenEvent, key string) []string {
	raw, ok := ev.Extra()[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Deployers lists deployers with at least minTokens launched tokens.
func (b *Builder) Deployers(minTokens int) ([]string, error) {
	created, err := b.store.QueryEvents("event_type=?", []any{model.EventTokenCreated}, "", 0)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, ev := range created {
		if ev.Deployer != "" {
			counts[ev.Deployer]++
		}
	}
	var out []string
	for d, n := range counts {
		if n >= minTokens {
			out = append(out, d)
		}
	}
	return out, nil
}
