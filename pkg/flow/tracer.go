// Package flow traces extracted SOL from a deployer outward: a bounded BFS
// over balance deltas that ends at exchanges, bridges, or wallets that never
// send again.
package flow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/store"
)

// ChainReader is the slice of the RPC client the tracer needs.
type ChainReader interface {
	GetSignatures(ctx context.Context, address, before string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.Transaction, error)
}

// MarketData resolves SOL pricing and bridge destinations, both best effort.
type MarketData interface {
	SOLPrice(ctx context.Context) float64
	BridgeExits(ctx context.Context, address string) []model.CrossChainExit
}

const (
	maxHops             = 3
	maxTxnPerWallet     = 50
	minTransferLamports = 100_000_000 // 0.1 SOL
	traceTimeout        = 20 * time.Second
	hopConcurrency      = 3
)

type Tracer struct {
	reader ChainReader
	market MarketData
	store  *store.Store
}

func NewTracer(reader ChainReader, market MarketData, s *store.Store) *Tracer {
	return &Tracer{reader: reader, market: market, store: s}
}

// Trace runs the BFS from the deployer and persists every discovered edge.
// Hops are strictly sequential: the next frontier is only known once the
// current hop has fully completed.
func (t *Tracer) Trace(ctx context.Context, mint, deployer string) (*model.SolFlowReport, error) {
	ctx, cancel := context.WithTimeout(ctx, traceTimeout)
	defer cancel()

	frontier := []string{deployer}
	visited := map[string]bool{deployer: true}
	var allEdges []model.SolFlowEdge

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		edges := t.traceHop(ctx, mint, frontier, hop)
		if len(edges) == 0 {
			break
		}
		if t.store != nil {
			if err := t.store.InsertSolFlows(edges); err != nil {
				log.Warn().Err(err).Str("mint", labels.Short(mint)).Int("hop", hop).Msg("flow persist failed")
			}
		}
		allEdges = append(allEdges, edges...)

		var next []string
		for _, e := range edges {
			if visited[e.ToAddress] || !expandable(e.ToAddress) {
				continue
			}
			visited[e.ToAddress] = true
			next = append(next, e.ToAddress)
		}
		frontier = next
	}

	report := assembleReport(mint, deployer, allEdges)
	t.enrich(ctx, report)

	if t.store != nil && len(allEdges) > 0 && !t.store.HasEvent(model.EventSolFlowEmitted, mint) {
		ev := model.TokenEvent{EventType: model.EventSolFlowEmitted, Mint: mint, Deployer: deployer}
		if err := t.store.InsertEvent(ev); err != nil {
			log.Warn().Err(err).Str("mint", labels.Short(mint)).Msg("flow event insert failed")
		}
	}

	log.Info().Str("mint", labels.Short(mint)).Int("edges", len(allEdges)).
		Int("hops", report.HopCount).Float64("sol", report.TotalExtractedSOL).Msg("sol flow traced")
	return report, nil
}

// CachedReport rebuilds the report from persisted rows without touching the
// chain. Nil when nothing was ever traced for the mint.
func (t *Tracer) CachedReport(ctx context.Context, mint string) (*model.SolFlowReport, error) {
	if t.store == nil {
		return nil, nil
	}
	edges, err := t.store.SolFlowsForMint(mint)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	deployer := edges[0].FromAddress
	for _, e := range edges {
		if e.Hop == 0 {
			deployer = e.FromAddress
			break
		}
	}
	report := assembleReport(mint, deployer, edges)
	t.enrich(ctx, report)
	return report, nil
}

// traceHop fans out over the frontier under the hop semaphore.
func (t *Tracer) traceHop(ctx context.Context, mint string, frontier []string, hop int) []model.SolFlowEdge {
	var mu sync.Mutex
	var edges []model.SolFlowEdge

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hopConcurrency)
	for _, wallet := range frontier {
		wallet := wallet
		g.Go(func() error {
			found := t.walletFlows(gctx, mint, wallet, hop)
			if len(found) > 0 {
				mu.Lock()
				edges = append(edges, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return edges
}

func (t *Tracer) walletFlows(ctx context.Context, mint, wallet string, hop int) []model.SolFlowEdge {
	sigs, err := t.reader.GetSignatures(ctx, wallet, "", maxTxnPerWallet)
	if err != nil {
		return nil
	}

	var edges []model.SolFlowEdge
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		tx, err := t.reader.GetTransaction(ctx, sig.Signature)
		if err != nil || tx.Failed() {
			continue
		}
		blockTime := int64(0)
		if sig.BlockTime != nil {
			blockTime = *sig.BlockTime
		} else if tx.BlockTime != nil {
			blockTime = *tx.BlockTime
		}
		edges = append(edges, parseFlows(tx, mint, wallet, sig.Signature, sig.Slot, blockTime, hop)...)
	}
	return edges
}

// parseFlows reads the balance deltas of one transaction. Only transactions
// where the source wallet lost lamports count; every recipient index gaining
// at least the threshold becomes an edge, so one signature can fan out to
// several destinations.
func parseFlows(tx *rpc.Transaction, mint, source, signature string, slot, blockTime int64, hop int) []model.SolFlowEdge {
	if tx == nil || tx.Transaction == nil || tx.Meta == nil {
		return nil
	}
	keys := tx.Transaction.Message.AccountKeys
	pre, post := tx.Meta.PreBalances, tx.Meta.PostBalances
	if len(pre) != len(post) || len(keys) > len(pre) {
		return nil
	}

	sourceIdx := -1
	for i, k := range keys {
		if k.Pubkey == source {
			sourceIdx = i
			break
		}
	}
	if sourceIdx < 0 || post[sourceIdx]-pre[sourceIdx] >= 0 {
		return nil
	}

	var edges []model.SolFlowEdge
	for i, k := range keys {
		if i == sourceIdx || k.Pubkey == "" {
			continue
		}
		delta := post[i] - pre[i]
		if delta < minTransferLamports || skipRecipient(k.Pubkey) {
			continue
		}
		edges = append(edges, model.SolFlowEdge{
			Mint:           mint,
			FromAddress:    source,
			ToAddress:      k.Pubkey,
			AmountLamports: delta,
			AmountSOL:      float64(delta) / model.LamportsPerSOL,
			Signature:      signature,
			Slot:           slot,
			BlockTime:      blockTime,
			Hop:            hop,
		})
	}
	return edges
}

// skipRecipient drops programs and infrastructure accounts. Bridge programs
// stay: edges into them drive cross-chain detection.
func skipRecipient(address string) bool {
	return labels.IsProgram(address) && !labels.IsBridgeProgram(address)
}

// expandable reports whether a recipient joins the next frontier. Exchange
// hot-wallets and bridges are graph terminals; walking their histories would
// pull in unrelated traffic.
func expandable(address string) bool {
	return !labels.IsProgram(address) && !labels.IsCEX(address)
}

// assembleReport folds edges into the report. Pure; shared by live traces
// and cached rebuilds.
func assembleReport(mint, deployer string, edges []model.SolFlowEdge) *model.SolFlowReport {
	report := &model.SolFlowReport{Mint: mint, Deployer: deployer, Flows: edges}
	if len(edges) == 0 {
		return report
	}

	senders := map[string]bool{}
	maxHop := 0
	for i := range edges {
		e := &edges[i]
		e.FromLabel, _ = labels.Classify(e.FromAddress)
		e.ToLabel, e.EntityType = labels.Classify(e.ToAddress)
		senders[e.FromAddress] = true
		if e.Hop > maxHop {
			maxHop = e.Hop
		}
		if e.Hop == 0 {
			report.TotalExtractedSOL += e.AmountSOL
			if report.RugTimestamp == 0 || (e.BlockTime > 0 && e.BlockTime < report.RugTimestamp) {
				report.RugTimestamp = e.BlockTime
			}
		}
		if labels.IsCEX(e.ToAddress) {
			report.KnownCEXDetected = true
		}
	}
	report.HopCount = maxHop + 1

	terminals := map[string]bool{}
	for _, e := range edges {
		if !senders[e.ToAddress] {
			terminals[e.ToAddress] = true
		}
	}
	for addr := range terminals {
		report.TerminalWallets = append(report.TerminalWallets, addr)
	}
	sort.Strings(report.TerminalWallets)
	return report
}

// enrich attaches pricing and cross-chain exits, both best effort.
func (t *Tracer) enrich(ctx context.Context, report *model.SolFlowReport) {
	if t.market == nil {
		return
	}
	if report.TotalExtractedSOL > 0 {
		report.TotalExtractedUSD = report.TotalExtractedSOL * t.market.SOLPrice(ctx)
	}
	seen := map[string]bool{}
	for _, e := range report.Flows {
		if !labels.IsBridgeProgram(e.ToAddress) || seen[e.FromAddress] {
			continue
		}
		seen[e.FromAddress] = true
		report.CrossChainExits = append(report.CrossChainExits, t.market.BridgeExits(ctx, e.FromAddress)...)
	}
}
