package cartel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
)

const communityTimeout = 15 * time.Second

// CommunityReport detects the deployer's cartel community on demand. Nil
// when the deployer has no neighbours in the graph.
func (b *Builder) CommunityReport(ctx context.Context, deployer string) (*model.CartelReport, error) {
	ctx, cancel := context.WithTimeout(ctx, communityTimeout)
	defer cancel()

	edges, err := b.store.CartelEdges()
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	// Collapse multi-signal pairs to their strongest edge.
	type pair struct{ a, b string }
	weights := map[pair]float64{}
	for _, e := range edges {
		p := pair{e.WalletA, e.WalletB}
		if e.SignalStrength > weights[p] {
			weights[p] = e.SignalStrength
		}
	}

	ids := map[string]int64{}
	wallets := []string{}
	id := func(w string) int64 {
		if n, ok := ids[w]; ok {
			return n
		}
		n := int64(len(wallets))
		ids[w] = n
		wallets = append(wallets, w)
		return n
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for p, w := range weights {
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(id(p.a)), simple.Node(id(p.b)), w))
	}
	deployerID, ok := ids[deployer]
	if !ok {
		return nil, nil
	}

	var members []string
	for _, group := range detectCommunities(g) {
		found := false
		for _, n := range group {
			if n.ID() == deployerID {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		for _, n := range group {
			members = append(members, wallets[n.ID()])
		}
		break
	}
	if len(members) < 2 {
		return nil, nil
	}
	sort.Strings(members)

	report := &model.CartelReport{
		CommunityID: communityID(members),
		Wallets:     members,
	}
	b.aggregateCommunity(report, edges)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info().Str("deployer", labels.Short(deployer)).Int("wallets", len(members)).
		Str("confidence", report.Confidence).Msg("cartel community resolved")
	return report, nil
}

// detectCommunities prefers Louvain modularity optimisation and falls back
// to connected components when it fails.
func detectCommunities(g *simple.WeightedUndirectedGraph) (groups [][]graph.Node) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("louvain failed, using connected components")
			groups = topo.ConnectedComponents(g)
		}
	}()
	return community.Modularize(g, 1.0, nil).Communities()
}

// aggregateCommunity fills the stats from the event log and the community
// subgraph.
func (b *Builder) aggregateCommunity(report *model.CartelReport, edges []model.CartelEdge) {
	member := map[string]bool{}
	for _, w := range report.Wallets {
		member[w] = true
	}

	signalTypes := map[string]bool{}
	strongest := ""
	maxStrength := -1.0
	for _, e := range edges {
		if !member[e.WalletA] || !member[e.WalletB] {
			continue
		}
		signalTypes[e.SignalType] = true
		if e.SignalStrength > maxStrength {
			maxStrength = e.SignalStrength
			strongest = e.SignalType
		}
	}
	for t := range signalTypes {
		report.SignalTypes = append(report.SignalTypes, t)
	}
	sort.Strings(report.SignalTypes)
	report.StrongestSignal = strongest

	placeholders := strings.TrimRight(strings.Repeat("?,", len(report.Wallets)), ",")
	args := make([]any, len(report.Wallets))
	for i, w := range report.Wallets {
		args[i] = w
	}
	if events, err := b.store.QueryEvents("deployer IN ("+placeholders+")", args, "recorded_at", 0); err == nil {
		var rugged []model.TokenEvent
		earliest := time.Time{}
		for _, ev := range events {
			switch ev.EventType {
			case model.EventTokenCreated:
				report.TotalTokens++
				if at := ev.CreatedTime(); !at.IsZero() && (earliest.IsZero() || at.Before(earliest)) {
					earliest = at
				}
			case model.EventTokenRugged:
				report.TotalRugs++
				rugged = append(rugged, ev)
			}
		}
		report.EstimatedExtractedUSD = EstimateExtractedUSD(rugged)
		if !earliest.IsZero() {
			report.EarliestActivity = earliest.UTC().Format(time.RFC3339)
		}
	}

	switch {
	case len(report.SignalTypes) >= 2 && len(report.Wallets) >= 3:
		report.Confidence = "high"
	case len(report.SignalTypes) >= 2 || len(report.Wallets) >= 2:
		report.Confidence = "medium"
	default:
		report.Confidence = "low"
	}
}

// communityID is a stable digest of the sorted member set.
func communityID(wallets []string) string {
	sum := sha256.Sum256([]byte(strings.Join(wallets, ",")))
	return hex.EncodeToString(sum[:8])
}
