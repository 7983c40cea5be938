// Package service is the operations facade consumed by the HTTP API and any
// bot/CLI front end: analyze, search, flow and bundle reports, subscriptions
// and health. It composes the engines and attaches every forensic signal to
// the lineage result; each attachment is best-effort and nil on missing data.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/cartel"
	"github.com/rug-tracer/pkg/config"
	"github.com/rug-tracer/pkg/forensic"
	"github.com/rug-tracer/pkg/httpshell"
	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/narrative"
	"github.com/rug-tracer/pkg/store"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNoResult       = errors.New("no result")
)

const (
	profileTTL       = 10 * time.Minute
	analyzeTimeout   = 2 * time.Minute
	maxSearchResults = 20
	maxInsiderLinked = 3
)

// LineageDetector builds the token family for a mint.
type LineageDetector interface {
	Detect(ctx context.Context, mint string) (*model.LineageResult, error)
}

// BundleAnalyzer classifies launch-window buyers.
type BundleAnalyzer interface {
	Analyze(ctx context.Context, mint, deployer string) (*model.BundleExtractionReport, error)
}

// FlowReporter traces and replays SOL extraction paths.
type FlowReporter interface {
	Trace(ctx context.Context, mint, deployer string) (*model.SolFlowReport, error)
	CachedReport(ctx context.Context, mint string) (*model.SolFlowReport, error)
}

// CartelReporter resolves the deployer's coordination community.
type CartelReporter interface {
	CommunityReport(ctx context.Context, deployer string) (*model.CartelReport, error)
}

// Forensics is the slice of the forensic engine the facade drives.
type Forensics interface {
	DeployerProfileFor(deployer string) *model.DeployerProfile
	DeathClockFor(deployer string, currentCreated time.Time) *model.DeathClock
	RhythmFor(deployer string) *model.FactoryRhythm
	NarrativeFor(narrative string, currentCreated time.Time) *model.NarrativeTiming
	RiskFor(ctx context.Context, mint, deployer string) *model.OnChainRisk
	InsiderFor(ctx context.Context, pair *market.Pair, mint, deployer string, linked []string) *model.InsiderSellReport
	BuildFingerprints(ctx context.Context, inputs []forensic.FingerprintInput) *model.OperatorFingerprint
}

// Market is the aggregator view the facade needs.
type Market interface {
	TokenPairs(ctx context.Context, mint string) []market.Pair
	SearchPairs(ctx context.Context, query string) []market.Pair
}

// DeployerResolver finds the deployer for mints never analyzed before.
type DeployerResolver interface {
	GetDeployerAndTimestamp(ctx context.Context, mint string) (string, time.Time, error)
}

type Service struct {
	cfg      *config.Config
	store    *store.Store
	shell    *httpshell.Shell
	market   Market
	resolver DeployerResolver
	lineage  LineageDetector
	bundle   BundleAnalyzer
	flow     FlowReporter
	cartel   CartelReporter
	forensic Forensics

	profileMu sync.Mutex
	profiles  map[string]profileEntry
}

type profileEntry struct {
	profile *model.DeployerProfile
	at      time.Time
}

func New(cfg *config.Config, s *store.Store, shell *httpshell.Shell, m Market, resolver DeployerResolver,
	lin LineageDetector, bun BundleAnalyzer, fl FlowReporter, car CartelReporter, fo Forensics) *Service {
	return &Service{
		cfg:      cfg,
		store:    s,
		shell:    shell,
		market:   m,
		resolver: resolver,
		lineage:  lin,
		bundle:   bun,
		flow:     fl,
		cartel:   car,
		forensic: fo,
		profiles: map[string]profileEntry{},
	}
}

// ValidAddress reports whether addr is a well-formed Solana public key.
func ValidAddress(addr string) bool {
	raw, err := base58.Decode(addr)
	return err == nil && len(raw) == 32
}

// Analyze runs the full pipeline for one mint: lineage first, then every
// forensic signal attached concurrently. Only lineage failure is fatal.
func (s *Service) Analyze(ctx context.Context, mint string) (*model.LineageResult, error) {
	if !ValidAddress(mint) {
		return nil, ErrInvalidAddress
	}
	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	result, err := s.lineage.Detect(ctx, mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", labels.Short(mint)).Msg("lineage failed")
		return nil, ErrNoResult
	}

	if result.QueryToken.Narrative == "" {
		result.QueryToken.Narrative = narrative.Classify(result.QueryToken.Name, result.QueryToken.Symbol)
	}
	s.recordCreation(result.QueryToken)

	deployer := result.QueryToken.Deployer
	pairs := s.market.TokenPairs(ctx, mint)
	best := market.BestPair(pairs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Bundle = s.bundleFor(gctx, mint, deployer)
		return nil
	})
	g.Go(func() error {
		if report, err := s.flow.CachedReport(gctx, mint); err == nil {
			result.SolFlow = report
		}
		return nil
	})
	g.Go(func() error {
		if deployer == "" {
			return nil
		}
		if report, err := s.cartel.CommunityReport(gctx, deployer); err == nil {
			result.Cartel = report
		}
		return nil
	})
	g.Go(func() error {
		if deployer == "" {
			return nil
		}
		result.DeployerProfile = s.cachedProfile(deployer)
		result.DeathClock = s.forensic.DeathClockFor(deployer, result.QueryToken.CreatedAt)
		result.FactoryRhythm = s.forensic.RhythmFor(deployer)
		return nil
	})
	g.Go(func() error {
		result.NarrativeTiming = s.forensic.NarrativeFor(result.QueryToken.Narrative, result.QueryToken.CreatedAt)
		result.Zombie = forensic.DetectZombie(result.QueryToken, result.Derivatives, time.Now())
		result.Liquidity = forensic.LiquidityArchitecture(pairs)
		return nil
	})
	g.Go(func() error {
		result.OnChainRisk = s.forensic.RiskFor(gctx, mint, deployer)
		return nil
	})
	g.Go(func() error {
		result.Fingerprint = s.forensic.BuildFingerprints(gctx, fingerprintInputs(result))
		return nil
	})
	g.Wait()

	// Insider scoring needs the bundle's linked wallets; cartel impact needs
	// the resolved community. Both run after the fan-out.
	result.InsiderSell = s.forensic.InsiderFor(ctx, best, mint, deployer, linkedWallets(result.Bundle))
	result.OperatorImpact = s.operatorImpact(ctx, deployer, result.Cartel, result.Fingerprint)

	return result, nil
}

// recordCreation appends the analyzed token to the event log so sweeps and
// deployer history accumulate organically.
func (s *Service) recordCreation(tok model.Token) {
	if s.store == nil || tok.Deployer == "" || s.store.HasEvent(model.EventTokenCreated, tok.Mint) {
		return
	}
	ev := model.TokenEvent{
		EventType: model.EventTokenCreated,
		Mint:      tok.Mint,
		Deployer:  tok.Deployer,
		Name:      tok.Name,
		Symbol:    tok.Symbol,
		Narrative: tok.Narrative,
		McapUSD:   tok.MarketCapUSD,
		LiqUSD:    tok.LiquidityUSD,
	}
	if !tok.CreatedAt.IsZero() {
		ev.CreatedAt = tok.CreatedAt.UTC().Format(time.RFC3339)
	}
	if err := s.store.InsertEvent(ev); err != nil {
		log.Debug().Err(err).Str("mint", labels.Short(tok.Mint)).Msg("record creation")
	}
}

func (s *Service) bundleFor(ctx context.Context, mint, deployer string) *model.BundleExtractionReport {
	if deployer == "" {
		return nil
	}
	report, err := s.bundle.Analyze(ctx, mint, deployer)
	if err != nil {
		log.Debug().Err(err).Str("mint", labels.Short(mint)).Msg("bundle analysis")
		return nil
	}
	return report
}

// cachedProfile memoizes deployer profiles for ten minutes; profile building
// walks the full event history for the wallet.
func (s *Service) cachedProfile(deployer string) *model.DeployerProfile {
	s.profileMu.Lock()
	entry, ok := s.profiles[deployer]
	s.profileMu.Unlock()
	if ok && time.Since(entry.at) < profileTTL {
		return entry.profile
	}

	profile := s.forensic.DeployerProfileFor(deployer)
	s.profileMu.Lock()
	s.profiles[deployer] = profileEntry{profile: profile, at: time.Now()}
	s.profileMu.Unlock()
	return profile
}

func fingerprintInputs(result *model.LineageResult) []forensic.FingerprintInput {
	var inputs []forensic.FingerprintInput
	add := func(tok model.Token) {
		if tok.MetadataURI != "" && tok.Deployer != "" {
			inputs = append(inputs, forensic.FingerprintInput{
				Mint: tok.Mint, Deployer: tok.Deployer, MetadataURI: tok.MetadataURI,
			})
		}
	}
	add(result.QueryToken)
	for _, d := range result.Derivatives {
		add(d.Token)
	}
	return inputs
}

// linkedWallets picks the worst-classified bundle wallets as the deployer's
// likely insiders.
func linkedWallets(report *model.BundleExtractionReport) []string {
	if report == nil {
		return nil
	}
	var linked []string
	for _, verdict := range []string{model.WalletConfirmedTeam, model.WalletSuspectedTeam} {
		for _, w := range report.Wallets {
			if w.Verdict == verdict && len(linked) < maxInsiderLinked {
				linked = append(linked, w.Wallet)
			}
		}
	}
	return linked
}

// operatorImpact aggregates token/rug counts across every wallet tied to the
// operator: the deployer, its cartel community and fingerprint matches.
func (s *Service) operatorImpact(ctx context.Context, deployer string, cartelReport *model.CartelReport, fp *model.OperatorFingerprint) *model.OperatorImpact {
	if s.store == nil {
		return nil
	}
	set := map[string]bool{}
	if deployer != "" {
		set[deployer] = true
	}
	if cartelReport != nil {
		for _, w := range cartelReport.Wallets {
			set[w] = true
		}
	}
	if fp != nil {
		for _, w := range fp.Wallets {
			set[w] = true
		}
	}
	if len(set) < 2 {
		return nil
	}

	wallets := make([]string, 0, len(set))
	placeholders := make([]string, 0, len(set))
	args := make([]any, 0, len(set))
	for w := range set {
		wallets = append(wallets, w)
		placeholders = append(placeholders, "?")
		args = append(args, w)
	}

	events, err := s.store.QueryEvents(
		fmt.Sprintf("deployer IN (%s)", strings.Join(placeholders, ",")), args, "recorded_at", 0)
	if err != nil {
		return nil
	}

	impact := &model.OperatorImpact{Wallets: wallets}
	created := map[string]model.TokenEvent{}
	var rugged []model.TokenEvent
	for _, ev := range events {
		switch ev.EventType {
		case model.EventTokenCreated:
			created[ev.Mint] = ev
			impact.TotalTokens++
		case model.EventTokenRugged:
			if src, ok := created[ev.Mint]; ok {
				rugged = append(rugged, src)
			} else {
				rugged = append(rugged, ev)
			}
			impact.TotalRugs++
		}
	}
	impact.EstimatedExtractedUSD = cartel.EstimateExtractedUSD(rugged)
	return impact
}

// Search looks a name or symbol up on the aggregator and returns Solana
// tokens, deduplicated by mint, best liquidity first.
func (s *Service) Search(ctx context.Context, query string) ([]model.TokenSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResult
	}

	// A pasted mint address resolves directly instead of a text search.
	var pairs []market.Pair
	if mint := narrative.FirstMint(query); mint != "" && ValidAddress(mint) {
		pairs = s.market.TokenPairs(ctx, mint)
	} else {
		pairs = s.market.SearchPairs(ctx, query)
	}
	seen := map[string]bool{}
	var results []model.TokenSearchResult
	for _, tok := range market.SolanaTokens(pairs) {
		if tok.Mint == "" || seen[tok.Mint] {
			continue
		}
		seen[tok.Mint] = true
		results = append(results, model.TokenSearchResult{
			Mint:         tok.Mint,
			Name:         tok.Name,
			Symbol:       tok.Symbol,
			MarketCapUSD: tok.MarketCapUSD,
			LiquidityUSD: tok.LiquidityUSD,
			DexURL:       tok.DexURL,
			ImageURL:     tok.ImageURL,
		})
		if len(results) >= maxSearchResults {
			break
		}
	}
	if len(results) == 0 {
		return nil, ErrNoResult
	}
	return results, nil
}

// SolFlowReport returns the persisted extraction trace, running a fresh trace
// when the mint was never swept.
func (s *Service) SolFlowReport(ctx context.Context, mint string) (*model.SolFlowReport, error) {
	if !ValidAddress(mint) {
		return nil, ErrInvalidAddress
	}

	report, err := s.flow.CachedReport(ctx, mint)
	if err != nil {
		return nil, err
	}
	if report != nil {
		return report, nil
	}

	if s.resolver == nil {
		return nil, ErrNoResult
	}
	deployer, _, err := s.resolver.GetDeployerAndTimestamp(ctx, mint)
	if err != nil || deployer == "" {
		return nil, ErrNoResult
	}
	report, err = s.flow.Trace(ctx, mint, deployer)
	if err != nil || report == nil || len(report.Flows) == 0 {
		return nil, ErrNoResult
	}
	return report, nil
}

// BundleReport returns the stored bundle analysis while it is still fresh.
func (s *Service) BundleReport(mint string) (*model.BundleExtractionReport, error) {
	if !ValidAddress(mint) {
		return nil, ErrInvalidAddress
	}
	report := s.store.FreshBundleReport(mint, s.cfg.BundleReportTTL)
	if report == nil {
		return nil, ErrNoResult
	}
	return report, nil
}

// Subscribe registers an alert subscription after validating its shape.
func (s *Service) Subscribe(chatID int64, subType, value string) error {
	value = strings.TrimSpace(value)
	switch subType {
	case model.SubTypeDeployer:
		if !ValidAddress(value) {
			return ErrInvalidAddress
		}
	case model.SubTypeNarrative:
		if value == "" {
			return fmt.Errorf("empty narrative")
		}
	default:
		return fmt.Errorf("unknown subscription type %q", subType)
	}
	return s.store.Subscribe(chatID, subType, value)
}

func (s *Service) Unsubscribe(chatID int64, subType, value string) error {
	return s.store.Unsubscribe(chatID, subType, strings.TrimSpace(value))
}

func (s *Service) Subscriptions(chatID int64) ([]model.AlertSubscription, error) {
	return s.store.SubscriptionsFor(chatID)
}

// Health is the admin view: breaker states and store row counts.
type Health struct {
	Status   string            `json:"status"`
	Breakers []httpshell.Stats `json:"breakers"`
	Store    map[string]int64  `json:"store"`
}

func (s *Service) Health() Health {
	h := Health{Status: "ok"}
	if s.shell != nil {
		h.Breakers = s.shell.BreakerStats()
		for _, b := range h.Breakers {
			if b.State != httpshell.StateClosed.String() {
				h.Status = "degraded"
			}
		}
	}
	if s.store != nil {
		h.Store = s.store.Stats()
	}
	return h
}
