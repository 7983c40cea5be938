// Package sweep runs the background loops: rug detection over recently
// recorded tokens, cartel signal builds, subscription alerts and database
// maintenance.
package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/config"
	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/store"
)

const (
	rugCandidateMinLiqUSD = 500.0
	rugCandidateMaxAge    = 48 * time.Hour
	rugCheckConcurrency   = 3

	cartelMinTokens = 2
	cartelBatchSize = 10

	alertLookback = 6 * time.Minute
	alertSeenTTL  = time.Hour

	vacuumInterval = 24 * time.Hour
	sweepTimeout   = 10 * time.Minute
)

// Liquidity is the market view the rug sweep needs.
type Liquidity interface {
	TotalLiquidity(ctx context.Context, mint string) float64
}

// FlowTracer kicks off extraction tracing for a freshly detected rug.
type FlowTracer interface {
	Trace(ctx context.Context, mint, deployer string) (*model.SolFlowReport, error)
}

// CartelRunner is the slice of the cartel builder the hourly sweep drives.
type CartelRunner interface {
	Deployers(minTokens int) ([]string, error)
	SignalDNAMatchAll() error
	RunForDeployer(ctx context.Context, deployer string) error
}

// Notifier delivers one alert line to a subscriber.
type Notifier func(chatID int64, message string)

type Runner struct {
	cfg    *config.Config
	store  *store.Store
	market Liquidity
	flow   FlowTracer
	cartel CartelRunner
	notify Notifier

	cron *cron.Cron
	ctx  context.Context

	// Rotating cursor so successive cartel sweeps cover all deployers.
	cartelCursor int

	mu   sync.Mutex
	seen map[string]time.Time // alert dedupe, "chatID:mint"
}

func NewRunner(cfg *config.Config, s *store.Store, market Liquidity, flow FlowTracer, cartel CartelRunner, notify Notifier) *Runner {
	return &Runner{
		cfg:    cfg,
		store:  s,
		market: market,
		flow:   flow,
		cartel: cartel,
		notify: notify,
		seen:   map[string]time.Time{},
	}
}

// Start registers the schedules and launches the cron loop. The loop stops
// when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx = ctx
	r.cron = cron.New()

	entries := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"rug", r.cfg.RugSweepInterval, r.RugSweep},
		{"cartel", r.cfg.CartelSweepInterval, r.CartelSweep},
		{"alert", r.cfg.AlertSweepInterval, r.AlertSweep},
		{"maintenance", r.cfg.MaintenanceInterval, r.MaintenanceSweep},
		{"vacuum", vacuumInterval, r.VacuumSweep},
	}
	for _, e := range entries {
		spec := fmt.Sprintf("@every %s", e.interval)
		if _, err := r.cron.AddFunc(spec, r.job(e.name, e.fn)); err != nil {
			return fmt.Errorf("schedule %s sweep: %w", e.name, err)
		}
	}

	r.cron.Start()
	log.Info().Msg("sweeps scheduled")

	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
	return nil
}

// job wraps a sweep body with a timeout and panic recovery so one bad
// iteration never kills the schedule.
func (r *Runner) job(name string, fn func(context.Context)) func() {
	return func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("sweep", name).Msg("sweep panicked")
			}
		}()
		if r.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.ctx, sweepTimeout)
		defer cancel()

		start := time.Now()
		fn(ctx)
		log.Debug().Str("sweep", name).Dur("took", time.Since(start)).Msg("sweep done")
	}
}

// RugSweep re-checks liquidity for tokens recorded recently with a real pool
// and marks the drained ones as rugged, kicking off a flow trace for each.
func (r *Runner) RugSweep(ctx context.Context) {
	cutoff := float64(time.Now().Add(-rugCandidateMaxAge).Unix())
	candidates, err := r.store.QueryEvents("event_type=? AND liq_usd>? AND recorded_at>?",
		[]any{model.EventTokenCreated, rugCandidateMinLiqUSD, cutoff}, "recorded_at DESC", 0)
	if err != nil {
		log.Warn().Err(err).Msg("rug sweep query")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rugCheckConcurrency)
	for _, ev := range candidates {
		ev := ev
		if r.store.HasEvent(model.EventTokenRugged, ev.Mint) {
			continue
		}
		g.Go(func() error {
			liq := r.market.TotalLiquidity(gctx, ev.Mint)
			if liq >= r.cfg.RugLiquidityThresholdUSD {
				return nil
			}
			r.markRugged(ev, liq)
			return nil
		})
	}
	g.Wait()
}

func (r *Runner) markRugged(ev model.TokenEvent, liq float64) {
	rug := model.TokenEvent{
		EventType: model.EventTokenRugged,
		Mint:      ev.Mint,
		Deployer:  ev.Deployer,
		Name:      ev.Name,
		Symbol:    ev.Symbol,
		Narrative: ev.Narrative,
		McapUSD:   ev.McapUSD,
		LiqUSD:    liq,
		CreatedAt: ev.CreatedAt,
		RuggedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.store.InsertEvent(rug); err != nil {
		log.Warn().Err(err).Str("mint", labels.Short(ev.Mint)).Msg("record rug")
		return
	}
	log.Warn().Str("mint", labels.Short(ev.Mint)).Str("deployer", labels.Short(ev.Deployer)).
		Float64("liq_usd", liq).Msg("rug detected")

	if r.flow == nil || ev.Deployer == "" {
		return
	}
	// Trace in the background; the report lands in the store either way.
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, sweepTimeout)
		defer cancel()
		if _, err := r.flow.Trace(ctx, ev.Mint, ev.Deployer); err != nil {
			log.Debug().Err(err).Str("mint", labels.Short(ev.Mint)).Msg("post-rug trace")
		}
	}()
}

// CartelSweep rebuilds coordination signals. DNA matching covers everyone at
// once; the per-deployer chain signals run over a rotating batch so a large
// deployer set is covered across sweeps.
func (r *Runner) CartelSweep(ctx context.Context) {
	if r.cartel == nil {
		return
	}
	if err := r.cartel.SignalDNAMatchAll(); err != nil {
		log.Warn().Err(err).Msg("dna match sweep")
	}

	deployers, err := r.cartel.Deployers(cartelMinTokens)
	if err != nil || len(deployers) == 0 {
		return
	}

	batch := make([]string, 0, cartelBatchSize)
	for i := 0; i < cartelBatchSize && i < len(deployers); i++ {
		batch = append(batch, deployers[(r.cartelCursor+i)%len(deployers)])
	}
	r.cartelCursor = (r.cartelCursor + len(batch)) % len(deployers)

	for _, d := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := r.cartel.RunForDeployer(ctx, d); err != nil {
			log.Debug().Err(err).Str("deployer", labels.Short(d)).Msg("cartel signals")
		}
	}
	log.Info().Int("deployers", len(batch)).Msg("cartel sweep done")
}

// AlertSweep matches recent token_created events against subscriptions. The
// lookback overlaps the schedule by a minute; the seen map deduplicates.
func (r *Runner) AlertSweep(ctx context.Context) {
	if r.notify == nil {
		return
	}
	subs, err := r.store.AllSubscriptions()
	if err != nil || len(subs) == 0 {
		return
	}

	cutoff := float64(time.Now().Add(-alertLookback).Unix())
	recent, err := r.store.QueryEvents("event_type=? AND recorded_at>?",
		[]any{model.EventTokenCreated, cutoff}, "recorded_at DESC", 0)
	if err != nil || len(recent) == 0 {
		return
	}

	for _, ev := range recent {
		for _, sub := range subs {
			if !subscriptionMatches(sub, ev) {
				continue
			}
			if !r.markSeen(sub.ChatID, ev.Mint) {
				continue
			}
			r.notify(sub.ChatID, alertMessage(sub, ev))
		}
	}
}

func subscriptionMatches(sub model.AlertSubscription, ev model.TokenEvent) bool {
	switch sub.SubType {
	case model.SubTypeDeployer:
		return sub.Value == ev.Deployer
	case model.SubTypeNarrative:
		return strings.EqualFold(sub.Value, ev.Narrative)
	default:
		return false
	}
}

func alertMessage(sub model.AlertSubscription, ev model.TokenEvent) string {
	subject := labels.Short(ev.Deployer)
	if sub.SubType == model.SubTypeNarrative {
		subject = ev.Narrative
	}
	return fmt.Sprintf("New launch: %s (%s) by %s — mint %s, mcap $%.0f",
		ev.Name, ev.Symbol, subject, ev.Mint, ev.McapUSD)
}

// markSeen reports whether this (chat, mint) pair is new, pruning old keys.
func (r *Runner) markSeen(chatID int64, mint string) bool {
	key := fmt.Sprintf("%d:%s", chatID, mint)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, at := range r.seen {
		if now.Sub(at) > alertSeenTTL {
			delete(r.seen, k)
		}
	}
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = now
	return true
}

func (r *Runner) MaintenanceSweep(ctx context.Context) {
	if err := r.store.Maintain(); err != nil {
		log.Warn().Err(err).Msg("db maintenance")
	}
	if purged, err := r.store.PurgeExpiredCache(); err == nil && purged > 0 {
		log.Debug().Int64("rows", purged).Msg("cache purged")
	}
}

func (r *Runner) VacuumSweep(ctx context.Context) {
	if err := r.store.Vacuum(); err != nil {
		log.Warn().Err(err).Msg("db vacuum")
	}
}
