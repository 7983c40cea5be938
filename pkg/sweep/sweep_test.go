package sweep

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rug-tracer/pkg/config"
	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/store"
)

type fakeMarket struct {
	mu  sync.Mutex
	liq map[string]float64
}

func (m *fakeMarket) TotalLiquidity(_ context.Context, mint string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liq[mint]
}

type fakeFlow struct {
	mu     sync.Mutex
	traced []string
	done   chan struct{}
}

func (f *fakeFlow) Trace(_ context.Context, mint, _ string) (*model.SolFlowReport, error) {
	f.mu.Lock()
	f.traced = append(f.traced, mint)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return &model.SolFlowReport{Mint: mint}, nil
}

type fakeCartel struct {
	deployers []string
	dnaRuns   int
	ran       []string
}

func (c *fakeCartel) Deployers(int) ([]string, error) { return c.deployers, nil }
func (c *fakeCartel) SignalDNAMatchAll() error        { c.dnaRuns++; return nil }
func (c *fakeCartel) RunForDeployer(_ context.Context, d string) error {
	c.ran = append(c.ran, d)
	return nil
}

func testRunner(t *testing.T, market Liquidity, flow FlowTracer, cartel CartelRunner, notify Notifier) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{RugLiquidityThresholdUSD: 100}
	r := NewRunner(cfg, st, market, flow, cartel, notify)
	r.ctx = context.Background()
	return r, st
}

func created(mint, deployer string, liq float64) model.TokenEvent {
	return model.TokenEvent{
		EventType: model.EventTokenCreated,
		Mint:      mint,
		Deployer:  deployer,
		Name:      "Test Token",
		Symbol:    "TT",
		Narrative: "dogs",
		LiqUSD:    liq,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339),
	}
}

func TestRugSweepMarksDrainedTokens(t *testing.T) {
	market := &fakeMarket{liq: map[string]float64{
		"MintDrained": 40,     // below threshold: rug
		"MintHealthy": 25_000, // fine
	}}
	flow := &fakeFlow{done: make(chan struct{}, 1)}
	r, st := testRunner(t, market, flow, nil, nil)

	require.NoError(t, st.InsertEvent(created("MintDrained", "DeployerD", 9000)))
	require.NoError(t, st.InsertEvent(created("MintHealthy", "DeployerH", 9000)))

	r.RugSweep(context.Background())

	assert.True(t, st.HasEvent(model.EventTokenRugged, "MintDrained"))
	assert.False(t, st.HasEvent(model.EventTokenRugged, "MintHealthy"))

	rugs, err := st.QueryEvents("event_type=? AND mint=?",
		[]any{model.EventTokenRugged, "MintDrained"}, "", 0)
	require.NoError(t, err)
	require.Len(t, rugs, 1)
	assert.Equal(t, "DeployerD", rugs[0].Deployer)
	assert.InDelta(t, 40, rugs[0].LiqUSD, 1e-9)
	assert.NotEmpty(t, rugs[0].RuggedAt)

	select {
	case <-flow.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no flow trace after rug")
	}
	assert.Equal(t, []string{"MintDrained"}, flow.traced)
}

func TestRugSweepSkipsAlreadyRugged(t *testing.T) {
	market := &fakeMarket{liq: map[string]float64{"MintDrained": 0}}
	r, st := testRunner(t, market, nil, nil, nil)

	require.NoError(t, st.InsertEvent(created("MintDrained", "DeployerD", 9000)))
	require.NoError(t, st.InsertEvent(model.TokenEvent{
		EventType: model.EventTokenRugged, Mint: "MintDrained", Deployer: "DeployerD",
	}))

	r.RugSweep(context.Background())

	rugs, err := st.QueryEvents("event_type=? AND mint=?",
		[]any{model.EventTokenRugged, "MintDrained"}, "", 0)
	require.NoError(t, err)
	assert.Len(t, rugs, 1, "no duplicate rug event")
}

func TestRugSweepIgnoresThinPools(t *testing.T) {
	market := &fakeMarket{liq: map[string]float64{"MintTiny": 0}}
	r, st := testRunner(t, market, nil, nil, nil)

	// Recorded with $50 liquidity: never had a pool worth watching.
	require.NoError(t, st.InsertEvent(created("MintTiny", "DeployerT", 50)))

	r.RugSweep(context.Background())
	assert.False(t, st.HasEvent(model.EventTokenRugged, "MintTiny"))
}

func TestCartelSweepRotatesBatches(t *testing.T) {
	cartel := &fakeCartel{}
	for i := 0; i < 15; i++ {
		cartel.deployers = append(cartel.deployers, string(rune('A'+i)))
	}
	r, _ := testRunner(t, nil, nil, cartel, nil)

	r.CartelSweep(context.Background())
	require.Len(t, cartel.ran, 10)
	assert.Equal(t, "A", cartel.ran[0])

	r.CartelSweep(context.Background())
	require.Len(t, cartel.ran, 20)
	assert.Equal(t, "K", cartel.ran[10], "second sweep continues where the first stopped")
	assert.Equal(t, "E", cartel.ran[19], "wraps around")
	assert.Equal(t, 2, cartel.dnaRuns)
}

func TestAlertSweepMatchesAndDedupes(t *testing.T) {
	var mu sync.Mutex
	var got []string
	notify := func(chatID int64, msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}
	r, st := testRunner(t, nil, nil, nil, notify)

	require.NoError(t, st.Subscribe(101, model.SubTypeDeployer, "DeployerD"))
	require.NoError(t, st.Subscribe(102, model.SubTypeNarrative, "Dogs"))
	require.NoError(t, st.Subscribe(103, model.SubTypeDeployer, "SomeoneElse"))

	require.NoError(t, st.InsertEvent(created("MintNew", "DeployerD", 5000)))

	r.AlertSweep(context.Background())
	mu.Lock()
	assert.Len(t, got, 2, "deployer sub and case-insensitive narrative sub fire")
	mu.Unlock()

	// The next sweep sees the same event inside the lookback overlap.
	r.AlertSweep(context.Background())
	mu.Lock()
	assert.Len(t, got, 2, "deduped")
	mu.Unlock()
}

func TestSubscriptionMatching(t *testing.T) {
	ev := model.TokenEvent{Deployer: "DeployerD", Narrative: "dogs"}

	assert.True(t, subscriptionMatches(model.AlertSubscription{SubType: model.SubTypeDeployer, Value: "DeployerD"}, ev))
	assert.False(t, subscriptionMatches(model.AlertSubscription{SubType: model.SubTypeDeployer, Value: "Other"}, ev))
	assert.True(t, subscriptionMatches(model.AlertSubscription{SubType: model.SubTypeNarrative, Value: "DOGS"}, ev))
	assert.False(t, subscriptionMatches(model.AlertSubscription{SubType: "unknown", Value: "x"}, ev))
}

func TestMarkSeenTTL(t *testing.T) {
	r, _ := testRunner(t, nil, nil, nil, nil)

	assert.True(t, r.markSeen(1, "MintA"))
	assert.False(t, r.markSeen(1, "MintA"))
	assert.True(t, r.markSeen(2, "MintA"), "per-chat key")

	r.mu.Lock()
	r.seen["1:MintA"] = time.Now().Add(-2 * alertSeenTTL)
	r.mu.Unlock()
	assert.True(t, r.markSeen(1, "MintA"), "expired entries are pruned")
}
