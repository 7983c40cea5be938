package forensic

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rug-tracer/pkg/market"
	"github.com/rug-tracer/pkg/model"
)

func TestDeathClockTiers(t *testing.T) {
	lifespans := []float64{10, 20, 30} // median 20

	cases := []struct {
		elapsed float64
		risk    string
	}{
		{5, "low"},       // ratio 0.25
		{12, "medium"},   // ratio 0.6
		{18, "high"},     // ratio 0.9
		{20, "critical"}, // ratio 1.0
		{40, "critical"},
	}
	for _, tc := range cases {
		clock := DeathClock(lifespans, tc.elapsed)
		require.NotNil(t, clock, "elapsed %.0f", tc.elapsed)
		assert.Equal(t, tc.risk, clock.Risk, "elapsed %.0f", tc.elapsed)
	}

	assert.Nil(t, DeathClock([]float64{10}, 5), "one lifespan is not a pattern")
	assert.Nil(t, DeathClock(nil, 5))
}

func TestFactoryRhythmIncrementalNaming(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	// Perfectly regular 6-hour cadence, numbered names, identical mcaps.
	times := []time.Time{base, base.Add(6 * time.Hour), base.Add(12 * time.Hour), base.Add(18 * time.Hour)}
	names := []string{"Doge 1", "Doge 2", "Doge 3", "Doge 4"}
	mcaps := []float64{8000, 8000, 8000, 8000}

	rhythm := FactoryRhythm(times, names, mcaps)
	require.NotNil(t, rhythm)
	assert.Equal(t, "incremental", rhythm.NamingPattern)
	assert.InDelta(t, 6.0, rhythm.MedianIntervalHours, 1e-9)
	assert.InDelta(t, 1.0, rhythm.Regularity, 1e-9)
	assert.InDelta(t, 0.55+0.30+0.15, rhythm.FactoryScore, 1e-9)
	assert.True(t, rhythm.IsFactory)
}

func TestFactoryRhythmRandomNames(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(3 * time.Hour), base.Add(50 * time.Hour)}
	names := []string{"Moon Cat", "Zebra Inu", "Quantum Frog"}

	rhythm := FactoryRhythm(times, names, nil)
	require.NotNil(t, rhythm)
	assert.Equal(t, "random", rhythm.NamingPattern)
	assert.False(t, rhythm.IsFactory)

	assert.Nil(t, FactoryRhythm(times[:2], names[:2], nil), "needs three launches")
}

func TestNarrativeTimingStatus(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var creations []time.Time
	for i := 0; i < 20; i++ {
		creations = append(creations, base.Add(time.Duration(i)*24*time.Hour))
	}

	early := NarrativeTiming("dogs", creations, base.Add(12*time.Hour))
	require.NotNil(t, early)
	assert.Equal(t, "early", early.Status)

	late := NarrativeTiming("dogs", creations, base.Add(25*24*time.Hour))
	require.NotNil(t, late)
	assert.Equal(t, "late", late.Status)
	assert.Equal(t, 20, late.SampleCount)

	assert.Nil(t, NarrativeTiming("dogs", creations[:9], base), "needs ten launches")
}

func TestZombieResurrectionConfirmed(t *testing.T) {
	now := time.Now()
	query := model.Token{
		Mint: "T2", Deployer: "D",
		CreatedAt: now.Add(-4 * time.Hour), LiquidityUSD: 30_000,
	}
	family := []model.ScoredToken{{
		Token: model.Token{
			Mint: "T1", Deployer: "D",
			CreatedAt: now.Add(-72 * time.Hour), LiquidityUSD: 5,
		},
		ImageScore: 0.95,
	}}

	alert := DetectZombie(query, family, now)
	require.NotNil(t, alert)
	assert.Equal(t, "confirmed", alert.Confidence)
	assert.Equal(t, "T1", alert.DeadMint)
	assert.Equal(t, "T2", alert.ResurrectionMint)
	assert.True(t, alert.SameDeployer)
}

func TestZombieDifferentDeployerTiers(t *testing.T) {
	now := time.Now()
	query := model.Token{Mint: "Live", Deployer: "D1", CreatedAt: now.Add(-time.Hour), LiquidityUSD: 10_000}
	dead := func(score float64) []model.ScoredToken {
		return []model.ScoredToken{{
			Token:      model.Token{Mint: "Dead", Deployer: "D2", CreatedAt: now.Add(-48 * time.Hour), LiquidityUSD: 1},
			ImageScore: score,
		}}
	}

	require.NotNil(t, DetectZombie(query, dead(0.93), now))
	assert.Equal(t, "probable", DetectZombie(query, dead(0.93), now).Confidence)
	assert.Equal(t, "possible", DetectZombie(query, dead(0.85), now).Confidence)
	assert.Nil(t, DetectZombie(query, dead(0.75), now), "0.75 across deployers is coincidence")
}

func TestDeadBoundaryAt24h(t *testing.T) {
	now := time.Now()
	at24h := model.Token{CreatedAt: now.Add(-24 * time.Hour), LiquidityUSD: 50}
	at23h54 := model.Token{CreatedAt: now.Add(-(23*time.Hour + 54*time.Minute)), LiquidityUSD: 50}
	rich := model.Token{CreatedAt: now.Add(-48 * time.Hour), LiquidityUSD: 100}

	assert.True(t, isDead(at24h, now), "exactly 24h with drained pool is dead")
	assert.False(t, isDead(at23h54, now), "not old enough yet")
	assert.False(t, isDead(rich, now), "liquidity at the threshold is alive")
}

func TestFingerprintPipeline(t *testing.T) {
	assert.Equal(t, "arweave", UploadService("https://arweave.net/abc"))
	assert.Equal(t, "ipfs", UploadService("ipfs://QmHash"))
	assert.Equal(t, "pumpfun", UploadService("https://pump.fun/meta/token.json"))
	assert.Equal(t, "pinata", UploadService("https://pump.mypinata.cloud/x"), "pinata match wins by order")
	assert.Equal(t, "other", UploadService("https://example.com/meta.json"))

	norm := NormalizeDescription("  The NEXT 100x Dog-Coin!!! ")
	assert.Equal(t, "thenext100xdogcoin", norm)

	long := NormalizeDescription(strings.Repeat("a", 100))
	assert.Len(t, long, 60)

	fp := Fingerprint("arweave", norm)
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint("arweave", norm), "deterministic")
	assert.NotEqual(t, fp, Fingerprint("ipfs", norm), "service is part of the identity")
	assert.Empty(t, Fingerprint("arweave", ""))
}

func TestScoreHoldersCutoffs(t *testing.T) {
	// 80% in top-10, 40% whale, deployer holds 25%: everything fires.
	amounts := []float64{40, 10, 10, 5, 5, 3, 3, 2, 1, 1}
	risk := ScoreHolders(amounts, 100, 25)
	require.NotNil(t, risk)
	assert.Equal(t, 100, risk.Score, "35+30+35+10 capped at 100")
	assert.Contains(t, risk.Flags, "TOP10_CONCENTRATION_EXTREME")
	assert.Contains(t, risk.Flags, "SINGLE_WHALE_EXTREME")
	assert.Contains(t, risk.Flags, "DEPLOYER_HOLDS_SUPPLY")
	assert.Contains(t, risk.Flags, "THIN_HOLDER_BASE")

	// Dispersed supply barely registers.
	var spread []float64
	for i := 0; i < 30; i++ {
		spread = append(spread, 1)
	}
	risk = ScoreHolders(spread, 1000, 0)
	assert.Equal(t, 0, risk.Score)
	assert.Empty(t, risk.Flags)
}

func TestInsiderSellVerdicts(t *testing.T) {
	dump := &market.Pair{}
	dump.Txns.H1.Sells = 30
	dump.Txns.H1.Buys = 5
	dump.PriceChange.H1 = -70

	report := InsiderSell(dump, true, 2)
	require.NotNil(t, report)
	assert.Equal(t, "insider_dump", report.Verdict)
	assert.Contains(t, report.Flags, "INSIDER_DUMP_CONFIRMED")
	assert.Contains(t, report.Flags, "HIGH_SELL_PRESSURE")
	assert.Contains(t, report.Flags, "PRICE_CRASH")
	assert.Contains(t, report.Flags, "LINKED_WALLETS_EXITED")
	assert.Equal(t, 1.0, report.RiskScore, "capped")

	quiet := &market.Pair{}
	quiet.Txns.H1.Sells = 2
	quiet.Txns.H1.Buys = 6
	quiet.PriceChange.H1 = 4
	report = InsiderSell(quiet, false, 0)
	assert.Equal(t, "clean", report.Verdict)
	assert.Empty(t, report.Flags)

	declining := &market.Pair{}
	declining.Txns.H1.Sells = 9
	declining.Txns.H1.Buys = 5
	declining.PriceChange.H1 = -30
	report = InsiderSell(declining, true, 0)
	assert.Equal(t, "suspicious", report.Verdict, "risk over threshold without a severe flag")
}

func TestLiquidityArchitecture(t *testing.T) {
	solPair := func(liq, vol float64) market.Pair {
		p := market.Pair{ChainID: "solana"}
		p.Liquidity.USD = liq
		p.Volume.H24 = vol
		return p
	}

	arch := LiquidityArchitecture([]market.Pair{solPair(9000, 500), solPair(1000, 100)})
	require.NotNil(t, arch)
	assert.InDelta(t, 0.81+0.01, arch.HHI, 1e-9)
	assert.Equal(t, 2, arch.PairCount)
	assert.Empty(t, arch.Flags)
	assert.InDelta(t, 1.0, arch.AuthenticityScore, 1e-9)

	parked := LiquidityArchitecture([]market.Pair{solPair(50_000, 100)})
	require.NotNil(t, parked)
	assert.Contains(t, parked.Flags, "PARKED_LIQUIDITY")

	dead := LiquidityArchitecture([]market.Pair{solPair(500, 0)})
	require.NotNil(t, dead)
	assert.Contains(t, dead.Flags, "ZERO_VOLUME")
	assert.Contains(t, dead.Flags, "THIN_LIQUIDITY")
	assert.InDelta(t, 0.55, dead.AuthenticityScore, 1e-9)

	assert.Nil(t, LiquidityArchitecture(nil))
	eth := market.Pair{ChainID: "ethereum"}
	eth.Liquidity.USD = 9999
	assert.Nil(t, LiquidityArchitecture([]market.Pair{eth}))
}
