package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rug-tracer/pkg/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCacheExpiry(t *testing.T) {
	s := testStore(t)
	c := NewCache("sqlite", s)

	c.Set("k", []byte("v"), 50*time.Millisecond)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "read past expiry must miss")

	n, err := s.PurgeExpiredCache()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewCache("memory", nil)

	c.Set("k", []byte("v"), 30*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.Set("k2", []byte("x"), time.Minute)
	c.Delete("k2")
	_, ok = c.Get("k2")
	assert.False(t, ok)
}

func TestInsertAndQueryEvents(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.InsertEvent(model.TokenEvent{
		EventType: model.EventTokenCreated,
		Mint:      "MintA",
		Deployer:  "DeployerA",
		Narrative: "dog",
		LiqUSD:    900,
		CreatedAt: "2026-08-20T10:00:00Z",
	}))
	require.NoError(t, s.InsertEvent(model.TokenEvent{
		EventType: model.EventTokenRugged,
		Mint:      "MintA",
		Deployer:  "DeployerA",
		RuggedAt:  "2026-08-21T10:00:00Z",
	}))

	events, err := s.QueryEvents("event_type=? AND mint=?", []any{model.EventTokenCreated, "MintA"}, "recorded_at DESC", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "DeployerA", events[0].Deployer)
	assert.Equal(t, 900.0, events[0].LiqUSD)
	assert.False(t, events[0].CreatedTime().IsZero())
	assert.Greater(t, events[0].RecordedAt, 0.0)

	assert.True(t, s.HasEvent(model.EventTokenRugged, "MintA"))
	assert.False(t, s.HasEvent(model.EventTokenRugged, "MintB"))
}

func TestRecordedAtNonDecreasing(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertEvent(model.TokenEvent{EventType: model.EventTokenCreated, Mint: "M"}))
	}
	events, err := s.QueryEvents("mint=?", []any{"M"}, "id ASC", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].RecordedAt, events[i-1].RecordedAt)
	}
}

func TestUpdateEventExtraMerges(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.InsertEvent(model.TokenEvent{EventType: model.EventTokenCreated, Mint: "M", ExtraJSON: `{"phash":"abcd"}`}))
	require.NoError(t, s.UpdateEventExtra(model.EventTokenCreated, "M", map[string]any{"lp_providers": []string{"W1", "W2"}}))

	events, err := s.QueryEvents("mint=?", []any{"M"}, "", 1)
	require.NoError(t, err)
	extra := events[0].Extra()
	require.NotNil(t, extra)
	assert.Equal(t, "abcd", extra["phash"])
	assert.Len(t, extra["lp_providers"], 2)

	// Missing row is a no-op, not an error.
	assert.NoError(t, s.UpdateEventExtra(model.EventTokenCreated, "missing", map[string]any{"x": 1}))
}

func TestSolFlowBatchIdempotent(t *testing.T) {
	s := testStore(t)

	edges := []model.SolFlowEdge{
		{Mint: "M", FromAddress: "A", ToAddress: "B", AmountLamports: 500_000_000, Signature: "sig1", Slot: 10, BlockTime: 1000, Hop: 0},
		{Mint: "M", FromAddress: "B", ToAddress: "C", AmountLamports: 300_000_000, Signature: "sig2", Slot: 11, BlockTime: 1001, Hop: 1},
		{Mint: "M", FromAddress: "B", ToAddress: "B", AmountLamports: 100_000_000, Signature: "sig3", Slot: 12, BlockTime: 1002, Hop: 1},
	}
	require.NoError(t, s.InsertSolFlows(edges))
	require.NoError(t, s.InsertSolFlows(edges))

	got, err := s.SolFlowsForMint("M")
	require.NoError(t, err)
	require.Len(t, got, 2, "self-edges skipped, duplicates ignored")
	assert.Equal(t, 0.5, got[0].AmountSOL)

	fromB, err := s.SolFlowsFrom("B")
	require.NoError(t, err)
	assert.Len(t, fromB, 1)
}

func TestCartelEdgeUpsertNormalisesPair(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.UpsertCartelEdge("WalletB", "WalletA", model.SignalSolTransfer, 0.4, `{"n":1}`))
	require.NoError(t, s.UpsertCartelEdge("WalletA", "WalletB", model.SignalSolTransfer, 0.9, `{"n":2}`))
	// Lower strength must not replace the stored row.
	require.NoError(t, s.UpsertCartelEdge("WalletA", "WalletB", model.SignalSolTransfer, 0.2, `{"n":3}`))
	// Self-edge is a no-op.
	require.NoError(t, s.UpsertCartelEdge("WalletA", "WalletA", model.SignalSolTransfer, 1.0, ""))

	edges, err := s.CartelEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "WalletA", edges[0].WalletA)
	assert.Equal(t, "WalletB", edges[0].WalletB)
	assert.Equal(t, 0.9, edges[0].SignalStrength)
	assert.JSONEq(t, `{"n":2}`, edges[0].EvidenceJSON)

	forB, err := s.CartelEdgesFor("WalletB")
	require.NoError(t, err)
	assert.Len(t, forB, 1)
}

func TestOperatorMappings(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.UpsertOperatorMapping("fp1", "W1"))
	require.NoError(t, s.UpsertOperatorMapping("fp1", "W2"))
	require.NoError(t, s.UpsertOperatorMapping("fp1", "W1"))

	wallets, err := s.WalletsForFingerprint("fp1")
	require.NoError(t, err)
	assert.Len(t, wallets, 2)

	all, err := s.OperatorMappings()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubscriptionCRUD(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Subscribe(7, model.SubTypeDeployer, "DeployerA"))
	require.NoError(t, s.Subscribe(7, model.SubTypeDeployer, "DeployerA"))
	require.NoError(t, s.Subscribe(7, model.SubTypeNarrative, "dog"))
	require.NoError(t, s.Subscribe(8, model.SubTypeNarrative, "dog"))

	subs, err := s.SubscriptionsFor(7)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	all, err := s.AllSubscriptions()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Unsubscribe(7, model.SubTypeDeployer, "DeployerA"))
	subs, err = s.SubscriptionsFor(7)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestBundleReportFreshness(t *testing.T) {
	s := testStore(t)

	report := &model.BundleExtractionReport{Mint: "M", Verdict: model.VerdictSuspectedTeamExtraction, TotalSOLSpent: 12.5}
	require.NoError(t, s.SaveBundleReport("M", report))

	got := s.FreshBundleReport("M", 24*time.Hour)
	require.NotNil(t, got)
	assert.Equal(t, model.VerdictSuspectedTeamExtraction, got.Verdict)
	assert.Equal(t, 12.5, got.TotalSOLSpent)

	assert.Nil(t, s.FreshBundleReport("M", 0), "ttl of zero means always stale")
	assert.Nil(t, s.FreshBundleReport("unknown", time.Hour))
}

func TestMaintainAndStats(t *testing.T) {
	s := testStore(t)
	c := NewCache("sqlite", s)

	c.Set("stale", []byte("v"), -time.Second)
	require.NoError(t, s.InsertEvent(model.TokenEvent{EventType: model.EventTokenCreated, Mint: "M"}))
	require.NoError(t, s.InsertSolFlows([]model.SolFlowEdge{
		{Mint: "M", FromAddress: "A", ToAddress: "B", AmountLamports: 1, Signature: "old", BlockTime: time.Now().Add(-100 * 24 * time.Hour).Unix()},
		{Mint: "M", FromAddress: "A", ToAddress: "C", AmountLamports: 1, Signature: "new", BlockTime: time.Now().Unix()},
	}))

	require.NoError(t, s.Maintain())
	require.NoError(t, s.Vacuum())

	stats := s.Stats()
	assert.Equal(t, int64(0), stats["cache"])
	assert.Equal(t, int64(1), stats["sol_flows"], "flows past retention purged")
	assert.Equal(t, int64(1), stats["intelligence_events"])
}
