package flow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/rpc"
	"github.com/rug-tracer/pkg/store"
)

const (
	mintM    = "MintM111111111111111111111111111111111111111"
	deployer = "Deployer1111111111111111111111111111111111111"
	binance  = "5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9"
	wormhole = "wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb"
)

type fakeLedger struct {
	sigs map[string][]rpc.SignatureInfo
	txs  map[string]*rpc.Transaction
}

func (f *fakeLedger) GetSignatures(_ context.Context, address, _ string, _ int) ([]rpc.SignatureInfo, error) {
	return f.sigs[address], nil
}

func (f *fakeLedger) GetTransaction(_ context.Context, signature string) (*rpc.Transaction, error) {
	tx, ok := f.txs[signature]
	if !ok {
		return nil, rpc.ErrNoResult
	}
	return tx, nil
}

type fakeMarket struct {
	price      float64
	exits      []model.CrossChainExit
	exitCalls  []string
	priceCalls int
}

func (f *fakeMarket) SOLPrice(context.Context) float64 {
	f.priceCalls++
	return f.price
}

func (f *fakeMarket) BridgeExits(_ context.Context, address string) []model.CrossChainExit {
	f.exitCalls = append(f.exitCalls, address)
	return f.exits
}

func sig(signature string, slot, blockTime int64) rpc.SignatureInfo {
	bt := blockTime
	return rpc.SignatureInfo{Signature: signature, Slot: slot, BlockTime: &bt}
}

// deltaTx builds a transaction from account keys and their lamport deltas.
func deltaTx(keys []string, deltas []int64) *rpc.Transaction {
	pre := make([]int64, len(keys))
	post := make([]int64, len(keys))
	accountKeys := make([]rpc.AccountKey, len(keys))
	for i, k := range keys {
		pre[i] = 100 * model.LamportsPerSOL
		post[i] = pre[i] + deltas[i]
		accountKeys[i] = rpc.AccountKey{Pubkey: k}
	}
	tx := &rpc.Transaction{Meta: &rpc.TxMeta{PreBalances: pre, PostBalances: post}}
	tx.Transaction = &struct {
		Signatures []string    `json:"signatures"`
		Message    rpc.Message `json:"message"`
	}{Message: rpc.Message{AccountKeys: accountKeys}}
	return tx
}

func testTracer(t *testing.T, ledger *fakeLedger, market MarketData) (*Tracer, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "flow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewTracer(ledger, market, st), st
}

func TestTraceReachesExchange(t *testing.T) {
	walletX := "IntermediaryX"
	ledger := &fakeLedger{
		sigs: map[string][]rpc.SignatureInfo{
			deployer: {sig("d2", 2001, 1700000100), sig("d1", 2000, 1700000000)},
			walletX:  {sig("x1", 2010, 1700000500), sig("d2", 2001, 1700000100), sig("d1", 2000, 1700000000)},
		},
		txs: map[string]*rpc.Transaction{
			"d1": deltaTx([]string{deployer, walletX}, []int64{-5 * model.LamportsPerSOL, 5 * model.LamportsPerSOL}),
			"d2": deltaTx([]string{deployer, walletX}, []int64{-7 * model.LamportsPerSOL, 7 * model.LamportsPerSOL}),
			"x1": deltaTx([]string{walletX, binance}, []int64{-23 * model.LamportsPerSOL / 2, 23 * model.LamportsPerSOL / 2}),
		},
	}
	market := &fakeMarket{price: 150}

	tracer, st := testTracer(t, ledger, market)
	report, err := tracer.Trace(context.Background(), mintM, deployer)
	require.NoError(t, err)

	assert.Equal(t, 2, report.HopCount)
	assert.InDelta(t, 12.0, report.TotalExtractedSOL, 1e-9)
	assert.InDelta(t, 12.0*150, report.TotalExtractedUSD, 1e-6)
	assert.True(t, report.KnownCEXDetected)
	assert.Contains(t, report.TerminalWallets, binance)
	assert.NotContains(t, report.TerminalWallets, walletX, "X sends onward, so it is not terminal")
	assert.Equal(t, int64(1700000000), report.RugTimestamp, "earliest hop-0 block time")

	var exchangeEdge *model.SolFlowEdge
	for i := range report.Flows {
		if report.Flows[i].ToAddress == binance {
			exchangeEdge = &report.Flows[i]
		}
	}
	require.NotNil(t, exchangeEdge)
	assert.Equal(t, "Binance", exchangeEdge.ToLabel)
	assert.Equal(t, 1, exchangeEdge.Hop)

	// Edges were persisted and the rebuilt report matches.
	stored, err := st.SolFlowsForMint(mintM)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	cached, err := tracer.CachedReport(context.Background(), mintM)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, report.HopCount, cached.HopCount)
	assert.InDelta(t, report.TotalExtractedSOL, cached.TotalExtractedSOL, 1e-9)
	assert.True(t, st.HasEvent(model.EventSolFlowEmitted, mintM))
}

func TestParseFlowsFanOut(t *testing.T) {
	a, b, c := "RecipientA", "RecipientB", "RecipientC"
	tx := deltaTx(
		[]string{deployer, a, b, c},
		[]int64{-3 * model.LamportsPerSOL, model.LamportsPerSOL, 2 * model.LamportsPerSOL, 50_000_000},
	)

	edges := parseFlows(tx, mintM, deployer, "s1", 100, 1700000000, 0)
	require.Len(t, edges, 2, "0.05 SOL is below the transfer threshold")
	assert.Equal(t, a, edges[0].ToAddress)
	assert.Equal(t, b, edges[1].ToAddress)
	assert.InDelta(t, 1.0, edges[0].AmountSOL, 1e-9)
}

func TestParseFlowsRequiresSourceOutflow(t *testing.T) {
	tx := deltaTx([]string{deployer, "R"}, []int64{model.LamportsPerSOL, model.LamportsPerSOL})
	assert.Empty(t, parseFlows(tx, mintM, deployer, "s1", 100, 0, 0),
		"transactions where the source gains are not transfers out")

	tx = deltaTx([]string{"Other", "R"}, []int64{-model.LamportsPerSOL, model.LamportsPerSOL})
	assert.Empty(t, parseFlows(tx, mintM, deployer, "s1", 100, 0, 0),
		"source absent from the account keys")
}

func TestParseFlowsSkipsProgramsKeepsBridges(t *testing.T) {
	raydium := "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	tx := deltaTx(
		[]string{deployer, raydium, wormhole},
		[]int64{-4 * model.LamportsPerSOL, 2 * model.LamportsPerSOL, 2 * model.LamportsPerSOL},
	)

	edges := parseFlows(tx, mintM, deployer, "s1", 100, 0, 0)
	require.Len(t, edges, 1)
	assert.Equal(t, wormhole, edges[0].ToAddress, "bridge programs stay visible for exit detection")
}

func TestBridgeExitResolution(t *testing.T) {
	ledger := &fakeLedger{
		sigs: map[string][]rpc.SignatureInfo{
			deployer: {sig("br1", 3000, 1700001000)},
		},
		txs: map[string]*rpc.Transaction{
			"br1": deltaTx([]string{deployer, wormhole}, []int64{-9 * model.LamportsPerSOL, 9 * model.LamportsPerSOL}),
		},
	}
	market := &fakeMarket{price: 150, exits: []model.CrossChainExit{
		{BridgeAddress: wormhole, ToChain: "ethereum", ToAddress: "0xabc"},
	}}

	tracer, _ := testTracer(t, ledger, market)
	report, err := tracer.Trace(context.Background(), mintM, deployer)
	require.NoError(t, err)

	require.Len(t, report.CrossChainExits, 1)
	assert.Equal(t, "ethereum", report.CrossChainExits[0].ToChain)
	assert.Equal(t, []string{deployer}, market.exitCalls, "exit lookup keyed by the sending wallet")
}

func TestTraceIdempotentPersistence(t *testing.T) {
	ledger := &fakeLedger{
		sigs: map[string][]rpc.SignatureInfo{
			deployer: {sig("d1", 2000, 1700000000)},
		},
		txs: map[string]*rpc.Transaction{
			"d1": deltaTx([]string{deployer, "SinkW"}, []int64{-2 * model.LamportsPerSOL, 2 * model.LamportsPerSOL}),
		},
	}

	tracer, st := testTracer(t, ledger, &fakeMarket{price: 150})
	_, err := tracer.Trace(context.Background(), mintM, deployer)
	require.NoError(t, err)
	_, err = tracer.Trace(context.Background(), mintM, deployer)
	require.NoError(t, err)

	stored, err := st.SolFlowsForMint(mintM)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "re-tracing does not duplicate rows")
}

func TestTraceNoOutflows(t *testing.T) {
	ledger := &fakeLedger{sigs: map[string][]rpc.SignatureInfo{}, txs: map[string]*rpc.Transaction{}}
	tracer, _ := testTracer(t, ledger, &fakeMarket{price: 150})

	report, err := tracer.Trace(context.Background(), mintM, deployer)
	require.NoError(t, err)
	assert.Empty(t, report.Flows)
	assert.Zero(t, report.TotalExtractedSOL)
	assert.Zero(t, report.HopCount)
	assert.False(t, report.KnownCEXDetected)
}
