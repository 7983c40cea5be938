package model

import (
	"encoding/json"
	"time"
)

const LamportsPerSOL = 1_000_000_000

// ---- Token ----

type Token struct {
	Mint         string    `json:"mint"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	ImageURL     string    `json:"image_url"`
	Deployer     string    `json:"deployer"`
	CreatedAt    time.Time `json:"created_at"`
	MarketCapUSD float64   `json:"market_cap_usd"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	VolumeH24USD float64   `json:"volume_h24_usd"`
	DexURL       string    `json:"dex_url"`
	MetadataURI  string    `json:"metadata_uri"`
	Narrative    string    `json:"narrative"`
}

// ---- Event log ----

const (
	EventTokenCreated   = "token_created"
	EventTokenRugged    = "token_rugged"
	EventSolFlowEmitted = "sol_flow_emitted"
)

type TokenEvent struct {
	EventType  string  `json:"event_type"`
	Mint       string  `json:"mint"`
	Deployer   string  `json:"deployer"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	Narrative  string  `json:"narrative"`
	McapUSD    float64 `json:"mcap_usd"`
	LiqUSD     float64 `json:"liq_usd"`
	CreatedAt  string  `json:"created_at"` // RFC3339, UTC
	RuggedAt   string  `json:"rugged_at"`
	RecordedAt float64 `json:"recorded_at"` // unix seconds, set by the store
	ExtraJSON  string  `json:"extra_json"`
}

// CreatedTime parses CreatedAt; naive values are treated as UTC.
func (e *TokenEvent) CreatedTime() time.Time {
	return ParseEventTime(e.CreatedAt)
}

func (e *TokenEvent) RuggedTime() time.Time {
	return ParseEventTime(e.RuggedAt)
}

// Extra decodes the opaque extra_json blob. Some writers double-encode the
// payload (a JSON string containing JSON), so re-parse defensively.
func (e *TokenEvent) Extra() map[string]any {
	if e.ExtraJSON == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.ExtraJSON), &m); err == nil {
		return m
	}
	var inner string
	if err := json.Unmarshal([]byte(e.ExtraJSON), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &m); err == nil {
			return m
		}
	}
	return nil
}

// ParseEventTime reads the timestamp formats found in the events table.
func ParseEventTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ---- SOL flow graph ----

type SolFlowEdge struct {
	Mint           string  `json:"mint"`
	FromAddress    string  `json:"from_address"`
	ToAddress      string  `json:"to_address"`
	AmountLamports int64   `json:"amount_lamports"`
	Signature      string  `json:"signature"`
	Slot           int64   `json:"slot"`
	BlockTime      int64   `json:"block_time"`
	Hop            int     `json:"hop"`
	FromLabel      string  `json:"from_label,omitempty"`
	ToLabel        string  `json:"to_label,omitempty"`
	EntityType     string  `json:"entity_type,omitempty"`
	AmountSOL      float64 `json:"amount_sol"`
}

type CrossChainExit struct {
	BridgeAddress string `json:"bridge_address"`
	ToChain       string `json:"to_chain"`
	ToAddress     string `json:"to_address"`
}

type SolFlowReport struct {
	Mint              string           `json:"mint"`
	Deployer          string           `json:"deployer"`
	Flows             []SolFlowEdge    `json:"flows"`
	TerminalWallets   []string         `json:"terminal_wallets"`
	KnownCEXDetected  bool             `json:"known_cex_detected"`
	HopCount          int              `json:"hop_count"`
	TotalExtractedSOL float64          `json:"total_extracted_sol"`
	TotalExtractedUSD float64          `json:"total_extracted_usd"`
	RugTimestamp      int64            `json:"rug_timestamp"`
	CrossChainExits   []CrossChainExit `json:"cross_chain_exits,omitempty"`
}

// ---- Cartel graph ----

const (
	SignalDNAMatch     = "dna_match"
	SignalSolTransfer  = "sol_transfer"
	SignalTimingSync   = "timing_sync"
	SignalPhashCluster = "phash_cluster"
	SignalCrossHolding = "cross_holding"
	SignalFundingLink  = "funding_link"
	SignalSharedLP     = "shared_lp"
	SignalSniperRing   = "sniper_ring"
)

type CartelEdge struct {
	WalletA        string  `json:"wallet_a"`
	WalletB        string  `json:"wallet_b"`
	SignalType     string  `json:"signal_type"`
	SignalStrength float64 `json:"signal_strength"`
	EvidenceJSON   string  `json:"evidence_json"`
	RecordedAt     float64 `json:"recorded_at"`
}

type OperatorMapping struct {
	Fingerprint string `json:"fingerprint"`
	Wallet      string `json:"wallet"`
}

type CartelReport struct {
	CommunityID           string   `json:"community_id"`
	Wallets               []string `json:"wallets"`
	Confidence            string   `json:"confidence"` // "high","medium","low"
	SignalTypes           []string `json:"signal_types"`
	StrongestSignal       string   `json:"strongest_signal"`
	TotalTokens           int      `json:"total_tokens"`
	TotalRugs             int      `json:"total_rugs"`
	EstimatedExtractedUSD float64  `json:"estimated_extracted_usd"`
	EarliestActivity      string   `json:"earliest_activity"`
}

// ---- Subscriptions ----

const (
	SubTypeDeployer  = "deployer"
	SubTypeNarrative = "narrative"
)

type AlertSubscription struct {
	ID         int64   `json:"id"`
	ChatID     int64   `json:"chat_id"`
	SubType    string  `json:"sub_type"`
	Value      string  `json:"value"`
	RecordedAt float64 `json:"recorded_at"`
}

// ---- Search ----

type TokenSearchResult struct {
	Mint         string  `json:"mint"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	MarketCapUSD float64 `json:"market_cap_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	DexURL       string  `json:"dex_url"`
	ImageURL     string  `json:"image_url"`
}
