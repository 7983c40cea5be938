package model

import "time"

// ---- Bundle forensics ----

// Per-wallet verdicts, strongest first.
const (
	WalletConfirmedTeam   = "confirmed_team"
	WalletSuspectedTeam   = "suspected_team"
	WalletCoordinatedDump = "coordinated_dump"
	WalletEarlyBuyer      = "early_buyer"
)

// Overall bundle verdicts.
const (
	VerdictConfirmedTeamExtraction = "confirmed_team_extraction"
	VerdictSuspectedTeamExtraction = "suspected_team_extraction"
	VerdictCoordinatedDumpUnknown  = "coordinated_dump_unknown_team"
	VerdictEarlyBuyersNoLink       = "early_buyers_no_link_proven"
)

// Red-flag tags attached to bundle wallet analyses.
const (
	FlagDirectTransferToDeployer = "DIRECT_TRANSFER_TO_DEPLOYER"
	FlagPrefundedByDeployer      = "PREFUNDED_BY_DEPLOYER"
	FlagTransferredToLinked      = "TRANSFERRED_TO_DEPLOYER_LINKED"
	FlagIndirectLink             = "INDIRECT_LINK_VIA_INTERMEDIARY"
	FlagFundedByCommonSource     = "FUNDED_BY_COMMON_SOURCE"
	FlagDormantBeforeLaunch      = "DORMANT_BEFORE_LAUNCH"
	FlagCommonSink               = "COMMON_SINK_WALLET"
	FlagCoordinatedSell          = "COORDINATED_SELL_WINDOW"
	FlagFreshWallet              = "FRESH_WALLET"
)

type PreSellBehavior struct {
	WalletAgeDays           float64 `json:"wallet_age_days"`
	IsDormant               bool    `json:"is_dormant"`
	PreLaunchTxCount        int     `json:"pre_launch_tx_count"`
	PreLaunchUniqueTokens   int     `json:"pre_launch_unique_tokens"`
	PrefundSource           string  `json:"prefund_source"`
	PrefundAmountSOL        float64 `json:"prefund_amount_sol"`
	PrefundSourceIsDeployer bool    `json:"prefund_source_is_deployer"`
	PrefundIsKnownFunder    bool    `json:"prefund_source_is_known_funder"`
}

type FundDestination struct {
	Address            string  `json:"address"`
	AmountSOL          float64 `json:"amount_sol"`
	Hop                int     `json:"hop"`
	LinkToDeployer     bool    `json:"link_to_deployer"`
	SeenInOtherBundles bool    `json:"seen_in_other_bundles"`
	Label              string  `json:"label,omitempty"`
	EntityType         string  `json:"entity_type,omitempty"`
}

type PostSellBehavior struct {
	SellDetected             bool              `json:"sell_detected"`
	SellSlot                 int64             `json:"sell_slot"`
	SellSignature            string            `json:"sell_signature"`
	SOLReceived              float64           `json:"sol_received"`
	Destinations             []FundDestination `json:"destinations"`
	DirectTransferToDeployer bool              `json:"direct_transfer_to_deployer"`
	TransferToDeployerLinked bool              `json:"transfer_to_deployer_linked_wallet"`
	IndirectViaIntermediary  bool              `json:"indirect_via_intermediary"`
}

type BundleWalletAnalysis struct {
	Wallet   string           `json:"wallet"`
	SOLSpent float64          `json:"sol_spent"`
	BuySlot  int64            `json:"buy_slot"`
	PreSell  PreSellBehavior  `json:"pre_sell"`
	PostSell PostSellBehavior `json:"post_sell"`
	RedFlags []string         `json:"red_flags"`
	Verdict  string           `json:"verdict"`
}

type BundleExtractionReport struct {
	Mint                    string                 `json:"mint"`
	Deployer                string                 `json:"deployer"`
	LaunchSlot              int64                  `json:"launch_slot"`
	LaunchTime              int64                  `json:"launch_time"`
	Wallets                 []BundleWalletAnalysis `json:"wallets"`
	Verdict                 string                 `json:"verdict"`
	TotalSOLSpent           float64                `json:"total_sol_spent"`
	TotalSOLExtracted       float64                `json:"total_sol_extracted"`
	CommonPrefundSource     string                 `json:"common_prefund_source,omitempty"`
	CoordinatedSellDetected bool                   `json:"coordinated_sell_detected"`
	CommonSinkWallets       []string               `json:"common_sink_wallets,omitempty"`
	EvidenceChain           []string               `json:"evidence_chain"`
	GeneratedAt             time.Time              `json:"generated_at"`
}

// ---- Lineage ----

type ScoredToken struct {
	Token
	NameScore     float64 `json:"name_score"`
	SymbolScore   float64 `json:"symbol_score"`
	ImageScore    float64 `json:"image_score"`
	DeployerScore float64 `json:"deployer_score"`
	TemporalScore float64 `json:"temporal_score"`
	Composite     float64 `json:"composite"`
}

type LineageResult struct {
	QueryToken  Token         `json:"query_token"`
	Root        Token         `json:"root"`
	Derivatives []ScoredToken `json:"derivatives"`
	FamilySize  int           `json:"family_size"`
	Confidence  float64       `json:"confidence"`

	// Attached forensic signals, each nil when insufficient data.
	Zombie          *ZombieAlert            `json:"zombie,omitempty"`
	DeathClock      *DeathClock             `json:"death_clock,omitempty"`
	DeployerProfile *DeployerProfile        `json:"deployer_profile,omitempty"`
	Fingerprint     *OperatorFingerprint    `json:"operator_fingerprint,omitempty"`
	Liquidity       *LiquidityArchitecture  `json:"liquidity_architecture,omitempty"`
	OnChainRisk     *OnChainRisk            `json:"on_chain_risk,omitempty"`
	InsiderSell     *InsiderSellReport      `json:"insider_sell,omitempty"`
	FactoryRhythm   *FactoryRhythm          `json:"factory_rhythm,omitempty"`
	NarrativeTiming *NarrativeTiming        `json:"narrative_timing,omitempty"`
	Cartel          *CartelReport           `json:"cartel,omitempty"`
	OperatorImpact  *OperatorImpact         `json:"operator_impact,omitempty"`
	Bundle          *BundleExtractionReport `json:"bundle,omitempty"`
	SolFlow         *SolFlowReport          `json:"sol_flow,omitempty"`
}

// ---- Forensic derivations ----

type ZombieAlert struct {
	DeadMint         string  `json:"dead_mint"`
	ResurrectionMint string  `json:"resurrection_mint"`
	SameDeployer     bool    `json:"same_deployer"`
	ImageScore       float64 `json:"image_score"`
	Confidence       string  `json:"confidence"` // "confirmed","probable","possible"
}

type DeathClock struct {
	MedianLifespanHours float64 `json:"median_lifespan_hours"`
	StdevHours          float64 `json:"stdev_hours"`
	ElapsedHours        float64 `json:"elapsed_hours"`
	Ratio               float64 `json:"ratio"`
	Risk                string  `json:"risk"` // "low","medium","high","critical"
	SampleCount         int     `json:"sample_count"`
}

type FactoryRhythm struct {
	MedianIntervalHours float64 `json:"median_interval_hours"`
	Regularity          float64 `json:"regularity"`
	NamingPattern       string  `json:"naming_pattern"` // "incremental","themed","random"
	McapConsistency     float64 `json:"mcap_consistency"`
	FactoryScore        float64 `json:"factory_score"`
	IsFactory           bool    `json:"is_factory"`
	TokenCount          int     `json:"token_count"`
}

type NarrativeTiming struct {
	Narrative       string    `json:"narrative"`
	CyclePercentile float64   `json:"cycle_percentile"`
	PeakWindowStart time.Time `json:"peak_window_start"`
	Momentum        float64   `json:"momentum"`
	Status          string    `json:"status"` // "early","rising","peak","late"
	SampleCount     int       `json:"sample_count"`
}

type OperatorFingerprint struct {
	Fingerprint string   `json:"fingerprint"`
	Wallets     []string `json:"wallets"`
	Service     string   `json:"service"`
	Description string   `json:"description"`
}

type OnChainRisk struct {
	Top10Pct    float64  `json:"top10_pct"`
	Top1Pct     float64  `json:"top1_pct"`
	DeployerPct float64  `json:"deployer_pct"`
	Score       int      `json:"score"` // 0-100
	Flags       []string `json:"flags"`
	HolderCount int      `json:"holder_count"`
}

type InsiderSellReport struct {
	Flags           []string `json:"flags"`
	RiskScore       float64  `json:"risk_score"`
	Verdict         string   `json:"verdict"` // "insider_dump","suspicious","clean"
	SellsH1         int      `json:"sells_h1"`
	BuysH1          int      `json:"buys_h1"`
	PriceChangeH1   float64  `json:"price_change_h1"`
	PriceChangeH24  float64  `json:"price_change_h24"`
	DeployerExited  bool     `json:"deployer_exited"`
	LinkedExitCount int      `json:"linked_exit_count"`
}

type LiquidityArchitecture struct {
	HHI               float64  `json:"hhi"`
	LiqVolRatio       float64  `json:"liq_vol_ratio"`
	AuthenticityScore float64  `json:"authenticity_score"`
	Flags             []string `json:"flags"`
	PairCount         int      `json:"pair_count"`
}

type DeployerProfile struct {
	Wallet                string    `json:"wallet"`
	TokenCount            int       `json:"token_count"`
	RugCount              int       `json:"rug_count"`
	RugRate               float64   `json:"rug_rate"`
	EstimatedExtractedUSD float64   `json:"estimated_extracted_usd"`
	FirstSeen             time.Time `json:"first_seen"`
	LastSeen              time.Time `json:"last_seen"`
}

type OperatorImpact struct {
	Wallets               []string `json:"wallets"`
	TotalTokens           int      `json:"total_tokens"`
	TotalRugs             int      `json:"total_rugs"`
	EstimatedExtractedUSD float64  `json:"estimated_extracted_usd"`
}
