// Package labels is the static on-chain identity dictionary: known CEX
// hot-wallets, bridges, system and DEX programs, launchpads and MEV tip
// accounts. The same frozen sets serve as skip lists for bundle forensics
// and SOL-flow tracing.
package labels

import "strings"

const (
	EntityCEX       = "cex"
	EntityDEX       = "dex"
	EntityBridge    = "bridge"
	EntitySystem    = "system"
	EntityMEV       = "mev"
	EntityLaunchpad = "launchpad"
	EntityMixer     = "mixer"
	EntityWallet    = "wallet"
	EntityContract  = "contract"
)

type identity struct {
	Label  string
	Entity string
}

var known = map[string]identity{
	// System / runtime programs
	"11111111111111111111111111111111":             {"System Program", EntitySystem},
	"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA":  {"Token Program", EntitySystem},
	"TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb":  {"Token-2022 Program", EntitySystem},
	"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL": {"Associated Token Program", EntitySystem},
	"ComputeBudget111111111111111111111111111111":  {"Compute Budget", EntitySystem},
	"MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr":  {"Memo Program", EntitySystem},
	"SysvarRent111111111111111111111111111111111":  {"Rent Sysvar", EntitySystem},
	"metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s":  {"Metaplex Metadata", EntitySystem},

	// DEX / AMM programs
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": {"Raydium AMM v4", EntityDEX},
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK": {"Raydium CLMM", EntityDEX},
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  {"Orca Whirlpool", EntityDEX},
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  {"Jupiter Aggregator v6", EntityDEX},
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo":  {"Meteora DLMM", EntityDEX},
	"pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA":  {"PumpSwap AMM", EntityDEX},

	// Launchpads
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P": {"Pump.fun", EntityLaunchpad},

	// Bridges
	"worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth": {"Wormhole Core", EntityBridge},
	"wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb": {"Wormhole Token Bridge", EntityBridge},
	"src5qyZHqTqecJV4aY6Cb6zDZLMDzrDKKezs22MPHr4": {"deBridge", EntityBridge},

	// CEX hot wallets (the canonical set; bundle + flow share it)
	"5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9": {"Binance", EntityCEX},
	"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM": {"Binance 2", EntityCEX},
	"2ojv9BAiHUrvsm9gxDe7fJSzbNZSJcxZvf8dqmWGHG8S": {"Coinbase", EntityCEX},
	"H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS": {"Coinbase 2", EntityCEX},
	"FWznbcNXWQuHTawe9RxvQ2LdCENssh12dsznf4RiouN5": {"Kraken", EntityCEX},
	"AC5RDfQFmDS1deWZos921JfqscXdByf8BKHs5ACWjtW2": {"Bybit", EntityCEX},
	"5VCwKtCXgCJ6kit5FybXjvriW3xELsFDhYrPSqtJNmcD": {"OKX", EntityCEX},
	"u6PJ8DtQuPFnfmwHbGFULQ4u4EgjDiyYKjVEsynXq2w":  {"Gate.io", EntityCEX},
	"ASTyfSima4LLAdDgoFGkgqoKowG1LZFDr9fAQrg7iaJZ": {"MEXC", EntityCEX},
	"BmFdpraQhkiDQE6SnfG5omcA1VwzqfXrwtNYBwWTymy6": {"KuCoin", EntityCEX},

	// Swap services / mixers
	"FFixpaKkNRRKmRD1tFGqFrMBF26gKiNaaTPfbSdrFETS": {"FixedFloat", EntityMixer},
	"FFSoLNFqJZuxyaqGG1GXMEfLEVf5pGAfRqVAWfTormYr": {"FixedFloat 2", EntityMixer},
}

// MEV tip accounts (Jito). Dumping SOL here is a fee, not a transfer.
var mevTipAccounts = map[string]bool{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5": true,
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe": true,
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY": true,
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49": true,
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh": true,
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt": true,
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL": true,
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT": true,
}

// cexDepositPrefixes is a small heuristic table: exchanges derive deposit
// wallets with recognizable vanity prefixes.
var cexDepositPrefixes = map[string]string{
	"binance": "Binance deposit",
	"Bybit":   "Bybit deposit",
	"okx":     "OKX deposit",
}

// Classify returns the label and entity type for an address, or empty
// strings when the address is not in the dictionary.
func Classify(address string) (label, entity string) {
	if id, ok := known[address]; ok {
		return id.Label, id.Entity
	}
	if mevTipAccounts[address] {
		return "Jito Tip", EntityMEV
	}
	lower := strings.ToLower(address)
	for prefix, lbl := range cexDepositPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return lbl, EntityCEX
		}
	}
	return "", ""
}

// IsProgram reports whether the address is any known program, launchpad or
// MEV tip account. These never count as buyer wallets or flow recipients.
func IsProgram(address string) bool {
	if mevTipAccounts[address] {
		return true
	}
	id, ok := known[address]
	if !ok {
		return false
	}
	switch id.Entity {
	case EntitySystem, EntityDEX, EntityLaunchpad, EntityBridge:
		return true
	}
	return false
}

// IsCEX reports whether the address is a known exchange hot-wallet.
func IsCEX(address string) bool {
	_, entity := Classify(address)
	return entity == EntityCEX
}

// IsBridgeProgram reports whether the address is a known bridge program.
func IsBridgeProgram(address string) bool {
	id, ok := known[address]
	return ok && id.Entity == EntityBridge
}

// IsDEXProgram reports whether the address is a known DEX/AMM program.
func IsDEXProgram(address string) bool {
	id, ok := known[address]
	return ok && id.Entity == EntityDEX
}

// LabelOrShort renders a known label, or the abbreviated address.
func LabelOrShort(address string) string {
	if lbl, _ := Classify(address); lbl != "" {
		return lbl
	}
	return Short(address)
}

// Short abbreviates an address for logs and report lines.
func Short(address string) string {
	if len(address) > 12 {
		return address[:6] + "..." + address[len(address)-4:]
	}
	return address
}
