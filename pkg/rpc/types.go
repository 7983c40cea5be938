package rpc

import "encoding/json"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Err       any    `json:"err"`
}

// ---- getTransaction (jsonParsed) ----

type Transaction struct {
	Slot        int64   `json:"slot"`
	BlockTime   *int64  `json:"blockTime"`
	Meta        *TxMeta `json:"meta"`
	Transaction *struct {
		Signatures []string `json:"signatures"`
		Message    Message  `json:"message"`
	} `json:"transaction"`
}

type TxMeta struct {
	Err               any                `json:"err"`
	Fee               int64              `json:"fee"`
	PreBalances       []int64            `json:"preBalances"`
	PostBalances      []int64            `json:"postBalances"`
	PreTokenBalances  []TokenBalance     `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance     `json:"postTokenBalances"`
	InnerInstructions []InnerInstruction `json:"innerInstructions"`
}

type Message struct {
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

// AccountKey tolerates both encodings of accountKeys: plain base58 strings
// (legacy) and {pubkey, signer, writable} objects (jsonParsed).
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

func (k *AccountKey) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &k.Pubkey)
	}
	type alias AccountKey
	return json.Unmarshal(data, (*alias)(k))
}

type Instruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

type InnerInstruction struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		UIAmount *float64 `json:"uiAmount"`
		Decimals int      `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// SolTransfer is a decoded system-program lamport transfer.
type SolTransfer struct {
	Source      string
	Destination string
	Lamports    int64
}

type parsedTransfer struct {
	Type string `json:"type"`
	Info struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Lamports    int64  `json:"lamports"`
	} `json:"info"`
}

// Failed reports whether the transaction errored on-chain.
func (t *Transaction) Failed() bool {
	return t == nil || t.Meta == nil || t.Meta.Err != nil
}

// Signers returns signer pubkeys in account-key order.
func (t *Transaction) Signers() []string {
	if t == nil || t.Transaction == nil {
		return nil
	}
	var signers []string
	for _, k := range t.Transaction.Message.AccountKeys {
		if k.Signer && k.Pubkey != "" {
			signers = append(signers, k.Pubkey)
		}
	}
	return signers
}

// FeePayer is the first account key, by convention the wallet that signed
// and paid for the transaction.
func (t *Transaction) FeePayer() string {
	if t == nil || t.Transaction == nil || len(t.Transaction.Message.AccountKeys) == 0 {
		return ""
	}
	return t.Transaction.Message.AccountKeys[0].Pubkey
}

// SolTransfers decodes every system-program transfer in the transaction,
// outer and inner instructions alike.
func (t *Transaction) SolTransfers() []SolTransfer {
	if t == nil || t.Transaction == nil {
		return nil
	}

	var out []SolTransfer
	collect := func(instrs []Instruction) {
		for _, in := range instrs {
			if in.Program != "system" || in.Parsed == nil {
				continue
			}
			var p parsedTransfer
			if err := json.Unmarshal(in.Parsed, &p); err != nil {
				continue
			}
			if p.Type != "transfer" && p.Type != "transferWithSeed" {
				continue
			}
			if p.Info.Source == "" || p.Info.Destination == "" || p.Info.Lamports <= 0 {
				continue
			}
			out = append(out, SolTransfer{Source: p.Info.Source, Destination: p.Info.Destination, Lamports: p.Info.Lamports})
		}
	}

	collect(t.Transaction.Message.Instructions)
	if t.Meta != nil {
		for _, inner := range t.Meta.InnerInstructions {
			collect(inner.Instructions)
		}
	}
	return out
}

// InvokedPrograms returns the set of program ids invoked by the transaction.
func (t *Transaction) InvokedPrograms() map[string]bool {
	if t == nil || t.Transaction == nil {
		return nil
	}
	programs := map[string]bool{}
	for _, in := range t.Transaction.Message.Instructions {
		if in.ProgramID != "" {
			programs[in.ProgramID] = true
		}
	}
	if t.Meta != nil {
		for _, inner := range t.Meta.InnerInstructions {
			for _, in := range inner.Instructions {
				if in.ProgramID != "" {
					programs[in.ProgramID] = true
				}
			}
		}
	}
	return programs
}

// ---- DAS ----

type Asset struct {
	ID      string `json:"id"`
	Content struct {
		Metadata struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"metadata"`
		Links struct {
			Image string `json:"image"`
		} `json:"links"`
		JSONURI string `json:"json_uri"`
	} `json:"content"`
	Creators []struct {
		Address  string `json:"address"`
		Verified bool   `json:"verified"`
	} `json:"creators"`
}

// VerifiedCreator returns the first verified creator address, falling back
// to the first creator when none are verified.
func (a *Asset) VerifiedCreator() string {
	if a == nil {
		return ""
	}
	for _, c := range a.Creators {
		if c.Verified {
			return c.Address
		}
	}
	if len(a.Creators) > 0 {
		return a.Creators[0].Address
	}
	return ""
}

// TokenHolder is one entry of getTokenLargestAccounts.
type TokenHolder struct {
	Address  string   `json:"address"`
	UIAmount *float64 `json:"uiAmount"`
	Decimals int      `json:"decimals"`
}
