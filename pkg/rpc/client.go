// Package rpc is a typed wrapper over Solana JSON-RPC and the DAS asset API.
// Every call goes through the HTTP shell, so retries and the RPC circuit
// breaker apply uniformly.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rug-tracer/pkg/httpshell"
	"github.com/rug-tracer/pkg/labels"
)

const (
	signaturePageSize = 1000
	maxSignaturePages = 10
)

// ErrNoResult means the shell gave up (retries exhausted or breaker open) or
// the node answered with an RPC error.
var ErrNoResult = errors.New("rpc: no result")

type Client struct {
	shell    *httpshell.Shell
	endpoint string
	nextID   atomic.Int64
}

func NewClient(shell *httpshell.Shell, endpoint string) *Client {
	return &Client{shell: shell, endpoint: endpoint}
}

// call drives every method. circuitProtect=false bypasses the shared RPC
// breaker for optional enrichment calls.
func (c *Client) call(ctx context.Context, method string, params any, circuitProtect bool) (json.RawMessage, error) {
	body := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID.Add(1)}

	data := c.shell.PostJSON(ctx, httpshell.ServiceRPC, c.endpoint, body, !circuitProtect)
	if data == nil {
		return nil, ErrNoResult
	}

	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("rpc unmarshal: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %d %s", ErrNoResult, resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// GetSignatures fetches one page of getSignaturesForAddress, oldest last.
func (c *Client) GetSignatures(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error) {
	opts := map[string]any{"limit": limit}
	if before != "" {
		opts["before"] = before
	}
	result, err := c.call(ctx, "getSignaturesForAddress", []any{address, opts}, true)
	if err != nil {
		return nil, err
	}
	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

// GetOldestSignature pages backwards through the signature history and
// returns the oldest entry found within the page cap.
func (c *Client) GetOldestSignature(ctx context.Context, address string) (*SignatureInfo, error) {
	var oldest *SignatureInfo
	before := ""

	for page := 0; page < maxSignaturePages; page++ {
		sigs, err := c.GetSignatures(ctx, address, before, signaturePageSize)
		if err != nil {
			return oldest, err
		}
		if len(sigs) == 0 {
			break
		}
		tail := sigs[len(sigs)-1]
		oldest = &tail
		before = tail.Signature
		if len(sigs) < signaturePageSize {
			break
		}
	}
	if oldest == nil {
		return nil, fmt.Errorf("%w: no signatures for %s", ErrNoResult, labels.Short(address))
	}
	return oldest, nil
}

// GetTransaction fetches a jsonParsed transaction.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	result, err := c.call(ctx, "getTransaction", []any{signature, map[string]any{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
	}}, true)
	if err != nil {
		return nil, err
	}
	var tx Transaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, err
	}
	if tx.Transaction == nil {
		return nil, ErrNoResult
	}
	return &tx, nil
}

// GetDeployerAndTimestamp resolves the wallet that created a mint and the
// creation time: the first signer of the mint's oldest transaction that is
// not a known program or authority.
func (c *Client) GetDeployerAndTimestamp(ctx context.Context, mint string) (string, time.Time, error) {
	oldest, err := c.GetOldestSignature(ctx, mint)
	if err != nil || oldest == nil {
		return "", time.Time{}, err
	}

	tx, err := c.GetTransaction(ctx, oldest.Signature)
	if err != nil {
		return "", time.Time{}, err
	}

	createdAt := time.Time{}
	if tx.BlockTime != nil {
		createdAt = time.Unix(*tx.BlockTime, 0).UTC()
	} else if oldest.BlockTime != nil {
		createdAt = time.Unix(*oldest.BlockTime, 0).UTC()
	}

	for _, signer := range tx.Signers() {
		if !labels.IsProgram(signer) {
			return signer, createdAt, nil
		}
	}
	return "", createdAt, fmt.Errorf("%w: no deployer signer in %s", ErrNoResult, oldest.Signature)
}

// GetAsset fetches DAS metadata for a mint. DAS is optional on public nodes;
// a nil asset with nil error means the method is unavailable.
func (c *Client) GetAsset(ctx context.Context, mint string) (*Asset, error) {
	result, err := c.call(ctx, "getAsset", map[string]any{"id": mint}, true)
	if err != nil {
		if errors.Is(err, ErrNoResult) {
			log.Debug().Str("mint", labels.Short(mint)).Msg("DAS getAsset unavailable")
			return nil, nil
		}
		return nil, err
	}
	var asset Asset
	if err := json.Unmarshal(result, &asset); err != nil {
		return nil, nil
	}
	return &asset, nil
}

// SearchAssetsByCreator is optional DAS enrichment; it bypasses the shared
// RPC breaker so a DAS-less node cannot open it.
func (c *Client) SearchAssetsByCreator(ctx context.Context, creator string, limit int) ([]Asset, error) {
	result, err := c.call(ctx, "searchAssets", map[string]any{
		"creatorAddress": creator,
		"page":           1,
		"limit":          limit,
	}, false)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Items []Asset `json:"items"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Items, nil
}

// GetWalletTokenBalance sums uiAmount across the wallet's token accounts for
// one mint. Zero means the wallet fully exited.
func (c *Client) GetWalletTokenBalance(ctx context.Context, wallet, mint string) (float64, error) {
	result, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		wallet,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "jsonParsed"},
	}, true)
	if err != nil {
		return 0, err
	}

	accounts, err := parseTokenAccounts(result)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, a := range accounts {
		total += a.amount
	}
	return total, nil
}

// GetDeployerTokenHoldings lists mints the wallet currently holds with a
// non-zero balance.
func (c *Client) GetDeployerTokenHoldings(ctx context.Context, wallet string) ([]string, error) {
	result, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		wallet,
		map[string]any{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
		map[string]any{"encoding": "jsonParsed"},
	}, true)
	if err != nil {
		return nil, err
	}

	accounts, err := parseTokenAccounts(result)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var mints []string
	for _, a := range accounts {
		if a.amount > 0 && !seen[a.mint] {
			seen[a.mint] = true
			mints = append(mints, a.mint)
		}
	}
	return mints, nil
}

// GetTokenLargestAccounts returns the top token accounts for a mint.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenHolder, error) {
	result, err := c.call(ctx, "getTokenLargestAccounts", []any{mint}, true)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Value []TokenHolder `json:"value"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Value, nil
}

// GetTokenSupply returns the uiAmount total supply of a mint.
func (c *Client) GetTokenSupply(ctx context.Context, mint string) (float64, error) {
	result, err := c.call(ctx, "getTokenSupply", []any{mint}, true)
	if err != nil {
		return 0, err
	}
	var wrapped struct {
		Value struct {
			UIAmount *float64 `json:"uiAmount"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return 0, err
	}
	if wrapped.Value.UIAmount == nil {
		return 0, nil
	}
	return *wrapped.Value.UIAmount, nil
}

type tokenAccount struct {
	mint   string
	amount float64
}

func parseTokenAccounts(result json.RawMessage) ([]tokenAccount, error) {
	var wrapped struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmount *float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, err
	}

	var out []tokenAccount
	for _, v := range wrapped.Value {
		info := v.Account.Data.Parsed.Info
		amount := 0.0
		if info.TokenAmount.UIAmount != nil {
			amount = *info.TokenAmount.UIAmount
		}
		out = append(out, tokenAccount{mint: info.Mint, amount: amount})
	}
	return out, nil
}
