package market

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rug-tracer/pkg/httpshell"
	"github.com/rug-tracer/pkg/model"
)

// BridgeExits queries the bridge explorer for cross-chain operations sent by
// an address. Best effort: any failure yields an empty list.
func (c *Client) BridgeExits(ctx context.Context, address string) []model.CrossChainExit {
	requestURL := fmt.Sprintf("%s/api/v1/operations?address=%s&page=0&pageSize=10", c.wormholeBase, address)
	body := c.shell.GetJSON(ctx, httpshell.ServiceWormhole, requestURL, nil)
	if body == nil {
		return nil
	}

	var result struct {
		Operations []struct {
			Content struct {
				StandarizedProperties struct {
					ToChain   int    `json:"toChain"`
					ToAddress string `json:"toAddress"`
				} `json:"standarizedProperties"`
			} `json:"content"`
		} `json:"operations"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil
	}

	var exits []model.CrossChainExit
	for _, op := range result.Operations {
		props := op.Content.StandarizedProperties
		if props.ToAddress == "" {
			continue
		}
		exits = append(exits, model.CrossChainExit{
			BridgeAddress: address,
			ToChain:       chainName(props.ToChain),
			ToAddress:     props.ToAddress,
		})
	}
	return exits
}

// chainName maps Wormhole chain ids to readable names.
func chainName(id int) string {
	switch id {
	case 1:
		return "solana"
	case 2:
		return "ethereum"
	case 4:
		return "bsc"
	case 5:
		return "polygon"
	case 6:
		return "avalanche"
	case 10:
		return "fantom"
	case 23:
		return "arbitrum"
	case 24:
		return "optimism"
	case 30:
		return "base"
	default:
		return fmt.Sprintf("chain_%d", id)
	}
}
