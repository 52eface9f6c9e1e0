package tool

import (
	"context"
	"fmt"
	"strconv"

	"github.com/oyalabs/sensei/internal/relay"
)

// BlockNumberTool reports the current Ethereum block number via the
// shared chain client.
type BlockNumberTool struct {
	Chain *relay.ChainClient
}

func (t *BlockNumberTool) Name() string        { return "get_block_number" }
func (t *BlockNumberTool) Description() string { return "Get the current Ethereum block number" }
func (t *BlockNumberTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *BlockNumberTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	if t.Chain == nil || t.Chain.URL == "" {
		return "Ethereum RPC endpoint is not configured.", nil
	}

	n, err := t.Chain.BlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("get_block_number: %w", err)
	}
	return strconv.FormatUint(n, 10), nil
}
