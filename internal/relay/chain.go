// Package relay talks to the onchain side of the companion: a JSON-RPC
// node for reads, an intention relayer for signed writes, and a price
// feed for token quotes.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const rpcTimeout = 30 * time.Second

// balanceOf(address) selector.
const balanceOfSelector = "0x70a08231"

// ChainClient issues JSON-RPC reads against an Ethereum node.
type ChainClient struct {
	URL    string // e.g. an Alchemy or Infura endpoint
	Client *http.Client
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs one JSON-RPC request and returns the raw hex result.
func (c *ChainClient) Call(ctx context.Context, method string, params []any) (string, error) {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return "", fmt.Errorf("relay: marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("relay: create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("relay: rpc request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("relay: read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("relay: rpc status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return "", fmt.Errorf("relay: parse rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("relay: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// BlockNumber returns the current block height.
func (c *ChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, err
	}
	return ParseHexQuantity(result)
}

// Balance returns the native balance of an address in wei.
func (c *ChainClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []any{address, "latest"})
	if err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

// TokenBalance returns the ERC-20 balance of holder on the token contract.
func (c *ChainClient) TokenBalance(ctx context.Context, token, holder string) (*big.Int, error) {
	data := balanceOfSelector + pad32(strings.TrimPrefix(holder, "0x"))
	result, err := c.Call(ctx, "eth_call", []any{
		map[string]string{"to": token, "data": data},
		"latest",
	})
	if err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

func (c *ChainClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: rpcTimeout}
}

// ParseHexQuantity decodes a 0x-prefixed hex quantity into a uint64.
func ParseHexQuantity(hex string) (uint64, error) {
	s := strings.TrimPrefix(hex, "0x")
	if s == "" {
		return 0, fmt.Errorf("relay: empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}

func parseHexBig(hex string) (*big.Int, error) {
	s := strings.TrimPrefix(hex, "0x")
	if s == "" {
		return nil, fmt.Errorf("relay: empty hex quantity")
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("relay: bad hex quantity %q", hex)
	}
	return n, nil
}

func pad32(hexDigits string) string {
	if len(hexDigits) >= 64 {
		return hexDigits[len(hexDigits)-64:]
	}
	return strings.Repeat("0", 64-len(hexDigits)) + hexDigits
}
