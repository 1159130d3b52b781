package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"anchord/internal/merkle"
)

// EVMConfig configures the EVM anchoring client.
type EVMConfig struct {
	// Endpoints are tried in order until one succeeds.
	Endpoints []string

	// Method is the JSON-RPC method exposed by the anchoring gateway.
	Method string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// EVMClient anchors roots through an EVM-facing gateway over JSON-RPC.
// Roots are submitted as 0x-prefixed bytes32. The gateway owns wallet
// management and transaction construction; this client only submits and
// reads back the confirmation.
type EVMClient struct {
	endpoints []string
	method    string
	client    *http.Client
}

// NewEVMClient creates an EVM anchoring client.
func NewEVMClient(cfg EVMConfig) (*EVMClient, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	method := cfg.Method
	if method == "" {
		method = "anchor_submitRoot"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &EVMClient{
		endpoints: cfg.Endpoints,
		method:    method,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result *anchorResult `json:"result"`
	Error  *rpcError     `json:"error"`
}

type anchorParams struct {
	BatchID    string `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	EventCount int    `json:"event_count"`
}

type anchorResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// AnchorRoot submits the root to each endpoint in turn, returning the
// first confirmation. All endpoint failures are reported together.
func (c *EVMClient) AnchorRoot(ctx context.Context, batchID string, root merkle.Hash, eventCount int) (*Receipt, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  c.method,
		Params: []any{anchorParams{
			BatchID:    batchID,
			MerkleRoot: merkle.Encode0x(root),
			EventCount: eventCount,
		}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal request: %w", err)
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		receipt, err := c.submit(ctx, endpoint, body)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("ledger: all endpoints failed: %w", lastErr)
}

func (c *EVMClient) submit(ctx context.Context, endpoint string, body []byte) (*Receipt, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil || rpcResp.Result.TxHash == "" {
		return nil, ErrEmptyResult
	}

	return &Receipt{
		TxHash:      rpcResp.Result.TxHash,
		BlockNumber: rpcResp.Result.BlockNumber,
	}, nil
}
