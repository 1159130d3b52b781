package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"anchord/internal/merkle"
)

func rpcServer(t *testing.T, handler func(params anchorParams) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("malformed rpc request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			t.Errorf("malformed rpc envelope: %+v", req)
		}

		raw, _ := json.Marshal(req.Params[0])
		var params anchorParams
		if err := json.Unmarshal(raw, &params); err != nil {
			t.Errorf("malformed params: %v", err)
		}

		result, rpcErr := handler(params)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
			"error":   rpcErr,
		})
	}))
}

func TestAnchorRootSubmitsAndParsesReceipt(t *testing.T) {
	root := sha256.Sum256([]byte("root"))

	var seen anchorParams
	srv := rpcServer(t, func(params anchorParams) (any, *rpcError) {
		seen = params
		return anchorResult{TxHash: "0xfeedface", BlockNumber: 99}, nil
	})
	defer srv.Close()

	c, err := NewEVMClient(EVMConfig{Endpoints: []string{srv.URL}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	receipt, err := c.AnchorRoot(context.Background(), "batch-1", root, 12)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if receipt.TxHash != "0xfeedface" || receipt.BlockNumber != 99 {
		t.Fatalf("receipt = %+v", receipt)
	}

	if seen.BatchID != "batch-1" || seen.EventCount != 12 {
		t.Fatalf("submitted params = %+v", seen)
	}
	if seen.MerkleRoot != merkle.Encode0x(root) {
		t.Fatalf("root submitted as %q", seen.MerkleRoot)
	}
	if !strings.HasPrefix(seen.MerkleRoot, "0x") || len(seen.MerkleRoot) != 66 {
		t.Fatalf("root is not a 0x-prefixed bytes32: %q", seen.MerkleRoot)
	}
}

func TestAnchorRootFailsOverBetweenEndpoints(t *testing.T) {
	root := sha256.Sum256([]byte("root"))

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	var calls atomic.Int32
	alive := rpcServer(t, func(params anchorParams) (any, *rpcError) {
		calls.Add(1)
		return anchorResult{TxHash: "0x1", BlockNumber: 1}, nil
	})
	defer alive.Close()

	c, err := NewEVMClient(EVMConfig{Endpoints: []string{dead.URL, alive.URL}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	receipt, err := c.AnchorRoot(context.Background(), "batch-1", root, 1)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if receipt.TxHash != "0x1" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if calls.Load() != 1 {
		t.Fatalf("second endpoint called %d times", calls.Load())
	}
}

func TestAnchorRootReportsRPCError(t *testing.T) {
	root := sha256.Sum256([]byte("root"))
	srv := rpcServer(t, func(params anchorParams) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "nonce too low"}
	})
	defer srv.Close()

	c, _ := NewEVMClient(EVMConfig{Endpoints: []string{srv.URL}})
	_, err := c.AnchorRoot(context.Background(), "batch-1", root, 1)
	if err == nil || !strings.Contains(err.Error(), "nonce too low") {
		t.Fatalf("got %v, want rpc error surfaced", err)
	}
}

func TestAnchorRootRejectsEmptyResult(t *testing.T) {
	root := sha256.Sum256([]byte("root"))
	srv := rpcServer(t, func(params anchorParams) (any, *rpcError) {
		return nil, nil
	})
	defer srv.Close()

	c, _ := NewEVMClient(EVMConfig{Endpoints: []string{srv.URL}})
	_, err := c.AnchorRoot(context.Background(), "batch-1", root, 1)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("got %v, want ErrEmptyResult", err)
	}
}

func TestAnchorRootHonorsContext(t *testing.T) {
	root := sha256.Sum256([]byte("root"))
	srv := rpcServer(t, func(params anchorParams) (any, *rpcError) {
		return anchorResult{TxHash: "0x1", BlockNumber: 1}, nil
	})
	defer srv.Close()

	c, _ := NewEVMClient(EVMConfig{Endpoints: []string{srv.URL}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.AnchorRoot(ctx, "batch-1", root, 1); err == nil {
		t.Fatal("cancelled context must abort the submission")
	}
}

func TestNewEVMClientRequiresEndpoints(t *testing.T) {
	if _, err := NewEVMClient(EVMConfig{}); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("got %v, want ErrNoEndpoints", err)
	}
}

func TestMemoryLedgerIsIdempotentPerBatch(t *testing.T) {
	m := NewMemoryLedger()
	root := sha256.Sum256([]byte("root"))

	r1, err := m.AnchorRoot(context.Background(), "batch-1", root, 3)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	r2, err := m.AnchorRoot(context.Background(), "batch-1", root, 3)
	if err != nil {
		t.Fatalf("re-anchor: %v", err)
	}
	if r1.TxHash != r2.TxHash || r1.BlockNumber != r2.BlockNumber {
		t.Fatalf("re-anchoring minted a new receipt: %+v vs %+v", r1, r2)
	}

	other := sha256.Sum256([]byte("other"))
	r3, err := m.AnchorRoot(context.Background(), "batch-2", other, 1)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if r3.BlockNumber == r1.BlockNumber {
		t.Fatal("distinct batches must land in distinct blocks")
	}
	if m.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", m.Calls())
	}
}

func TestMemoryLedgerFailNext(t *testing.T) {
	m := NewMemoryLedger()
	m.FailNext(2)
	root := sha256.Sum256([]byte("root"))

	for i := 0; i < 2; i++ {
		if _, err := m.AnchorRoot(context.Background(), "batch-1", root, 1); err == nil {
			t.Fatalf("call %d should have failed", i)
		}
	}
	if _, err := m.AnchorRoot(context.Background(), "batch-1", root, 1); err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}
}
