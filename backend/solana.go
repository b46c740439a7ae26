// Package backend adapts a Solana RPC node with a ZK-compression indexer
// (photon) to the privacy.Backend interface. Standard node methods go
// through solana-go; the compression-specific methods are not part of the
// standard RPC surface, so they are issued as raw JSON-RPC against the same
// endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"veil/privacy-service/privacy"
)

type SolanaBackend struct {
	endpoint string
	rpc      *rpc.Client
	http     *http.Client
}

var _ privacy.Backend = (*SolanaBackend)(nil)

func NewSolana(endpoint string) *SolanaBackend {
	return &SolanaBackend{
		endpoint: endpoint,
		rpc:      rpc.New(endpoint),
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *SolanaBackend) Available() bool { return true }

func (b *SolanaBackend) Endpoint() string { return b.endpoint }

func (b *SolanaBackend) Ping(ctx context.Context) error {
	health, err := b.rpc.GetHealth(ctx)
	if err != nil {
		return err
	}
	if health != rpc.HealthOk {
		return fmt.Errorf("node reported health %q", health)
	}
	return nil
}

func (b *SolanaBackend) CompressedAccountHashes(ctx context.Context, owner string, limit int) ([]string, error) {
	if _, err := solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("invalid owner address %q: %w", owner, err)
	}

	var result struct {
		Value struct {
			Items []struct {
				Hash string `json:"hash"`
			} `json:"items"`
		} `json:"value"`
	}
	params := map[string]interface{}{"owner": owner}
	if limit > 0 {
		params["limit"] = limit
	}
	if err := b.call(ctx, "getCompressedAccountsByOwner", params, &result); err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(result.Value.Items))
	for _, item := range result.Value.Items {
		hashes = append(hashes, item.Hash)
	}
	return hashes, nil
}

func (b *SolanaBackend) ValidityProof(ctx context.Context, hashes []string) (*privacy.ValidityProof, error) {
	if len(hashes) == 0 {
		return nil, fmt.Errorf("validity proof requires at least one account hash")
	}

	var result struct {
		Value struct {
			CompressedProof struct {
				A string `json:"a"`
				B string `json:"b"`
				C string `json:"c"`
			} `json:"compressedProof"`
			Roots       []string `json:"roots"`
			LeafIndices []uint32 `json:"leafIndices"`
		} `json:"value"`
	}
	params := map[string]interface{}{"hashes": hashes}
	if err := b.call(ctx, "getValidityProof", params, &result); err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			// The indexer answered and declined; distinguish that from the
			// endpoint being unreachable.
			return nil, fmt.Errorf("%w: %s", privacy.ErrProofRejected, rpcErr.Error())
		}
		return nil, err
	}

	proof := &privacy.ValidityProof{
		Roots:       result.Value.Roots,
		LeafIndices: result.Value.LeafIndices,
	}
	proof.CompressedProof.A = result.Value.CompressedProof.A
	proof.CompressedProof.B = result.Value.CompressedProof.B
	proof.CompressedProof.C = result.Value.CompressedProof.C
	return proof, nil
}

type rpcEnvelope struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (b *SolanaBackend) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcEnvelope{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: malformed response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	return json.Unmarshal(envelope.Result, result)
}
