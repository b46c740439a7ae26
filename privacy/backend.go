package privacy

import (
	"context"
	"errors"
)

// ErrBackendUnavailable is returned by adapters for every operation they
// cannot serve. The caller treats it as a negative capability, never as a
// failure to surface.
var ErrBackendUnavailable = errors.New("proving backend unavailable")

// ErrProofRejected wraps errors where the prover endpoint answered the proof
// request but declined it (unknown hashes, invalid params). For availability
// probing a rejection still counts as a live prover.
var ErrProofRejected = errors.New("prover rejected proof request")

// ValidityProof is the indexer's proof that a set of compressed account
// hashes exist in the current state tree. Fields are kept opaque (encoded
// strings) since the service never inspects them beyond bundling.
type ValidityProof struct {
	CompressedProof struct {
		A string `json:"a"`
		B string `json:"b"`
		C string `json:"c"`
	} `json:"compressed_proof"`
	Roots       []string `json:"roots"`
	LeafIndices []uint32 `json:"leaf_indices"`
}

// Backend abstracts the external proving backend and indexer. A real adapter
// (package backend) talks to a Solana RPC node plus photon indexer; the
// NullBackend stands in when no endpoint is configured, forcing simulation.
type Backend interface {
	// Available reports whether the adapter was built against a real SDK.
	Available() bool
	// Endpoint returns the configured RPC endpoint, "" when unset.
	Endpoint() string
	// Ping probes node connectivity, bounded by ctx.
	Ping(ctx context.Context) error
	// CompressedAccountHashes lists up to limit account hashes owned by owner.
	CompressedAccountHashes(ctx context.Context, owner string, limit int) ([]string, error)
	// ValidityProof fetches an inclusion proof over the given hashes.
	ValidityProof(ctx context.Context, hashes []string) (*ValidityProof, error)
}

// NullBackend is the simulation adapter: nothing is available and every
// remote operation fails with ErrBackendUnavailable.
type NullBackend struct{}

func (NullBackend) Available() bool  { return false }
func (NullBackend) Endpoint() string { return "" }

func (NullBackend) Ping(context.Context) error { return ErrBackendUnavailable }

func (NullBackend) CompressedAccountHashes(context.Context, string, int) ([]string, error) {
	return nil, ErrBackendUnavailable
}

func (NullBackend) ValidityProof(context.Context, []string) (*ValidityProof, error) {
	return nil, ErrBackendUnavailable
}
