package privacy

import (
	"encoding/json"
	"time"
)

type Network string

const (
	NetworkMainnet    Network = "mainnet"
	NetworkDevnet     Network = "devnet"
	NetworkLocalnet   Network = "localnet"
	NetworkSimulation Network = "simulation"
)

type ProofType string

const (
	ProofTypeRealZk    ProofType = "real_zk"
	ProofTypeSimulated ProofType = "simulated"
)

type SegmentKind string

const (
	SegmentReal  SegmentKind = "real"
	SegmentDecoy SegmentKind = "decoy"
)

// CapabilitySnapshot is the cached result of probing the proving backend.
// SupportsCompressedTokens and SupportsProofGeneration are derived fields:
// each is true only when SDKAvailable and its downstream probe both passed.
type CapabilitySnapshot struct {
	SDKAvailable              bool      `json:"sdk_available"`
	RPCConnected              bool      `json:"rpc_connected"`
	ProverAvailable           bool      `json:"prover_available"`
	SupportsCompressedTokens  bool      `json:"supports_compressed_tokens"`
	SupportsProofGeneration   bool      `json:"supports_proof_generation"`
	SupportsDecoyTransactions bool      `json:"supports_decoy_transactions"`
	MaxDecoyCount             uint32    `json:"max_decoy_count"`
	SupportedTokens           []string  `json:"supported_tokens"`
	Network                   Network   `json:"network"`
	CheckedAt                 time.Time `json:"checked_at"`
}

// StateTreeSnapshot is a point-in-time view of one wallet's state tree.
// Snapshots are replaced, never mutated.
type StateTreeSnapshot struct {
	Root       string    `json:"root"`
	Height     uint32    `json:"height"`
	LeafCount  uint32    `json:"leaf_count"`
	CapturedAt time.Time `json:"captured_at"`
	IsRealData bool      `json:"is_real_data"`
}

// CompressedNote is a shielded balance record. Decoy notes always commit to
// amount zero regardless of the displayed token.
type CompressedNote struct {
	WalletAddress       string `json:"wallet_address"`
	NoteCommitment      string `json:"note_commitment"`
	NullifierHash       string `json:"nullifier_hash"`
	TokenMint           string `json:"token_mint"`
	TokenSymbol         string `json:"token_symbol"`
	EncryptedAmount     string `json:"encrypted_amount"`
	EncryptedRandomness string `json:"encrypted_randomness"`
	MerkleTreeRoot      string `json:"merkle_tree_root"`
	LeafIndex           uint64 `json:"leaf_index"`
	IsDecoy             bool   `json:"is_decoy"`
}

// ProofRequest is the pipeline input. Input and output notes are note
// commitments; order does not matter for deduplication.
type ProofRequest struct {
	InputNotes   []string `json:"input_notes"`
	OutputNotes  []string `json:"output_notes"`
	PublicInputs []string `json:"public_inputs"`
}

type ProofArtifact struct {
	ProofData         json.RawMessage `json:"proof_data"`
	Nullifiers        []string        `json:"nullifiers"`
	OutputCommitments []string        `json:"output_commitments"`
	Success           bool            `json:"success"`
	ProofType         ProofType       `json:"proof_type"`
}

// ZkExecutionSession associates a point-in-time state root with an external
// route/quote reference for later audit.
type ZkExecutionSession struct {
	WalletAddress     string    `json:"wallet_address"`
	BatchID           string    `json:"batch_id"`
	StateRootSnapshot string    `json:"state_root_snapshot"`
	ProofType         ProofType `json:"proof_type"`
	JupiterQuoteID    string    `json:"jupiter_quote_id,omitempty"`
	JupiterRouteHash  string    `json:"jupiter_route_hash,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type RouteSegment struct {
	Kind           SegmentKind `json:"kind"`
	NoteCommitment string      `json:"note_commitment"`
	Nullifier      string      `json:"nullifier"`
	Amount         uint64      `json:"amount"`
	IsEncrypted    bool        `json:"is_encrypted"`
}

type TransferParams struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	TokenMint   string   `json:"token_mint"`
	TokenSymbol string   `json:"token_symbol"`
	Amount      uint64   `json:"amount"`
	InputNotes  []string `json:"input_notes"`
	StateRoot   string   `json:"state_root,omitempty"`
}

type TransferBundle struct {
	Proof         *ProofArtifact    `json:"proof"`
	OutputNote    *CompressedNote   `json:"output_note"`
	DecoyNotes    []*CompressedNote `json:"decoy_notes"`
	ExecutionMode ProofType         `json:"execution_mode"`
}

// ZkModeCapabilities is the UI-facing summary of what the service can
// currently guarantee.
type ZkModeCapabilities struct {
	Mode            ProofType `json:"mode"`
	Network         Network   `json:"network"`
	MaxDecoyCount   uint32    `json:"max_decoy_count"`
	SupportedTokens []string  `json:"supported_tokens"`
	CheckedAt       time.Time `json:"checked_at"`
}
