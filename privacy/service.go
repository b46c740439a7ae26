package privacy

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"veil/privacy-service/config"
)

// Service owns the capability cache, the per-wallet state-tree cache, and the
// proof deduplication map. All three are instance state, so tests and callers
// get isolation by constructing their own Service.
type Service struct {
	cfg      config.Config
	backend  Backend
	detector *Detector
	trees    *Synchronizer
	pipeline *Pipeline
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Options tunes a Service. The zero value is valid: defaults from
// config.Default() and the wall clock.
type Options struct {
	Config *config.Config
	// Now overrides the clock, for tests exercising TTL and time-bucket
	// behavior.
	Now func() time.Time
}

func New(backend Backend, opts Options) *Service {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if backend == nil {
		backend = NullBackend{}
	}

	detector := NewDetector(backend, cfg, now)
	return &Service{
		cfg:      cfg,
		backend:  backend,
		detector: detector,
		trees:    NewSynchronizer(backend, detector, cfg, now),
		pipeline: NewPipeline(backend, detector, now),
		now:      now,
		rng:      rand.New(rand.NewSource(randomSeed())),
	}
}

func randomSeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// CheckCapabilities reports what the proving backend can currently do,
// served from cache while fresh. It never fails.
func (s *Service) CheckCapabilities(ctx context.Context) CapabilitySnapshot {
	return s.detector.Check(ctx)
}

// SyncStateTree returns the wallet's state-tree snapshot, real or simulated.
// It never fails.
func (s *Service) SyncStateTree(ctx context.Context, walletAddress string) StateTreeSnapshot {
	return s.trees.Sync(ctx, walletAddress)
}

// ResyncStateTree forces the next sync for the wallet to recapture.
func (s *Service) ResyncStateTree(walletAddress string) {
	s.trees.Resync(walletAddress)
}

func (s *Service) GenerateProof(ctx context.Context, req ProofRequest) (*ProofArtifact, error) {
	return s.pipeline.GenerateProof(ctx, req)
}

// VerifyProof reports whether a proof payload is well-formed. Malformed
// payloads return false rather than an error.
func (s *Service) VerifyProof(proofData []byte) bool {
	return VerifyProof(proofData)
}

func (s *Service) CreateCompressedNote(walletAddress, tokenMint, tokenSymbol string, amount uint64, stateRoot string, isDecoy bool) (*CompressedNote, error) {
	return CreateNote(walletAddress, tokenMint, tokenSymbol, amount, stateRoot, isDecoy)
}

func (s *Service) CalculatePrivacyScore(realSegments, decoySegments int, timingEntropy, routeDiversity float64) int {
	return CalculatePrivacyScore(realSegments, decoySegments, timingEntropy, routeDiversity)
}

// GetZkModeCapabilities condenses the capability snapshot for UI display.
func (s *Service) GetZkModeCapabilities(ctx context.Context) ZkModeCapabilities {
	snapshot := s.detector.Check(ctx)
	mode := ProofTypeSimulated
	if snapshot.SupportsProofGeneration {
		mode = ProofTypeRealZk
	}
	return ZkModeCapabilities{
		Mode:            mode,
		Network:         snapshot.Network,
		MaxDecoyCount:   snapshot.MaxDecoyCount,
		SupportedTokens: snapshot.SupportedTokens,
		CheckedAt:       snapshot.CheckedAt,
	}
}

// IsSimulationMode reports whether proofs would currently be simulated.
func (s *Service) IsSimulationMode(ctx context.Context) bool {
	return !s.detector.Check(ctx).SupportsProofGeneration
}
