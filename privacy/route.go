package privacy

import (
	"context"
	"fmt"
	"math"

	"veil/privacy-service/config"
	"veil/privacy-service/logging"
)

const (
	decoyDensityWeight   = 20.0
	decoyDensityCap      = 40.0
	timingEntropyWeight  = 30.0
	routeDiversityWeight = 30.0
)

// PrepareCompressedTransfer builds the real output note plus a random batch
// of decoys for the recipient and proves them all in one request. The
// returned ExecutionMode mirrors the artifact's proof type so callers can
// disclose whether the privacy guarantee is cryptographic or simulated.
func (s *Service) PrepareCompressedTransfer(ctx context.Context, params TransferParams) (*TransferBundle, error) {
	if params.To == "" {
		return nil, fmt.Errorf("transfer requires a recipient")
	}
	if params.Amount == 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	if len(params.InputNotes) == 0 {
		return nil, fmt.Errorf("transfer requires at least one input note")
	}

	stateRoot := params.StateRoot
	if stateRoot == "" {
		stateRoot = s.trees.Sync(ctx, params.From).Root
	}

	outputNote, err := CreateNote(params.To, params.TokenMint, params.TokenSymbol, params.Amount, stateRoot, false)
	if err != nil {
		return nil, err
	}

	capabilities := s.detector.Check(ctx)
	decoyNotes, err := s.buildDecoyNotes(params, stateRoot, s.pickDecoyCount(capabilities))
	if err != nil {
		return nil, err
	}

	outputCommitments := []string{outputNote.NoteCommitment}
	for _, decoy := range decoyNotes {
		outputCommitments = append(outputCommitments, decoy.NoteCommitment)
	}

	artifact, err := s.pipeline.GenerateProof(ctx, ProofRequest{
		InputNotes:   params.InputNotes,
		OutputNotes:  outputCommitments,
		PublicInputs: []string{stateRoot},
	})
	if err != nil {
		return nil, err
	}

	logging.Logger().Info().
		Str("recipient", params.To).
		Int("decoy_count", len(decoyNotes)).
		Str("execution_mode", string(artifact.ProofType)).
		Msg("compressed transfer prepared")

	return &TransferBundle{
		Proof:         artifact,
		OutputNote:    outputNote,
		DecoyNotes:    decoyNotes,
		ExecutionMode: artifact.ProofType,
	}, nil
}

// buildDecoyNotes fabricates count zero-value notes for the recipient across
// a mix of supported tokens. An empty token list falls back to the transfer's
// own mint, so a hand-built Config cannot panic the transfer path.
func (s *Service) buildDecoyNotes(params TransferParams, stateRoot string, count int) ([]*CompressedNote, error) {
	tokens := s.cfg.SupportedTokens
	if len(tokens) == 0 {
		tokens = []config.TokenConfig{{Mint: params.TokenMint, Symbol: params.TokenSymbol}}
	}
	decoys := make([]*CompressedNote, 0, count)
	for i := 0; i < count; i++ {
		token := tokens[i%len(tokens)]
		decoy, err := CreateNote(params.To, token.Mint, token.Symbol, 0, stateRoot, true)
		if err != nil {
			return nil, err
		}
		decoys = append(decoys, decoy)
	}
	return decoys, nil
}

func (s *Service) pickDecoyCount(capabilities CapabilitySnapshot) int {
	lo := s.cfg.MinDecoyCount
	hi := s.cfg.MaxDecoyCount
	if capabilities.MaxDecoyCount > 0 && int(capabilities.MaxDecoyCount) < hi {
		hi = int(capabilities.MaxDecoyCount)
	}
	if hi < lo {
		hi = lo
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + s.rng.Intn(hi-lo+1)
}

// GenerateRouteSegments builds one real segment for the transfer and
// decoyCount decoy segments alternating between the input and output token,
// then shuffles the whole list so position reveals nothing about which
// segment is real.
func (s *Service) GenerateRouteSegments(walletAddress, inputToken, outputToken string, amount uint64, decoyCount int, stateRoot string) ([]RouteSegment, error) {
	if decoyCount < 0 {
		return nil, fmt.Errorf("decoy count must be non-negative, got %d", decoyCount)
	}

	realNote, err := CreateNote(walletAddress, inputToken, "", amount, stateRoot, false)
	if err != nil {
		return nil, err
	}

	segments := make([]RouteSegment, 0, decoyCount+1)
	segments = append(segments, RouteSegment{
		Kind:           SegmentReal,
		NoteCommitment: realNote.NoteCommitment,
		Nullifier:      realNote.NullifierHash,
		Amount:         amount,
		IsEncrypted:    true,
	})

	for i := 0; i < decoyCount; i++ {
		token := inputToken
		if i%2 == 1 {
			token = outputToken
		}
		decoy, err := CreateNote(walletAddress, token, "", 0, stateRoot, true)
		if err != nil {
			return nil, err
		}
		segments = append(segments, RouteSegment{
			Kind:           SegmentDecoy,
			NoteCommitment: decoy.NoteCommitment,
			Nullifier:      decoy.NullifierHash,
			Amount:         0,
			IsEncrypted:    true,
		})
	}

	s.rngMu.Lock()
	s.rng.Shuffle(len(segments), func(i, j int) {
		segments[i], segments[j] = segments[j], segments[i]
	})
	s.rngMu.Unlock()

	return segments, nil
}

// CalculatePrivacyScore is a heuristic indicator for UI display, not a formal
// privacy metric. Decoy density earns up to 40 points, timing entropy and
// route diversity (both expected in [0,1]) up to 30 each; the result is
// clamped to [0,100].
func CalculatePrivacyScore(realSegments, decoySegments int, timingEntropy, routeDiversity float64) int {
	real := realSegments
	if real < 1 {
		real = 1
	}
	density := float64(decoySegments) / float64(real)

	score := math.Min(decoyDensityCap, density*decoyDensityWeight) +
		clamp01(timingEntropy)*timingEntropyWeight +
		clamp01(routeDiversity)*routeDiversityWeight

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(math.Round(score))
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
