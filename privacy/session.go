package privacy

import (
	"context"

	"github.com/google/uuid"
)

// CreateZkExecutionSession binds a batched execution to the wallet's current
// state root and, when present, an external Jupiter quote reference. The
// session record is handed back for the caller to persist.
func (s *Service) CreateZkExecutionSession(ctx context.Context, walletAddress, batchID, jupiterQuoteID string) ZkExecutionSession {
	if batchID == "" {
		batchID = uuid.New().String()
	}

	snapshot := s.trees.Sync(ctx, walletAddress)

	proofType := ProofTypeSimulated
	if s.detector.Check(ctx).SupportsProofGeneration {
		proofType = ProofTypeRealZk
	}

	session := ZkExecutionSession{
		WalletAddress:     walletAddress,
		BatchID:           batchID,
		StateRootSnapshot: snapshot.Root,
		ProofType:         proofType,
		CreatedAt:         s.now(),
	}
	if jupiterQuoteID != "" {
		session.JupiterQuoteID = jupiterQuoteID
		session.JupiterRouteHash = hashHex("jupiter_route", jupiterQuoteID)
	}
	return session
}
