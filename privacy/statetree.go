package privacy

import (
	"context"
	"crypto/sha256"
	"math/big"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"veil/privacy-service/config"
	"veil/privacy-service/logging"
	merkletree "veil/privacy-service/merkle-tree"
)

const (
	// StateTreeHeight matches the compressed-token state trees on chain.
	StateTreeHeight = 20

	// simulation roots are stable within one time bucket so repeated syncs
	// are reproducible
	simulationBucketSeconds = 60

	maxSyncAccountHashes = 2
)

// Synchronizer maintains one StateTreeSnapshot per wallet. Snapshots are
// immutable and replaced wholesale when stale or on explicit resync. Sync
// never fails: any backend trouble degrades to a deterministic simulated
// snapshot.
type Synchronizer struct {
	backend  Backend
	detector *Detector
	cfg      config.Config
	now      func() time.Time

	mu        sync.RWMutex
	snapshots map[string]StateTreeSnapshot
	flight    singleflight.Group
}

func NewSynchronizer(backend Backend, detector *Detector, cfg config.Config, now func() time.Time) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{
		backend:   backend,
		detector:  detector,
		cfg:       cfg,
		now:       now,
		snapshots: make(map[string]StateTreeSnapshot),
	}
}

// Sync returns the wallet's snapshot, serving the cache while fresh.
// Concurrent syncs of the same wallet share one computation; distinct
// wallets never block each other.
func (s *Synchronizer) Sync(ctx context.Context, walletAddress string) StateTreeSnapshot {
	if snapshot, ok := s.fresh(walletAddress); ok {
		return snapshot
	}

	v, _, _ := s.flight.Do(walletAddress, func() (interface{}, error) {
		if snapshot, ok := s.fresh(walletAddress); ok {
			return snapshot, nil
		}
		snapshot := s.capture(ctx, walletAddress)
		s.mu.Lock()
		s.snapshots[walletAddress] = snapshot
		s.mu.Unlock()
		return snapshot, nil
	})
	return v.(StateTreeSnapshot)
}

// Resync drops the wallet's cached snapshot so the next Sync recaptures.
func (s *Synchronizer) Resync(walletAddress string) {
	s.mu.Lock()
	delete(s.snapshots, walletAddress)
	s.mu.Unlock()
}

func (s *Synchronizer) fresh(walletAddress string) (StateTreeSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[walletAddress]
	if !ok || s.now().Sub(snapshot.CapturedAt) >= s.cfg.StateTreeTTL() {
		return StateTreeSnapshot{}, false
	}
	return snapshot, true
}

func (s *Synchronizer) capture(ctx context.Context, walletAddress string) StateTreeSnapshot {
	capabilities := s.detector.Check(ctx)
	if capabilities.SDKAvailable && capabilities.RPCConnected {
		if snapshot, err := s.captureReal(ctx, walletAddress); err == nil {
			return snapshot
		} else {
			logging.Logger().Warn().
				Err(err).
				Str("wallet", walletAddress).
				Msg("state tree sync failed, falling back to simulated snapshot")
		}
	}
	return s.captureSimulated(walletAddress)
}

func (s *Synchronizer) captureReal(ctx context.Context, walletAddress string) (StateTreeSnapshot, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.ProverProbeTimeout())
	defer cancel()

	hashes, err := s.backend.CompressedAccountHashes(syncCtx, walletAddress, maxSyncAccountHashes)
	if err != nil {
		return StateTreeSnapshot{}, err
	}

	root := ""
	if len(hashes) > 0 {
		if proof, err := s.backend.ValidityProof(syncCtx, hashes); err == nil && len(proof.Roots) > 0 {
			root = proof.Roots[0]
		}
	}
	if root == "" {
		// No proof to anchor on; derive a root locally over the account
		// hashes so the snapshot still reflects the wallet's state.
		leaves := make([]*big.Int, len(hashes))
		for i, h := range hashes {
			leaves[i] = leafFromHash(h)
		}
		derived, err := merkletree.RootOverLeaves(StateTreeHeight, leaves)
		if err != nil {
			return StateTreeSnapshot{}, err
		}
		root = derived.Text(16)
	}

	return StateTreeSnapshot{
		Root:       root,
		Height:     StateTreeHeight,
		LeafCount:  uint32(len(hashes)),
		CapturedAt: s.now(),
		IsRealData: true,
	}, nil
}

func (s *Synchronizer) captureSimulated(walletAddress string) StateTreeSnapshot {
	bucket := s.now().Unix() / simulationBucketSeconds
	return StateTreeSnapshot{
		Root:       hashHex("state_root", walletAddress, strconv.FormatInt(bucket, 10)),
		Height:     StateTreeHeight,
		LeafCount:  0,
		CapturedAt: s.now(),
		IsRealData: false,
	}
}

// leafFromHash maps an opaque account hash string into the Poseidon field
// (248 bits keeps it below the bn254 modulus).
func leafFromHash(hash string) *big.Int {
	sum := sha256.Sum256([]byte(hash))
	return new(big.Int).SetBytes(sum[1:])
}
