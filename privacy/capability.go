package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"veil/privacy-service/config"
	"veil/privacy-service/logging"
)

// proverProbeOwner is a known account set owner used for the prover
// availability probe (the system program always exists).
const proverProbeOwner = "11111111111111111111111111111111"

// syntheticProbeHash keeps the prover probe meaningful when the probe owner
// has no compressed accounts to prove over.
var syntheticProbeHash = hashHex("prover_probe", proverProbeOwner)

// Detector probes the proving backend and caches the result. Check never
// returns an error: every probe failure degrades the relevant field instead.
type Detector struct {
	backend Backend
	cfg     config.Config
	now     func() time.Time

	mu     sync.RWMutex
	cached *CapabilitySnapshot
	flight singleflight.Group
}

func NewDetector(backend Backend, cfg config.Config, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{backend: backend, cfg: cfg, now: now}
}

// Check returns the cached snapshot while it is fresh, otherwise runs one
// probe round. Concurrent callers on a cold cache share a single round.
func (d *Detector) Check(ctx context.Context) CapabilitySnapshot {
	d.mu.RLock()
	if d.cached != nil && d.now().Sub(d.cached.CheckedAt) < d.cfg.CapabilityTTL() {
		snapshot := *d.cached
		d.mu.RUnlock()
		return snapshot
	}
	d.mu.RUnlock()

	v, _, _ := d.flight.Do("capabilities", func() (interface{}, error) {
		d.mu.RLock()
		if d.cached != nil && d.now().Sub(d.cached.CheckedAt) < d.cfg.CapabilityTTL() {
			snapshot := *d.cached
			d.mu.RUnlock()
			return snapshot, nil
		}
		d.mu.RUnlock()

		snapshot := d.probe(ctx)
		d.mu.Lock()
		d.cached = &snapshot
		d.mu.Unlock()
		return snapshot, nil
	})
	return v.(CapabilitySnapshot)
}

// Invalidate drops the cached snapshot so the next Check probes again.
func (d *Detector) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Detector) probe(ctx context.Context) CapabilitySnapshot {
	endpoint := d.backend.Endpoint()
	if endpoint != "" && !d.cfg.EndpointAllowed(endpoint) {
		logging.Logger().Warn().
			Str("endpoint", endpoint).
			Msg("RPC endpoint does not match any allowed provider, treating as unset")
		endpoint = ""
	}

	snapshot := CapabilitySnapshot{
		SDKAvailable:              d.backend.Available(),
		SupportsDecoyTransactions: true,
		MaxDecoyCount:             uint32(d.cfg.MaxDecoyCount),
		Network:                   NetworkSimulation,
		CheckedAt:                 d.now(),
	}
	for _, token := range d.cfg.SupportedTokens {
		snapshot.SupportedTokens = append(snapshot.SupportedTokens, token.Mint)
	}

	if snapshot.SDKAvailable && endpoint != "" {
		snapshot.RPCConnected = d.safeProbe("rpc connectivity", func() error {
			probeCtx, cancel := context.WithTimeout(ctx, d.cfg.RPCProbeTimeout())
			defer cancel()
			return d.backend.Ping(probeCtx)
		})
	}

	if snapshot.RPCConnected {
		snapshot.Network = classifyNetwork(endpoint)
		snapshot.ProverAvailable = d.safeProbe("prover availability", func() error {
			probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProverProbeTimeout())
			defer cancel()
			hashes, err := d.backend.CompressedAccountHashes(probeCtx, proverProbeOwner, 1)
			if err != nil {
				return err
			}
			if len(hashes) == 0 {
				// The probe owner holds no compressed accounts; exercise the
				// prover with a synthetic hash instead of skipping it.
				hashes = []string{syntheticProbeHash}
			}
			_, err = d.backend.ValidityProof(probeCtx, hashes)
			if errors.Is(err, ErrProofRejected) {
				// The prover answered; declining a synthetic hash is expected.
				return nil
			}
			return err
		})
	}

	snapshot.SupportsCompressedTokens = snapshot.SDKAvailable && snapshot.RPCConnected
	snapshot.SupportsProofGeneration = snapshot.SDKAvailable && snapshot.ProverAvailable

	logging.Logger().Debug().
		Bool("sdk_available", snapshot.SDKAvailable).
		Bool("rpc_connected", snapshot.RPCConnected).
		Bool("prover_available", snapshot.ProverAvailable).
		Str("network", string(snapshot.Network)).
		Msg("capability probe completed")

	return snapshot
}

// safeProbe runs one probe step, converting errors and panics (a misbehaving
// adapter must not take the detector down) into a negative result.
func (d *Detector) safeProbe(name string, probe func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger().Warn().
				Str("probe", name).
				Str("panic", fmt.Sprint(r)).
				Msg("capability probe panicked, treating as unavailable")
			ok = false
		}
	}()
	if err := probe(); err != nil {
		logging.Logger().Debug().
			Err(err).
			Str("probe", name).
			Msg("capability probe failed")
		return false
	}
	return true
}

func classifyNetwork(endpoint string) Network {
	lowered := strings.ToLower(endpoint)
	switch {
	case strings.Contains(lowered, "mainnet"):
		return NetworkMainnet
	case strings.Contains(lowered, "devnet"):
		return NetworkDevnet
	case strings.Contains(lowered, "localhost"), strings.Contains(lowered, "127.0.0.1"):
		return NetworkLocalnet
	default:
		return NetworkDevnet
	}
}
