package privacy

import (
	"context"
	"sync"
	"time"
)

// stubBackend scripts backend behavior and counts calls.
type stubBackend struct {
	mu sync.Mutex

	available bool
	endpoint  string

	pingErr   error
	hashes    []string
	hashesErr error
	proof     *ValidityProof
	proofErr  error

	// proofFailAfter fails ValidityProof once more than this many calls
	// have been made (0 = never fail by count).
	proofFailAfter int
	proofDelay     time.Duration

	pingCalls  int
	hashCalls  int
	proofCalls int
}

func newStubBackend() *stubBackend {
	proof := &ValidityProof{Roots: []string{"aa11"}, LeafIndices: []uint32{0}}
	proof.CompressedProof.A = "aabb"
	proof.CompressedProof.B = "ccdd"
	proof.CompressedProof.C = "eeff"
	return &stubBackend{
		available: true,
		endpoint:  "https://helius.test/rpc",
		hashes:    []string{"hash-1", "hash-2"},
		proof:     proof,
	}
}

func (b *stubBackend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

func (b *stubBackend) Endpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoint
}

func (b *stubBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pingCalls++
	return b.pingErr
}

func (b *stubBackend) CompressedAccountHashes(context.Context, string, int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hashCalls++
	if b.hashesErr != nil {
		return nil, b.hashesErr
	}
	return append([]string{}, b.hashes...), nil
}

func (b *stubBackend) ValidityProof(context.Context, []string) (*ValidityProof, error) {
	b.mu.Lock()
	b.proofCalls++
	calls := b.proofCalls
	delay := b.proofDelay
	failAfter := b.proofFailAfter
	proofErr := b.proofErr
	proof := b.proof
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if proofErr != nil {
		return nil, proofErr
	}
	if failAfter > 0 && calls > failAfter {
		return nil, ErrBackendUnavailable
	}
	return proof, nil
}

func (b *stubBackend) resetCounters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pingCalls = 0
	b.hashCalls = 0
	b.proofCalls = 0
}

func (b *stubBackend) counts() (ping, hash, proof int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingCalls, b.hashCalls, b.proofCalls
}

// fakeClock is a manually advanced clock for TTL and time-bucket tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
