package privacy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/privacy-service/config"
)

func newTestPipeline(backend Backend, clock *fakeClock) (*Pipeline, *Detector) {
	var now func() time.Time
	if clock != nil {
		now = clock.Now
	}
	detector := NewDetector(backend, config.Default(), now)
	return NewPipeline(backend, detector, now), detector
}

func TestGenerateProofRequiresInputNotes(t *testing.T) {
	pipeline, _ := newTestPipeline(NullBackend{}, nil)

	artifact, err := pipeline.GenerateProof(context.Background(), ProofRequest{
		OutputNotes: []string{"out-1"},
	})

	assert.Error(t, err)
	assert.Nil(t, artifact)
}

func TestGenerateProofSimulatedPath(t *testing.T) {
	pipeline, _ := newTestPipeline(NullBackend{}, nil)

	started := time.Now()
	artifact, err := pipeline.GenerateProof(context.Background(), ProofRequest{
		InputNotes:  []string{"note-1"},
		OutputNotes: []string{"out-1", "out-2"},
	})
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.True(t, artifact.Success)
	assert.Equal(t, ProofTypeSimulated, artifact.ProofType)
	assert.Len(t, artifact.Nullifiers, 1)
	assert.Len(t, artifact.OutputCommitments, 2)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "simulated path emulates proving latency")

	assert.True(t, VerifyProof(artifact.ProofData), "simulated payload must verify")
}

func TestGenerateProofRealPath(t *testing.T) {
	backend := newStubBackend()
	pipeline, _ := newTestPipeline(backend, nil)

	artifact, err := pipeline.GenerateProof(context.Background(), ProofRequest{
		InputNotes:   []string{"note-1", "note-2"},
		PublicInputs: []string{"root-1"},
	})

	require.NoError(t, err)
	assert.True(t, artifact.Success)
	assert.Equal(t, ProofTypeRealZk, artifact.ProofType)
	assert.Len(t, artifact.Nullifiers, 2)

	var payload struct {
		ProofA string   `json:"proof_a"`
		Roots  []string `json:"roots"`
	}
	require.NoError(t, json.Unmarshal(artifact.ProofData, &payload))
	assert.Equal(t, "aabb", payload.ProofA)
	assert.Equal(t, []string{"aa11"}, payload.Roots)
	assert.True(t, VerifyProof(artifact.ProofData))
}

func TestGenerateProofFallsBackWhenProverFails(t *testing.T) {
	backend := newStubBackend()
	// First ValidityProof call (the capability probe) succeeds, everything
	// after fails, so the pipeline considers proving available and must
	// degrade mid-flight.
	backend.proofFailAfter = 1
	pipeline, _ := newTestPipeline(backend, nil)

	artifact, err := pipeline.GenerateProof(context.Background(), ProofRequest{
		InputNotes: []string{"note-1"},
	})

	require.NoError(t, err)
	assert.True(t, artifact.Success)
	assert.Equal(t, ProofTypeSimulated, artifact.ProofType)
}

func TestGenerateProofDeduplicatesConcurrentRequests(t *testing.T) {
	backend := newStubBackend()
	backend.proofDelay = 50 * time.Millisecond
	pipeline, detector := newTestPipeline(backend, nil)

	// Prime the capability cache so concurrent callers do not race the
	// probe's ValidityProof call.
	detector.Check(context.Background())
	backend.resetCounters()

	req := ProofRequest{InputNotes: []string{"note-1"}, PublicInputs: []string{"root-1"}}

	var wg sync.WaitGroup
	artifacts := make([]*ProofArtifact, 8)
	for i := range artifacts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := pipeline.GenerateProof(context.Background(), req)
			assert.NoError(t, err)
			artifacts[i] = artifact
		}(i)
	}
	wg.Wait()

	_, _, proofCalls := backend.counts()
	assert.Equal(t, 1, proofCalls, "identical concurrent requests must share one computation")
	for _, artifact := range artifacts[1:] {
		assert.Same(t, artifacts[0], artifact)
	}
}

func TestGenerateProofDistinctRequestsDoNotShare(t *testing.T) {
	backend := newStubBackend()
	pipeline, detector := newTestPipeline(backend, nil)
	detector.Check(context.Background())
	backend.resetCounters()

	first, err := pipeline.GenerateProof(context.Background(), ProofRequest{InputNotes: []string{"note-1"}})
	require.NoError(t, err)
	second, err := pipeline.GenerateProof(context.Background(), ProofRequest{InputNotes: []string{"note-2"}})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	_, _, proofCalls := backend.counts()
	assert.Equal(t, 2, proofCalls)
}

func TestGenerateProofGraceWindow(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	pipeline, _ := newTestPipeline(NullBackend{}, clock)

	req := ProofRequest{InputNotes: []string{"note-1"}}

	first, err := pipeline.GenerateProof(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	second, err := pipeline.GenerateProof(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, first, second, "retry within the grace window reuses the artifact")

	clock.Advance(3 * time.Second)
	third, err := pipeline.GenerateProof(context.Background(), req)
	require.NoError(t, err)
	assert.NotSame(t, first, third, "expired artifacts are recomputed")
}

func TestCanonicalKeyIgnoresNoteOrder(t *testing.T) {
	a := ProofRequest{
		InputNotes:   []string{"n1", "n2"},
		OutputNotes:  []string{"o1", "o2"},
		PublicInputs: []string{"root"},
	}
	b := ProofRequest{
		InputNotes:   []string{"n2", "n1"},
		OutputNotes:  []string{"o2", "o1"},
		PublicInputs: []string{"root"},
	}
	assert.Equal(t, a.CanonicalKey(), b.CanonicalKey())

	c := b
	c.PublicInputs = []string{"other-root"}
	assert.NotEqual(t, a.CanonicalKey(), c.CanonicalKey())

	// Moving a note between lists must change the key.
	d := ProofRequest{
		InputNotes:   []string{"n1", "n2", "o1"},
		OutputNotes:  []string{"o2"},
		PublicInputs: []string{"root"},
	}
	assert.NotEqual(t, a.CanonicalKey(), d.CanonicalKey())
}

func TestCanonicalKeyResistsDelimiterInjection(t *testing.T) {
	// A note string carrying list-encoding bytes must not collide with a
	// request that has those notes split across lists.
	forged := ProofRequest{InputNotes: []string{"a\nout:b"}}
	split := ProofRequest{InputNotes: []string{"a"}, OutputNotes: []string{"b"}}
	assert.NotEqual(t, forged.CanonicalKey(), split.CanonicalKey())

	pipeline, _ := newTestPipeline(NullBackend{}, nil)
	first, err := pipeline.GenerateProof(context.Background(), forged)
	require.NoError(t, err)
	second, err := pipeline.GenerateProof(context.Background(), split)
	require.NoError(t, err)

	// Each caller gets an artifact shaped by its own request.
	assert.NotSame(t, first, second)
	assert.Empty(t, first.OutputCommitments)
	assert.Len(t, second.OutputCommitments, 1)

	more := []struct{ a, b ProofRequest }{
		{
			ProofRequest{InputNotes: []string{"in:1:x"}},
			ProofRequest{InputNotes: []string{"x"}, OutputNotes: []string{"in:1:"}},
		},
		{
			ProofRequest{InputNotes: []string{"a"}, PublicInputs: []string{"b"}},
			ProofRequest{InputNotes: []string{"a"}, OutputNotes: []string{"b"}},
		},
		{
			ProofRequest{InputNotes: []string{"ab"}},
			ProofRequest{InputNotes: []string{"a", "b"}},
		},
	}
	for _, pair := range more {
		assert.NotEqual(t, pair.a.CanonicalKey(), pair.b.CanonicalKey())
	}
}

func TestRememberSweepsExpiredEntries(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	pipeline, _ := newTestPipeline(NullBackend{}, clock)

	_, err := pipeline.GenerateProof(context.Background(), ProofRequest{InputNotes: []string{"note-1"}})
	require.NoError(t, err)

	clock.Advance(6 * time.Second)
	_, err = pipeline.GenerateProof(context.Background(), ProofRequest{InputNotes: []string{"note-2"}})
	require.NoError(t, err)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	assert.Len(t, pipeline.recent, 1, "expired artifacts must not accumulate")
}

func TestVerifyProofRejectsMalformedPayloads(t *testing.T) {
	assert.False(t, VerifyProof([]byte("not json")))
	assert.False(t, VerifyProof([]byte(`{}`)))
	assert.False(t, VerifyProof([]byte(`{"proof_a":"aa","proof_b":"bb","proof_c":"cc"}`)),
		"roots are required")
	assert.False(t, VerifyProof([]byte(`{"proof_a":"zz","proof_b":"bb","proof_c":"cc","roots":["r"]}`)),
		"proof points must be hex")
	assert.False(t, VerifyProof([]byte(`{"proof_a":"","proof_b":"bb","proof_c":"cc","roots":["r"]}`)))

	// A G1-sized blob that is not on the curve must be rejected.
	garbage := strings.Repeat("ff", 64)
	payload := `{"proof_a":"` + garbage + `","proof_b":"bb","proof_c":"cc","roots":["r"]}`
	assert.False(t, VerifyProof([]byte(payload)))

	assert.True(t, VerifyProof([]byte(`{"proof_a":"aa","proof_b":"bb","proof_c":"cc","roots":["r"]}`)),
		"opaque short encodings pass on shape")
}
