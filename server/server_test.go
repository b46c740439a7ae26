package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/privacy-service/privacy"
)

// memoryStore is an in-process Store for handler tests.
type memoryStore struct {
	notes    map[string][]*privacy.CompressedNote
	sessions map[string]*privacy.ZkExecutionSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		notes:    make(map[string][]*privacy.CompressedNote),
		sessions: make(map[string]*privacy.ZkExecutionSession),
	}
}

func (m *memoryStore) SaveNote(_ context.Context, note *privacy.CompressedNote) error {
	m.notes[note.WalletAddress] = append(m.notes[note.WalletAddress], note)
	return nil
}

func (m *memoryStore) NotesByWallet(_ context.Context, walletAddress string) ([]*privacy.CompressedNote, error) {
	return m.notes[walletAddress], nil
}

func (m *memoryStore) SaveSession(_ context.Context, session *privacy.ZkExecutionSession) error {
	m.sessions[session.BatchID] = session
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, batchID string) (*privacy.ZkExecutionSession, error) {
	return m.sessions[batchID], nil
}

func newTestServer(t *testing.T, st Store) *httptest.Server {
	t.Helper()
	svc := privacy.New(nil, privacy.Options{})
	ts := httptest.NewServer(NewMux(svc, st))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body map[string]string
	status := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Post(ts.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCapabilitiesEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var snapshot privacy.CapabilitySnapshot
	status := getJSON(t, ts.URL+"/capabilities", &snapshot)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, privacy.NetworkSimulation, snapshot.Network)
	assert.False(t, snapshot.SupportsProofGeneration)
	assert.True(t, snapshot.SupportsDecoyTransactions)
}

func TestZkModeAndSimulationEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	var mode privacy.ZkModeCapabilities
	status := getJSON(t, ts.URL+"/zk-mode", &mode)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, privacy.ProofTypeSimulated, mode.Mode)

	var sim map[string]bool
	status = getJSON(t, ts.URL+"/simulation-mode", &sim)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, sim["simulation"])
}

func TestStateTreeEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var snapshot privacy.StateTreeSnapshot
	status := getJSON(t, ts.URL+"/state-tree?wallet=wallet-a", &snapshot)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, snapshot.Root)
	assert.False(t, snapshot.IsRealData)

	status = getJSON(t, ts.URL+"/state-tree", nil)
	assert.Equal(t, http.StatusBadRequest, status, "wallet parameter is required")

	status = getJSON(t, ts.URL+"/state-tree?wallet=wallet-a&resync=true", &snapshot)
	assert.Equal(t, http.StatusOK, status)
}

func TestProveEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var artifact privacy.ProofArtifact
	status := postJSON(t, ts.URL+"/prove", `{"input_notes":["note-1"],"output_notes":["out-1"]}`, &artifact)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, artifact.Success)
	assert.Equal(t, privacy.ProofTypeSimulated, artifact.ProofType)
	assert.Len(t, artifact.Nullifiers, 1)

	status = postJSON(t, ts.URL+"/prove", `{"output_notes":["out-1"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, status, "input notes are required")

	status = postJSON(t, ts.URL+"/prove", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var artifact privacy.ProofArtifact
	status := postJSON(t, ts.URL+"/prove", `{"input_notes":["note-1"]}`, &artifact)
	require.Equal(t, http.StatusOK, status)

	body, err := json.Marshal(map[string]json.RawMessage{"proof_data": artifact.ProofData})
	require.NoError(t, err)

	var result map[string]bool
	status = postJSON(t, ts.URL+"/verify", string(body), &result)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, result["is_valid"])

	status = postJSON(t, ts.URL+"/verify", `{"proof_data":{}}`, &result)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, result["is_valid"])
}

func TestNoteEndpoint(t *testing.T) {
	st := newMemoryStore()
	ts := newTestServer(t, st)

	var note privacy.CompressedNote
	status := postJSON(t, ts.URL+"/note", `{"wallet_address":"wallet-a","token_mint":"mint-sol","token_symbol":"SOL","amount":100}`, &note)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "wallet-a", note.WalletAddress)
	assert.NotEmpty(t, note.MerkleTreeRoot, "state root autofilled when omitted")
	assert.False(t, note.IsDecoy)

	status = postJSON(t, ts.URL+"/note", `{"token_mint":"mint-sol"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status, "wallet_address is required")

	var listing struct {
		Wallet string                    `json:"wallet"`
		Notes  []*privacy.CompressedNote `json:"notes"`
	}
	status = getJSON(t, ts.URL+"/note?wallet=wallet-a", &listing)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, listing.Notes, 1)
	assert.Equal(t, note.NoteCommitment, listing.Notes[0].NoteCommitment)

	status = getJSON(t, ts.URL+"/note", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestNoteListWithoutStore(t *testing.T) {
	ts := newTestServer(t, nil)
	status := getJSON(t, ts.URL+"/note?wallet=wallet-a", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTransferEndpoint(t *testing.T) {
	st := newMemoryStore()
	ts := newTestServer(t, st)

	var bundle privacy.TransferBundle
	status := postJSON(t, ts.URL+"/transfer", `{"from":"wallet-a","to":"wallet-b","token_mint":"mint-sol","token_symbol":"SOL","amount":500,"input_notes":["note-1"]}`, &bundle)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, privacy.ProofTypeSimulated, bundle.ExecutionMode)
	require.NotNil(t, bundle.OutputNote)
	assert.GreaterOrEqual(t, len(bundle.DecoyNotes), 2)

	// Output note and decoys were persisted for the recipient.
	assert.Len(t, st.notes["wallet-b"], len(bundle.DecoyNotes)+1)

	status = postJSON(t, ts.URL+"/transfer", `{"from":"wallet-a","to":"wallet-b","amount":0,"input_notes":["n"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouteSegmentsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body struct {
		Segments []privacy.RouteSegment `json:"segments"`
	}
	status := postJSON(t, ts.URL+"/route-segments", `{"wallet_address":"wallet-a","input_token":"mint-in","output_token":"mint-out","amount":1000,"decoy_count":3}`, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Segments, 4)

	status = postJSON(t, ts.URL+"/route-segments", `{"wallet_address":"wallet-a","decoy_count":-1}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPrivacyScoreEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body map[string]int
	status := postJSON(t, ts.URL+"/privacy-score", `{"real_segments":1,"decoy_segments":2,"timing_entropy":1,"route_diversity":1}`, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 100, body["score"])
}

func TestSessionEndpoint(t *testing.T) {
	st := newMemoryStore()
	ts := newTestServer(t, st)

	var session privacy.ZkExecutionSession
	status := postJSON(t, ts.URL+"/session", `{"wallet_address":"wallet-a","jupiter_quote_id":"quote-1"}`, &session)
	assert.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, session.BatchID)
	assert.Equal(t, "quote-1", session.JupiterQuoteID)

	var fetched privacy.ZkExecutionSession
	status = getJSON(t, ts.URL+"/session?batch_id="+session.BatchID, &fetched)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.BatchID, fetched.BatchID)
	assert.Equal(t, session.StateRootSnapshot, fetched.StateRootSnapshot)

	status = getJSON(t, ts.URL+"/session?batch_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = getJSON(t, ts.URL+"/session", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, ts.URL+"/session", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, status, "wallet_address is required")
}

func TestAPIKeyMiddleware(t *testing.T) {
	svc := privacy.New(nil, privacy.Options{})
	handler := NewAPIKeyMiddleware("secret-key")(NewMux(svc, nil))
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set("X-API-Key", "wrong-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Del("X-API-Key")
	req.Header.Set("Authorization", "Bearer secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
