// Package server is the HTTP glue between route callers and the privacy
// core. It does request decoding, persistence of returned records, and
// metrics; all invariants live in the privacy package.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veil/privacy-service/logging"
	"veil/privacy-service/privacy"
)

type Config struct {
	Address        string
	MetricsAddress string
	APIKey         string
}

// Store is what the handlers persist through. A nil store means records are
// only returned to the caller.
type Store interface {
	SaveNote(ctx context.Context, note *privacy.CompressedNote) error
	NotesByWallet(ctx context.Context, walletAddress string) ([]*privacy.CompressedNote, error)
	SaveSession(ctx context.Context, session *privacy.ZkExecutionSession) error
	GetSession(ctx context.Context, batchID string) (*privacy.ZkExecutionSession, error)
}

type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func malformedBodyError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "malformed_body", Message: err.Error()}
}

func invalidRequestError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "invalid_request", Message: err.Error()}
}

func unexpectedError(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "unexpected_error", Message: err.Error()}
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"code":    e.Code,
		"message": e.Message,
	})
}

func (e *Error) send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	jsonBytes, err := e.MarshalJSON()
	if err != nil {
		jsonBytes = []byte(`{"code": "unexpected_error", "message": "failed to marshal error"}`)
	}
	if _, err := w.Write(jsonBytes); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func decodeBody(r *http.Request, v interface{}) *Error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return malformedBodyError(err)
	}
	return nil
}

type healthHandler struct{}

func (healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type capabilitiesHandler struct {
	svc *privacy.Service
}

func (h capabilitiesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot := h.svc.CheckCapabilities(r.Context())
	CapabilityChecksTotal.WithLabelValues(string(snapshot.Network)).Inc()
	writeJSON(w, http.StatusOK, snapshot)
}

type zkModeHandler struct {
	svc *privacy.Service
}

func (h zkModeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.GetZkModeCapabilities(r.Context()))
}

type simulationModeHandler struct {
	svc *privacy.Service
}

func (h simulationModeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"simulation": h.svc.IsSimulationMode(r.Context())})
}

type stateTreeHandler struct {
	svc *privacy.Service
}

func (h stateTreeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		invalidRequestError(fmt.Errorf("wallet parameter required")).send(w)
		return
	}
	if r.URL.Query().Get("resync") == "true" {
		h.svc.ResyncStateTree(wallet)
	}
	snapshot := h.svc.SyncStateTree(r.Context(), wallet)
	StateTreeSyncsTotal.WithLabelValues(syncSource(snapshot.IsRealData)).Inc()
	writeJSON(w, http.StatusOK, snapshot)
}

type proveHandler struct {
	svc *privacy.Service
}

func (h proveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req privacy.ProofRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		httpErr.send(w)
		return
	}

	start := time.Now()
	artifact, err := h.svc.GenerateProof(r.Context(), req)
	if err != nil {
		invalidRequestError(err).send(w)
		return
	}

	ProofRequestsTotal.WithLabelValues(string(artifact.ProofType)).Inc()
	ProofGenerationDuration.WithLabelValues(string(artifact.ProofType)).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, artifact)
}

type verifyHandler struct {
	svc *privacy.Service
}

func (h verifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProofData json.RawMessage `json:"proof_data"`
	}
	if httpErr := decodeBody(r, &req); httpErr != nil {
		httpErr.send(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"is_valid": h.svc.VerifyProof(req.ProofData)})
}

type noteHandler struct {
	svc   *privacy.Service
	store Store
}

type createNoteRequest struct {
	WalletAddress string `json:"wallet_address"`
	TokenMint     string `json:"token_mint"`
	TokenSymbol   string `json:"token_symbol"`
	Amount        uint64 `json:"amount"`
	StateRoot     string `json:"state_root"`
	IsDecoy       bool   `json:"is_decoy"`
}

func (h noteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h noteHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		httpErr.send(w)
		return
	}
	if req.WalletAddress == "" {
		invalidRequestError(fmt.Errorf("wallet_address required")).send(w)
		return
	}

	stateRoot := req.StateRoot
	if stateRoot == "" {
		stateRoot = h.svc.SyncStateTree(r.Context(), req.WalletAddress).Root
	}

	note, err := h.svc.CreateCompressedNote(req.WalletAddress, req.TokenMint, req.TokenSymbol, req.Amount, stateRoot, req.IsDecoy)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	NotesCreatedTotal.WithLabelValues(noteKind(note.IsDecoy)).Inc()

	if h.store != nil {
		if err := h.store.SaveNote(r.Context(), note); err != nil {
			logging.Logger().Error().Err(err).Msg("failed to persist note")
		}
	}

	writeJSON(w, http.StatusCreated, note)
}

func (h noteHandler) list(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		invalidRequestError(fmt.Errorf("no note store configured")).send(w)
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		invalidRequestError(fmt.Errorf("wallet parameter required")).send(w)
		return
	}
	notes, err := h.store.NotesByWallet(r.Context(), wallet)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wallet": wallet, "notes": notes})
}

type transferHandler struct {
	svc   *privacy.Service
	store Store
}

func (h transferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var params privacy.TransferParams
	if httpErr := decodeBody(r, &params); httpErr != nil {
		httpErr.send(w)
		return
	}

	start := time.Now()
	bundle, err := h.svc.PrepareCompressedTransfer(r.Context(), params)
	if err != nil {
		invalidRequestError(err).send(w)
		return
	}

	TransfersPreparedTotal.WithLabelValues(string(bundle.ExecutionMode)).Inc()
	ProofGenerationDuration.WithLabelValues(string(bundle.ExecutionMode)).Observe(time.Since(start).Seconds())

	if h.store != nil {
		h.persistBundle(r.Context(), bundle)
	}

	writeJSON(w, http.StatusOK, bundle)
}

func (h transferHandler) persistBundle(ctx context.Context, bundle *privacy.TransferBundle) {
	if err := h.store.SaveNote(ctx, bundle.OutputNote); err != nil {
		logging.Logger().Error().Err(err).Msg("failed to persist output note")
	}
	for _, decoy := range bundle.DecoyNotes {
		if err := h.store.SaveNote(ctx, decoy); err != nil {
			logging.Logger().Error().Err(err).Msg("failed to persist decoy note")
		}
	}
}

type routeSegmentsHandler struct {
	svc *privacy.Service
}

type routeSegmentsRequest struct {
	WalletAddress string `json:"wallet_address"`
	InputToken    string `json:"input_token"`
	OutputToken   string `json:"output_token"`
	Amount        uint64 `json:"amount"`
	DecoyCount    int    `json:"decoy_count"`
	StateRoot     string `json:"state_root"`
}

func (h routeSegmentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req routeSegmentsRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		httpErr.send(w)
		return
	}

	stateRoot := req.StateRoot
	if stateRoot == "" {
		stateRoot = h.svc.SyncStateTree(r.Context(), req.WalletAddress).Root
	}

	segments, err := h.svc.GenerateRouteSegments(req.WalletAddress, req.InputToken, req.OutputToken, req.Amount, req.DecoyCount, stateRoot)
	if err != nil {
		invalidRequestError(err).send(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"segments": segments})
}

type privacyScoreHandler struct {
	svc *privacy.Service
}

type privacyScoreRequest struct {
	RealSegments   int     `json:"real_segments"`
	DecoySegments  int     `json:"decoy_segments"`
	TimingEntropy  float64 `json:"timing_entropy"`
	RouteDiversity float64 `json:"route_diversity"`
}

func (h privacyScoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req privacyScoreRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		httpErr.send(w)
		return
	}

	score := h.svc.CalculatePrivacyScore(req.RealSegments, req.DecoySegments, req.TimingEntropy, req.RouteDiversity)
	writeJSON(w, http.StatusOK, map[string]int{"score": score})
}

type sessionHandler struct {
	svc   *privacy.Service
	store Store
}

type createSessionRequest struct {
	WalletAddress  string `json:"wallet_address"`
	BatchID        string `json:"batch_id"`
	JupiterQuoteID string `json:"jupiter_quote_id"`
}

func (h sessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.get(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if httpErr := decodeBody(r, &req); httpErr != nil {
		httpErr.send(w)
		return
	}
	if req.WalletAddress == "" {
		invalidRequestError(fmt.Errorf("wallet_address required")).send(w)
		return
	}

	session := h.svc.CreateZkExecutionSession(r.Context(), req.WalletAddress, req.BatchID, req.JupiterQuoteID)

	if h.store != nil {
		if err := h.store.SaveSession(r.Context(), &session); err != nil {
			logging.Logger().Error().Err(err).Msg("failed to persist session")
		}
	}

	writeJSON(w, http.StatusCreated, session)
}

func (h sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		invalidRequestError(fmt.Errorf("no session store configured")).send(w)
		return
	}
	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		invalidRequestError(fmt.Errorf("batch_id parameter required")).send(w)
		return
	}
	session, err := h.store.GetSession(r.Context(), batchID)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	if session == nil {
		notFound := &Error{
			StatusCode: http.StatusNotFound,
			Code:       "session_not_found",
			Message:    fmt.Sprintf("Session %s not found. It may have expired or never existed.", batchID),
		}
		notFound.send(w)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// NewMux wires all handlers. Split out of Run so tests can drive the routes
// through httptest without listeners.
func NewMux(svc *privacy.Service, st Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler{})
	mux.Handle("/capabilities", capabilitiesHandler{svc: svc})
	mux.Handle("/zk-mode", zkModeHandler{svc: svc})
	mux.Handle("/simulation-mode", simulationModeHandler{svc: svc})
	mux.Handle("/state-tree", stateTreeHandler{svc: svc})
	mux.Handle("/prove", proveHandler{svc: svc})
	mux.Handle("/verify", verifyHandler{svc: svc})
	mux.Handle("/note", noteHandler{svc: svc, store: st})
	mux.Handle("/transfer", transferHandler{svc: svc, store: st})
	mux.Handle("/route-segments", routeSegmentsHandler{svc: svc})
	mux.Handle("/privacy-score", privacyScoreHandler{svc: svc})
	mux.Handle("/session", sessionHandler{svc: svc, store: st})
	return mux
}

func Run(config *Config, svc *privacy.Service, st Store) RunningJob {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: config.MetricsAddress, Handler: metricsMux}
	metricsJob := spawnServerJob(metricsServer, "metrics server")
	logging.Logger().Info().Str("addr", config.MetricsAddress).Msg("metrics server started")

	mux := NewMux(svc, st)

	corsHandler := handlers.CORS(
		handlers.AllowedHeaders([]string{
			"X-Requested-With",
			"Content-Type",
			"Authorization",
			"X-API-Key",
		}),
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
	)

	var handler http.Handler = mux
	if config.APIKey != "" {
		handler = NewAPIKeyMiddleware(config.APIKey)(handler)
	}
	handler = corsHandler(handler)

	apiServer := &http.Server{Addr: config.Address, Handler: handler}
	apiJob := spawnServerJob(apiServer, "privacy API server")

	logging.Logger().Info().
		Str("addr", config.Address).
		Bool("store_enabled", st != nil).
		Bool("auth_enabled", config.APIKey != "").
		Msg("privacy API server started")

	return CombineJobs(metricsJob, apiJob)
}

func spawnServerJob(server *http.Server, label string) RunningJob {
	start := func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("%s failed: %s", label, err))
		}
	}
	shutdown := func() {
		logging.Logger().Info().Msgf("shutting down %s", label)
		if err := server.Shutdown(context.Background()); err != nil {
			logging.Logger().Error().Err(err).Msgf("error when shutting down %s", label)
		}
		logging.Logger().Info().Msgf("%s shut down", label)
	}
	return SpawnJob(start, shutdown)
}
