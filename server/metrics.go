package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProofRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_proof_requests_total",
			Help: "Total number of proof generation requests by resulting proof type",
		},
		[]string{"proof_type"},
	)

	ProofGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "privacy_proof_generation_duration_seconds",
			Help:    "Duration of proof generation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"proof_type"},
	)

	StateTreeSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_state_tree_syncs_total",
			Help: "Total number of state tree sync requests by data source",
		},
		[]string{"source"},
	)

	CapabilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_capability_checks_total",
			Help: "Total number of capability check requests by detected network",
		},
		[]string{"network"},
	)

	NotesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_notes_created_total",
			Help: "Total number of compressed notes created",
		},
		[]string{"kind"},
	)

	TransfersPreparedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_transfers_prepared_total",
			Help: "Total number of compressed transfers prepared by execution mode",
		},
		[]string{"execution_mode"},
	)
)

func noteKind(isDecoy bool) string {
	if isDecoy {
		return "decoy"
	}
	return "real"
}

func syncSource(isRealData bool) string {
	if isRealData {
		return "real"
	}
	return "simulated"
}
