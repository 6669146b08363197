// Package collab defines the narrow interfaces through which the coordinator
// consumes its external collaborators: reasoning engines, the semantic cache,
// scoring services, the proof backend, and content-addressed storage. The
// coordinator never sees their internals, only scores, hashes, and statuses.
package collab

import (
	"context"

	"github.com/tro-protocol/coordinator/internal/types"
)

// InferenceResult is the reasoning collaborator's answer for one node.
type InferenceResult struct {
	Node          string `json:"node_id"`
	OutputRef     string `json:"output_hash"`
	ConfidenceBps uint32 `json:"confidence_bps"`
	LatencyMs     uint64 `json:"latency_ms"`
}

// Reasoner produces an output for an assigned node. Implementations may block
// until the engine answers; callers bound the call with the context deadline.
type Reasoner interface {
	Infer(ctx context.Context, taskID uint64, node, intent string) (InferenceResult, error)
}

// CacheHit is a semantic cache lookup result above the similarity threshold.
type CacheHit struct {
	OutputRef     string `json:"output_hash"`
	SimilarityBps uint32 `json:"similarity_bps"`
}

// SemanticCache answers fingerprint lookups and accepts store-backs of
// verified outputs. Lookup returns (nil, nil) on a miss.
type SemanticCache interface {
	Lookup(ctx context.Context, fingerprint string) (*CacheHit, error)
	Store(ctx context.Context, fingerprint, outputRef string) error
}

// Scorer exposes the three external verification scores, each 0-10000 bps.
type Scorer interface {
	SemanticScore(ctx context.Context, a, b string) (uint32, error)
	FactCheck(ctx context.Context, outputRef string, sources []string) (uint32, error)
	GraphConsistency(ctx context.Context, outputRef string) (uint32, error)
}

// Prover requests zero-knowledge proofs and reports their status.
type Prover interface {
	RequestProof(ctx context.Context, taskID uint64, traceHash string, policy types.ProofPolicy) (string, error)
	ProofStatus(ctx context.Context, proofID string) (types.ProofStatus, error)
}

// ContentStore is content-addressed blob storage.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}
