package collab

import (
	"context"
	"fmt"

	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

// ProofClient talks to the zero-knowledge proof backend over HTTP. Proof
// generation is asynchronous: RequestProof enqueues and returns a proof ID,
// and the backend later reports VERIFIED or FAILED through the coordinator's
// proof callback, with ProofStatus available for polling.
type ProofClient struct {
	http *httpClient
}

// NewProofClient creates a proof backend client.
func NewProofClient(cfg ClientConfig, log *logger.Logger) *ProofClient {
	return &ProofClient{http: newHTTPClient(cfg, log.With("collaborator", "proof"))}
}

// RequestProof asks the backend to prove the accepted trace under the task's
// proof policy.
func (c *ProofClient) RequestProof(ctx context.Context, taskID uint64, traceHash string, policy types.ProofPolicy) (string, error) {
	req := struct {
		TaskID           uint64 `json:"task_id"`
		TraceHash        string `json:"trace_hash"`
		RequiresZK       bool   `json:"requires_zk"`
		RequiresAttested bool   `json:"requires_attested"`
	}{
		TaskID:           taskID,
		TraceHash:        traceHash,
		RequiresZK:       policy.RequiresZK,
		RequiresAttested: policy.RequiresAttested,
	}

	var resp struct {
		ProofID string `json:"proof_id"`
	}
	if err := c.http.postJSON(ctx, "/v1/proofs", req, &resp); err != nil {
		return "", err
	}
	if resp.ProofID == "" {
		return "", fmt.Errorf("proof backend returned empty proof id for task %d", taskID)
	}
	return resp.ProofID, nil
}

// ProofStatus polls the backend for a proof's current status.
func (c *ProofClient) ProofStatus(ctx context.Context, proofID string) (types.ProofStatus, error) {
	req := struct {
		ProofID string `json:"proof_id"`
	}{ProofID: proofID}

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.http.postJSON(ctx, "/v1/proofs/status", req, &resp); err != nil {
		return types.ProofStatus_PENDING, err
	}

	switch resp.Status {
	case "pending":
		return types.ProofStatus_PENDING, nil
	case "generating":
		return types.ProofStatus_GENERATING, nil
	case "verified":
		return types.ProofStatus_VERIFIED, nil
	case "failed":
		return types.ProofStatus_FAILED, nil
	default:
		return types.ProofStatus_PENDING, fmt.Errorf("unknown proof status %q", resp.Status)
	}
}
