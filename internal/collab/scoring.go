package collab

import (
	"context"
	"fmt"

	"github.com/tro-protocol/coordinator/pkg/logger"
)

// ScoringClient talks to the verification scoring service over HTTP. Each
// score endpoint returns a basis-point value in [0, 10000].
type ScoringClient struct {
	http *httpClient
}

// NewScoringClient creates a scoring service client.
func NewScoringClient(cfg ClientConfig, log *logger.Logger) *ScoringClient {
	return &ScoringClient{http: newHTTPClient(cfg, log.With("collaborator", "scoring"))}
}

type scoreResponse struct {
	ScoreBps uint32 `json:"score_bps"`
}

// SemanticScore returns the embedding similarity between two output refs.
func (c *ScoringClient) SemanticScore(ctx context.Context, a, b string) (uint32, error) {
	req := struct {
		HashA string `json:"hash_a"`
		HashB string `json:"hash_b"`
	}{HashA: a, HashB: b}

	var resp scoreResponse
	if err := c.http.postJSON(ctx, "/v1/score/semantic", req, &resp); err != nil {
		return 0, err
	}
	return clampBps(resp.ScoreBps)
}

// FactCheck returns the fact-verification score for an output against its
// cited sources.
func (c *ScoringClient) FactCheck(ctx context.Context, outputRef string, sources []string) (uint32, error) {
	req := struct {
		Hash    string   `json:"hash"`
		Sources []string `json:"sources"`
	}{Hash: outputRef, Sources: sources}

	var resp scoreResponse
	if err := c.http.postJSON(ctx, "/v1/score/facts", req, &resp); err != nil {
		return 0, err
	}
	return clampBps(resp.ScoreBps)
}

// GraphConsistency returns the knowledge-graph consistency score for an
// output.
func (c *ScoringClient) GraphConsistency(ctx context.Context, outputRef string) (uint32, error) {
	req := struct {
		Hash string `json:"hash"`
	}{Hash: outputRef}

	var resp scoreResponse
	if err := c.http.postJSON(ctx, "/v1/score/graph", req, &resp); err != nil {
		return 0, err
	}
	return clampBps(resp.ScoreBps)
}

func clampBps(v uint32) (uint32, error) {
	if v > 10000 {
		return 0, fmt.Errorf("score %d out of basis-point range", v)
	}
	return v, nil
}
