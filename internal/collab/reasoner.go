package collab

import (
	"context"
	"fmt"

	"github.com/tro-protocol/coordinator/pkg/logger"
)

// ReasonerClient dispatches inference work to a node's reasoning engine over
// HTTP. The engine blocks until it has an answer, so callers bound the call
// with the context deadline.
type ReasonerClient struct {
	http *httpClient
}

// NewReasonerClient creates a reasoning engine client.
func NewReasonerClient(cfg ClientConfig, log *logger.Logger) *ReasonerClient {
	return &ReasonerClient{http: newHTTPClient(cfg, log.With("collaborator", "reasoner"))}
}

// Infer runs the intent on the node's engine and returns the output hash
// with the engine's self-reported confidence.
func (c *ReasonerClient) Infer(ctx context.Context, taskID uint64, node, intent string) (InferenceResult, error) {
	req := struct {
		TaskID uint64 `json:"task_id"`
		Node   string `json:"node_id"`
		Intent string `json:"intent"`
	}{TaskID: taskID, Node: node, Intent: intent}

	var resp InferenceResult
	if err := c.http.postJSON(ctx, "/v1/infer", req, &resp); err != nil {
		return InferenceResult{}, err
	}
	if resp.OutputRef == "" {
		return InferenceResult{}, fmt.Errorf("reasoner returned empty output hash for task %d node %s", taskID, node)
	}
	if resp.Node == "" {
		resp.Node = node
	}
	if resp.ConfidenceBps > 10000 {
		resp.ConfidenceBps = 10000
	}
	return resp, nil
}
