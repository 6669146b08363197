package api

import (
	"fmt"
	"strings"

	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

// ErrorResponse is the JSON error envelope for every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      uint32 `json:"code,omitempty"`
	Codespace string `json:"codespace,omitempty"`
	Details   string `json:"details,omitempty"`
}

// SubmitTaskRequest carries the submit-task command.
type SubmitTaskRequest struct {
	Submitter          string `json:"submitter" binding:"required"`
	Intent             string `json:"intent" binding:"required"`
	Type               string `json:"type"`
	Workflow           string `json:"workflow"`
	Criticality        string `json:"criticality"`
	StakePool          string `json:"stake_pool" binding:"required"`
	MinNodeStake       string `json:"min_node_stake"`
	ChallengeWindowSec int64  `json:"challenge_window_sec"`
}

// RegisterNodeRequest carries the register-node command.
type RegisterNodeRequest struct {
	Owner      string `json:"owner" binding:"required"`
	Capability string `json:"capability" binding:"required"`
	Stake      string `json:"stake" binding:"required"`
}

// BenchmarkRequest carries a node's benchmark result.
type BenchmarkRequest struct {
	ScoreBps uint32 `json:"score_bps"`
}

// AckRequest carries the acknowledge-task command.
type AckRequest struct {
	Node string `json:"node" binding:"required"`
}

// OutputRequest carries the submit-output command.
type OutputRequest struct {
	Node          string `json:"node" binding:"required"`
	OutputHash    string `json:"output_hash" binding:"required"`
	ConfidenceBps uint32 `json:"confidence_bps"`
	LatencyMs     uint64 `json:"latency_ms"`
}

// VerificationRequest carries externally computed verification scores.
type VerificationRequest struct {
	SemanticBps uint32 `json:"semantic_bps"`
	FactBps     uint32 `json:"fact_bps"`
	GraphBps    uint32 `json:"graph_bps"`
}

// ProofResultRequest is the proof backend's completion callback.
type ProofResultRequest struct {
	ProofID string `json:"proof_id" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

// ChallengeRequest carries the open-challenge command.
type ChallengeRequest struct {
	Challenger    string `json:"challenger" binding:"required"`
	Bond          string `json:"bond" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
	EvidenceHash  string `json:"evidence_hash"`
	CounterResult string `json:"counter_result_hash"`
}

// VoteRequest carries the cast-vote command.
type VoteRequest struct {
	Voter   string `json:"voter" binding:"required"`
	Support bool   `json:"support"`
}

// AmountRequest carries a single stake amount.
type AmountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// CancelRequest carries the cancel-task command.
type CancelRequest struct {
	Actor string `json:"actor" binding:"required"`
}

func parseAmount(s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseTaskType(s string) (types.TaskType, error) {
	switch strings.ToLower(s) {
	case "", "simple_qa":
		return types.TaskType_SIMPLE_QA, nil
	case "complex_reasoning":
		return types.TaskType_COMPLEX_REASONING, nil
	case "multi_step":
		return types.TaskType_MULTI_STEP, nil
	case "data_analysis":
		return types.TaskType_DATA_ANALYSIS, nil
	default:
		return 0, fmt.Errorf("unknown task type %q", s)
	}
}

func parseWorkflow(s string) (types.WorkflowClass, error) {
	switch strings.ToLower(s) {
	case "", "fast_realtime":
		return types.WorkflowClass_FAST_REALTIME, nil
	case "balanced":
		return types.WorkflowClass_BALANCED, nil
	case "deep_reasoning":
		return types.WorkflowClass_DEEP_REASONING, nil
	case "consensus_guarded":
		return types.WorkflowClass_CONSENSUS_GUARDED, nil
	default:
		return 0, fmt.Errorf("unknown workflow class %q", s)
	}
}

func parseCriticality(s string) (types.Criticality, error) {
	switch strings.ToLower(s) {
	case "", "low":
		return types.Criticality_LOW, nil
	case "standard":
		return types.Criticality_STANDARD, nil
	case "high":
		return types.Criticality_HIGH, nil
	case "mission_critical":
		return types.Criticality_MISSION_CRITICAL, nil
	default:
		return 0, fmt.Errorf("unknown criticality %q", s)
	}
}

func parseCapability(s string) (types.CapabilityClass, error) {
	switch strings.ToLower(s) {
	case "local_7b":
		return types.CapabilityClass_LOCAL_7B, nil
	case "local_13b":
		return types.CapabilityClass_LOCAL_13B, nil
	case "local_70b":
		return types.CapabilityClass_LOCAL_70B, nil
	case "cloud_api":
		return types.CapabilityClass_CLOUD_API, nil
	default:
		return 0, fmt.Errorf("unknown capability class %q", s)
	}
}

func parseProofStatus(s string) (types.ProofStatus, error) {
	switch strings.ToLower(s) {
	case "verified":
		return types.ProofStatus_VERIFIED, nil
	case "failed":
		return types.ProofStatus_FAILED, nil
	case "pending":
		return types.ProofStatus_PENDING, nil
	case "generating":
		return types.ProofStatus_GENERATING, nil
	default:
		return 0, fmt.Errorf("unknown proof status %q", s)
	}
}
