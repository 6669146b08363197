package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
)

// Basis point denominator used for every ratio in the system.
const BpsDenominator = 10_000

// Bounds shared by validation paths.
const (
	IntentMaxLen       = 512
	ReasonMaxLen       = 256
	MaxComplexity      = 1000
	MinChallengeWindow = 30 * time.Minute
	MaxChallengeWindow = 7 * 24 * time.Hour
)

// VerificationWeights are the per-workflow aggregation weights, in bps.
// Consensus weight only applies to consensus-guarded workflows.
type VerificationWeights struct {
	SemanticBps  uint32 `json:"semantic_bps"`
	FactBps      uint32 `json:"fact_bps"`
	GraphBps     uint32 `json:"graph_bps"`
	ConsensusBps uint32 `json:"consensus_bps"`
}

// Params collects every tunable of the coordinator.
type Params struct {
	// Capability stake floors, in base units.
	StakeFloorLocal7B  math.Int `json:"stake_floor_local_7b"`
	StakeFloorLocal13B math.Int `json:"stake_floor_local_13b"`
	StakeFloorLocal70B math.Int `json:"stake_floor_local_70b"`
	StakeFloorCloudAPI math.Int `json:"stake_floor_cloud_api"`

	// Reputation update magnitudes, in bps, per outcome.
	ReputationGainSuccess     uint32 `json:"reputation_gain_success"`
	ReputationLossFailure     uint32 `json:"reputation_loss_failure"`
	ReputationGainChallenge   uint32 `json:"reputation_gain_challenge"`
	ReputationLossChallenge   uint32 `json:"reputation_loss_challenge"`
	InitialReputationBps      uint32 `json:"initial_reputation_bps"`
	SuspensionFailureStreak   uint32 `json:"suspension_failure_streak"`
	HighPerfThresholdBps      uint32 `json:"high_perf_threshold_bps"`
	LowPerfThresholdBps       uint32 `json:"low_perf_threshold_bps"`
	HighPerfMultiplierBps     uint32 `json:"high_perf_multiplier_bps"`
	LowPerfPenaltyBps         uint32 `json:"low_perf_penalty_bps"`
	BaseRewardRateBps         uint32 `json:"base_reward_rate_bps"`
	BenchmarkPassBps          uint32 `json:"benchmark_pass_bps"`

	// Verification.
	PassThresholdBps   uint32                                `json:"pass_threshold_bps"`
	Weights            map[WorkflowClass]VerificationWeights `json:"weights"`
	CacheSimilarityBps uint32                                `json:"cache_similarity_bps"`

	// Dispute.
	ChallengeBondBps uint32        `json:"challenge_bond_bps"` // fraction of the stake pool
	VotingPeriod     time.Duration `json:"voting_period"`
	VoteQuorum       uint32        `json:"vote_quorum"`
	DisputeSlashBps  uint32        `json:"dispute_slash_bps"` // fraction of each defender's locked task stake

	// Lifecycle deadlines.
	ReasoningTimeout    time.Duration `json:"reasoning_timeout"`
	VerificationTimeout time.Duration `json:"verification_timeout"`
	ProofTimeout        time.Duration `json:"proof_timeout"`
	ExitCooldown        time.Duration `json:"exit_cooldown"`

	// Cancellation processing fee, absolute.
	ProcessingFee math.Int `json:"processing_fee"`

	// External dependency retry policy for transient collaborator classes.
	CollaboratorRetries int           `json:"collaborator_retries"`
	CollaboratorBackoff time.Duration `json:"collaborator_backoff"`
}

// DefaultParams returns the coordinator defaults.
func DefaultParams() Params {
	return Params{
		StakeFloorLocal7B:  math.NewInt(1_000_000),
		StakeFloorLocal13B: math.NewInt(2_000_000),
		StakeFloorLocal70B: math.NewInt(5_000_000),
		StakeFloorCloudAPI: math.NewInt(10_000_000),

		ReputationGainSuccess:   400,
		ReputationLossFailure:   700,
		ReputationGainChallenge: 600,
		ReputationLossChallenge: 1500,
		InitialReputationBps:    5000,
		SuspensionFailureStreak: 3,
		HighPerfThresholdBps:    8000,
		LowPerfThresholdBps:     4000,
		HighPerfMultiplierBps:   12_000,
		LowPerfPenaltyBps:       8000,
		BaseRewardRateBps:       10_000,
		BenchmarkPassBps:        5000,

		PassThresholdBps: 7000,
		Weights: map[WorkflowClass]VerificationWeights{
			WorkflowClass_FAST_REALTIME:     {SemanticBps: 3000, FactBps: 4000, GraphBps: 3000},
			WorkflowClass_BALANCED:          {SemanticBps: 3000, FactBps: 4000, GraphBps: 3000},
			WorkflowClass_DEEP_REASONING:    {SemanticBps: 2500, FactBps: 4500, GraphBps: 3000},
			WorkflowClass_CONSENSUS_GUARDED: {SemanticBps: 2500, FactBps: 3500, GraphBps: 2500, ConsensusBps: 1500},
		},
		CacheSimilarityBps: 9200,

		ChallengeBondBps: 2000,
		VotingPeriod:     24 * time.Hour,
		VoteQuorum:       3,
		DisputeSlashBps:  2000,

		ReasoningTimeout:    10 * time.Minute,
		VerificationTimeout: 5 * time.Minute,
		ProofTimeout:        30 * time.Minute,
		ExitCooldown:        72 * time.Hour,

		ProcessingFee: math.NewInt(10_000),

		CollaboratorRetries: 3,
		CollaboratorBackoff: 2 * time.Second,
	}
}

// StakeFloor returns the minimum stake for a capability class.
func (p Params) StakeFloor(c CapabilityClass) math.Int {
	switch c {
	case CapabilityClass_LOCAL_7B:
		return p.StakeFloorLocal7B
	case CapabilityClass_LOCAL_13B:
		return p.StakeFloorLocal13B
	case CapabilityClass_LOCAL_70B:
		return p.StakeFloorLocal70B
	case CapabilityClass_CLOUD_API:
		return p.StakeFloorCloudAPI
	default:
		return p.StakeFloorCloudAPI
	}
}

// RequiredNodes returns the reasoning set size for a workflow class.
func (p Params) RequiredNodes(w WorkflowClass) int {
	switch w {
	case WorkflowClass_FAST_REALTIME:
		return 1
	case WorkflowClass_BALANCED, WorkflowClass_DEEP_REASONING:
		return 2
	case WorkflowClass_CONSENSUS_GUARDED:
		return 3
	default:
		return 1
	}
}

// SubmissionQuorum returns the minimum submissions needed to enter verification.
func (p Params) SubmissionQuorum(w WorkflowClass) int {
	switch w {
	case WorkflowClass_FAST_REALTIME:
		return 1
	case WorkflowClass_BALANCED, WorkflowClass_DEEP_REASONING:
		return 1
	case WorkflowClass_CONSENSUS_GUARDED:
		return 2
	default:
		return 1
	}
}

// Validate checks parameter sanity.
func (p Params) Validate() error {
	for _, floor := range []math.Int{p.StakeFloorLocal7B, p.StakeFloorLocal13B, p.StakeFloorLocal70B, p.StakeFloorCloudAPI} {
		if floor.IsNil() || !floor.IsPositive() {
			return fmt.Errorf("stake floors must be positive")
		}
	}
	if p.PassThresholdBps > BpsDenominator {
		return fmt.Errorf("pass threshold %d exceeds bps denominator", p.PassThresholdBps)
	}
	if p.InitialReputationBps > BpsDenominator {
		return fmt.Errorf("initial reputation %d exceeds bps denominator", p.InitialReputationBps)
	}
	if p.ChallengeBondBps == 0 || p.ChallengeBondBps > BpsDenominator {
		return fmt.Errorf("challenge bond bps %d outside (0, %d]", p.ChallengeBondBps, BpsDenominator)
	}
	if p.DisputeSlashBps == 0 || p.DisputeSlashBps > BpsDenominator {
		return fmt.Errorf("dispute slash bps %d outside (0, %d]", p.DisputeSlashBps, BpsDenominator)
	}
	for w, weights := range p.Weights {
		sum := weights.SemanticBps + weights.FactBps + weights.GraphBps + weights.ConsensusBps
		if sum != BpsDenominator {
			return fmt.Errorf("verification weights for %s sum to %d, want %d", w, sum, BpsDenominator)
		}
	}
	if p.VotingPeriod <= 0 || p.ReasoningTimeout <= 0 || p.VerificationTimeout <= 0 || p.ProofTimeout <= 0 {
		return fmt.Errorf("lifecycle deadlines must be positive")
	}
	if p.ProcessingFee.IsNil() || p.ProcessingFee.IsNegative() {
		return fmt.Errorf("processing fee must be non-negative")
	}
	return nil
}
