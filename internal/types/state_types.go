package types

import (
	"time"

	"cosmossdk.io/math"
)

// ProofPolicy describes what evidence a task's result must carry before it can
// leave verification. Derived from criticality at creation and immutable after.
type ProofPolicy struct {
	RequiresZK       bool  `json:"requires_zk"`
	RequiresAttested bool  `json:"requires_attested"`
	MinVerifiers     uint8 `json:"min_verifiers"`
}

// Task is the persisted record driven through the lifecycle state machine.
type Task struct {
	ID            uint64        `json:"id"`
	Submitter     string        `json:"submitter"`
	Intent        string        `json:"intent"`
	Type          TaskType      `json:"type"`
	Workflow      WorkflowClass `json:"workflow"`
	Criticality   Criticality   `json:"criticality"`
	Complexity    uint16        `json:"complexity"` // 0-1000, fixed at submission
	StakePool     math.Int      `json:"stake_pool"`
	MinNodeStake  math.Int      `json:"min_node_stake"`
	Status        TaskStatus    `json:"status"`
	RequiresProof bool          `json:"requires_proof"`
	ProofPolicy   ProofPolicy   `json:"proof_policy"`

	// Assignment bookkeeping. AssignedNodes is the ordered reasoning set;
	// AckedNodes the subset that acknowledged the assignment.
	AssignedNodes []string `json:"assigned_nodes,omitempty"`
	AckedNodes    []string `json:"acked_nodes,omitempty"`

	VerificationScore uint32 `json:"verification_score"` // bps, 0 until verified
	CacheHit          bool   `json:"cache_hit"`
	Fingerprint       string `json:"fingerprint,omitempty"` // semantic cache key for the intent
	CachedRef         string `json:"cached_ref,omitempty"`  // cache-supplied output awaiting verification
	ResultRef         string `json:"result_ref,omitempty"` // content hash of accepted output
	ResultNode        string `json:"result_node,omitempty"`
	RejectedNodes     []string `json:"rejected_nodes,omitempty"` // outputs rejected by verification

	ProofID string `json:"proof_id,omitempty"`

	OpenChallengeID    uint64    `json:"open_challenge_id,omitempty"`
	DisputeCount       uint8     `json:"dispute_count"`
	ChallengeWindow    int64     `json:"challenge_window_secs"`
	ChallengePeriodEnd time.Time `json:"challenge_period_end"`

	// Reversed marks a finalized task whose result was overturned by dispute.
	Reversed bool `json:"reversed,omitempty"`

	// Flow accounting against the stake pool. Conservation requires
	// PaidOut + Returned + FeeCharged == StakePool + BondTopUp once settled.
	FeeCharged math.Int `json:"fee_charged"`
	PaidOut    math.Int `json:"paid_out"`
	Returned   math.Int `json:"returned"`
	BondTopUp  math.Int `json:"bond_top_up"`
	Settled    bool     `json:"settled"`
	Archived   bool     `json:"archived"`

	// Halted marks a conservation violation; every further mutation is refused
	// until manual intervention clears the flag.
	Halted bool `json:"halted,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskOutput is one node's submitted output for a task, keyed (task, node).
type TaskOutput struct {
	TaskID        uint64    `json:"task_id"`
	Node          string    `json:"node"`
	OutputRef     string    `json:"output_ref"` // content hash
	ConfidenceBps uint32    `json:"confidence_bps"`
	CacheHit      bool      `json:"cache_hit"`
	LatencyMs     uint64    `json:"latency_ms"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// ReasoningNode is a registered compute participant.
type ReasoningNode struct {
	Owner            string          `json:"owner"`
	Capability       CapabilityClass `json:"capability"`
	Status           NodeStatus      `json:"status"`
	StakeAmount      math.Int        `json:"stake_amount"` // free + locked in the ledger
	DynamicMinStake  math.Int        `json:"dynamic_min_stake"`
	ReputationBps    uint32          `json:"reputation_bps"`
	MultiplierBps    uint32          `json:"multiplier_bps"`
	BenchmarkBps     uint32          `json:"benchmark_bps"`
	TotalTasks       uint64          `json:"total_tasks"`
	SuccessfulTasks  uint64          `json:"successful_tasks"`
	ConsecutiveFails uint32          `json:"consecutive_fails"`
	PendingRewards   math.Int        `json:"pending_rewards"`
	ExitRequestedAt  *time.Time      `json:"exit_requested_at,omitempty"`
	RegisteredAt     time.Time       `json:"registered_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Challenge is a bonded dispute against a task in its challenge window.
type Challenge struct {
	ID               uint64            `json:"id"`
	TaskID           uint64            `json:"task_id"`
	Challenger       string            `json:"challenger"`
	Bond             math.Int          `json:"bond"`
	Reason           string            `json:"reason"`
	EvidenceRef      string            `json:"evidence_ref,omitempty"`
	CounterResultRef string            `json:"counter_result_ref,omitempty"`
	Status           ChallengeStatus   `json:"status"`
	Outcome          ResolutionOutcome `json:"outcome"`
	OutcomeReason    string            `json:"outcome_reason,omitempty"`
	VotesFor         uint32            `json:"votes_for"`
	VotesAgainst     uint32            `json:"votes_against"`
	Voters           map[string]bool   `json:"voters,omitempty"`
	VotingDeadline   time.Time         `json:"voting_deadline"`
	CreatedAt        time.Time         `json:"created_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// StakeAccount is one owner's ledger entry. Free moves on deposit/withdraw,
// Locked on lock/release; slash may take from either but never goes negative.
type StakeAccount struct {
	Owner  string   `json:"owner"`
	Free   math.Int `json:"free"`
	Locked math.Int `json:"locked"`
}

// Total returns free plus locked balance.
func (a StakeAccount) Total() math.Int {
	return a.Free.Add(a.Locked)
}

// SlashRecord is the immutable record of one slashing event.
type SlashRecord struct {
	ID          uint64    `json:"id"`
	Owner       string    `json:"owner"`
	TaskID      uint64    `json:"task_id,omitempty"`
	ChallengeID uint64    `json:"challenge_id,omitempty"`
	Amount      math.Int  `json:"amount"`
	Beneficiary string    `json:"beneficiary"`
	Reason      string    `json:"reason"`
	SlashedAt   time.Time `json:"slashed_at"`
}

// SettlementBatch groups the finalized tasks settled in one epoch pass.
type SettlementBatch struct {
	ID            uint64    `json:"id"`
	TaskIDs       []uint64  `json:"task_ids"`
	TotalPaid     math.Int  `json:"total_paid"`
	TotalReturned math.Int  `json:"total_returned"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditEntry records one state transition or balance mutation for audit.
type AuditEntry struct {
	ID       string            `json:"id"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Actor    string            `json:"actor,omitempty"`
	Target   string            `json:"target"`
	OldValue string            `json:"old_value,omitempty"`
	NewValue string            `json:"new_value,omitempty"`
	Success  bool              `json:"success"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// Audit categories.
const (
	AuditCategoryTask      = "task"
	AuditCategoryNode      = "node"
	AuditCategoryLedger    = "ledger"
	AuditCategoryChallenge = "challenge"
	AuditCategoryRewards   = "rewards"
)

// Well-known ledger accounts. Treasury collects processing fees; the reward
// pool backs settlement credits not drawn from task stake pools.
const (
	TreasuryAccount   = "treasury"
	RewardPoolAccount = "reward_pool"
)
