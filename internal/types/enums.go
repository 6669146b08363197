package types

// TaskType classifies the declared intent of a submitted task.
type TaskType int32

const (
	TaskType_SIMPLE_QA         TaskType = 0
	TaskType_COMPLEX_REASONING TaskType = 1
	TaskType_MULTI_STEP        TaskType = 2
	TaskType_DATA_ANALYSIS     TaskType = 3
)

func (t TaskType) String() string {
	switch t {
	case TaskType_SIMPLE_QA:
		return "simple_qa"
	case TaskType_COMPLEX_REASONING:
		return "complex_reasoning"
	case TaskType_MULTI_STEP:
		return "multi_step"
	case TaskType_DATA_ANALYSIS:
		return "data_analysis"
	default:
		return "unspecified"
	}
}

// WorkflowClass is the routing policy a task executes under.
type WorkflowClass int32

const (
	WorkflowClass_FAST_REALTIME     WorkflowClass = 0
	WorkflowClass_BALANCED          WorkflowClass = 1
	WorkflowClass_DEEP_REASONING    WorkflowClass = 2
	WorkflowClass_CONSENSUS_GUARDED WorkflowClass = 3
)

func (w WorkflowClass) String() string {
	switch w {
	case WorkflowClass_FAST_REALTIME:
		return "fast_realtime"
	case WorkflowClass_BALANCED:
		return "balanced"
	case WorkflowClass_DEEP_REASONING:
		return "deep_reasoning"
	case WorkflowClass_CONSENSUS_GUARDED:
		return "consensus_guarded"
	default:
		return "unspecified"
	}
}

// Criticality expresses how damaging a wrong result would be.
type Criticality int32

const (
	Criticality_LOW              Criticality = 0
	Criticality_STANDARD         Criticality = 1
	Criticality_HIGH             Criticality = 2
	Criticality_MISSION_CRITICAL Criticality = 3
)

func (c Criticality) String() string {
	switch c {
	case Criticality_LOW:
		return "low"
	case Criticality_STANDARD:
		return "standard"
	case Criticality_HIGH:
		return "high"
	case Criticality_MISSION_CRITICAL:
		return "mission_critical"
	default:
		return "unspecified"
	}
}

// TaskStatus is the task lifecycle state.
type TaskStatus int32

const (
	TaskStatus_PENDING             TaskStatus = 0
	TaskStatus_REASONING           TaskStatus = 1
	TaskStatus_VERIFYING           TaskStatus = 2
	TaskStatus_PROOF_PENDING       TaskStatus = 3
	TaskStatus_READY_FOR_EXECUTION TaskStatus = 4
	TaskStatus_DISPUTED            TaskStatus = 5
	TaskStatus_FINALIZED           TaskStatus = 6
	TaskStatus_CANCELLED           TaskStatus = 7
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatus_PENDING:
		return "pending"
	case TaskStatus_REASONING:
		return "reasoning"
	case TaskStatus_VERIFYING:
		return "verifying"
	case TaskStatus_PROOF_PENDING:
		return "proof_pending"
	case TaskStatus_READY_FOR_EXECUTION:
		return "ready_for_execution"
	case TaskStatus_DISPUTED:
		return "disputed"
	case TaskStatus_FINALIZED:
		return "finalized"
	case TaskStatus_CANCELLED:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// Terminal reports whether no further transition may leave the state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatus_FINALIZED || s == TaskStatus_CANCELLED
}

// CapabilityClass is the model tier a reasoning node operates.
type CapabilityClass int32

const (
	CapabilityClass_LOCAL_7B  CapabilityClass = 0
	CapabilityClass_LOCAL_13B CapabilityClass = 1
	CapabilityClass_LOCAL_70B CapabilityClass = 2
	CapabilityClass_CLOUD_API CapabilityClass = 3
)

func (c CapabilityClass) String() string {
	switch c {
	case CapabilityClass_LOCAL_7B:
		return "local_7b"
	case CapabilityClass_LOCAL_13B:
		return "local_13b"
	case CapabilityClass_LOCAL_70B:
		return "local_70b"
	case CapabilityClass_CLOUD_API:
		return "cloud_api"
	default:
		return "unspecified"
	}
}

// NodeStatus is the registry lifecycle state of a reasoning node.
type NodeStatus int32

const (
	NodeStatus_PENDING   NodeStatus = 0
	NodeStatus_ACTIVE    NodeStatus = 1
	NodeStatus_SUSPENDED NodeStatus = 2
	NodeStatus_SLASHED   NodeStatus = 3
	NodeStatus_EXITING   NodeStatus = 4
)

func (s NodeStatus) String() string {
	switch s {
	case NodeStatus_PENDING:
		return "pending"
	case NodeStatus_ACTIVE:
		return "active"
	case NodeStatus_SUSPENDED:
		return "suspended"
	case NodeStatus_SLASHED:
		return "slashed"
	case NodeStatus_EXITING:
		return "exiting"
	default:
		return "unspecified"
	}
}

// ChallengeStatus is the dispute lifecycle state of a challenge.
type ChallengeStatus int32

const (
	ChallengeStatus_ACTIVE    ChallengeStatus = 0
	ChallengeStatus_VOTING    ChallengeStatus = 1
	ChallengeStatus_RESOLVED  ChallengeStatus = 2
	ChallengeStatus_REJECTED  ChallengeStatus = 3
)

func (s ChallengeStatus) String() string {
	switch s {
	case ChallengeStatus_ACTIVE:
		return "active"
	case ChallengeStatus_VOTING:
		return "voting_in_progress"
	case ChallengeStatus_RESOLVED:
		return "resolved"
	case ChallengeStatus_REJECTED:
		return "rejected"
	default:
		return "unspecified"
	}
}

// ResolutionOutcome is the decided result of a challenge.
type ResolutionOutcome int32

const (
	ResolutionOutcome_PENDING         ResolutionOutcome = 0
	ResolutionOutcome_CHALLENGER_WINS ResolutionOutcome = 1
	ResolutionOutcome_DEFENDER_WINS   ResolutionOutcome = 2
	ResolutionOutcome_DRAW            ResolutionOutcome = 3
)

func (o ResolutionOutcome) String() string {
	switch o {
	case ResolutionOutcome_PENDING:
		return "pending"
	case ResolutionOutcome_CHALLENGER_WINS:
		return "challenger_wins"
	case ResolutionOutcome_DEFENDER_WINS:
		return "defender_wins"
	case ResolutionOutcome_DRAW:
		return "draw"
	default:
		return "unspecified"
	}
}

// TaskOutcome is the registry-visible result of a task or dispute for a node.
type TaskOutcome int32

const (
	TaskOutcome_SUCCESS        TaskOutcome = 0
	TaskOutcome_FAILURE        TaskOutcome = 1
	TaskOutcome_CHALLENGE_LOSS TaskOutcome = 2
	TaskOutcome_CHALLENGE_WIN  TaskOutcome = 3
)

func (o TaskOutcome) String() string {
	switch o {
	case TaskOutcome_SUCCESS:
		return "success"
	case TaskOutcome_FAILURE:
		return "failure"
	case TaskOutcome_CHALLENGE_LOSS:
		return "challenge_loss"
	case TaskOutcome_CHALLENGE_WIN:
		return "challenge_win"
	default:
		return "unspecified"
	}
}

// ProofStatus mirrors the proof collaborator's status values.
type ProofStatus int32

const (
	ProofStatus_PENDING    ProofStatus = 0
	ProofStatus_GENERATING ProofStatus = 1
	ProofStatus_VERIFIED   ProofStatus = 2
	ProofStatus_FAILED     ProofStatus = 3
)

func (s ProofStatus) String() string {
	switch s {
	case ProofStatus_PENDING:
		return "pending"
	case ProofStatus_GENERATING:
		return "generating"
	case ProofStatus_VERIFIED:
		return "verified"
	case ProofStatus_FAILED:
		return "failed"
	default:
		return "unspecified"
	}
}
