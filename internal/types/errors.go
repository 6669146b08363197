package types

import (
	sdkerrors "cosmossdk.io/errors"
)

// Codespace groups every sentinel error emitted by the coordinator.
const Codespace = "coordinator"

// Sentinel errors. Codes are grouped by failure class: validation (2-19),
// insufficient resources (20-39), lifecycle (40-59), external dependency
// (60-69), consistency (70-79), concurrency (80-89).
var (
	// Validation: rejected before any state mutation.
	ErrInvalidAmount          = sdkerrors.Register(Codespace, 2, "amount must be positive")
	ErrEmptyIntent            = sdkerrors.Register(Codespace, 3, "task intent is empty")
	ErrStakeBelowMinimum      = sdkerrors.Register(Codespace, 4, "stake below capability minimum")
	ErrInvalidScore           = sdkerrors.Register(Codespace, 5, "score outside basis point range")
	ErrInvalidChallengeWindow = sdkerrors.Register(Codespace, 6, "challenge window outside allowed range")
	ErrInvalidIntent          = sdkerrors.Register(Codespace, 7, "task intent exceeds maximum length")
	ErrNodeAlreadyRegistered  = sdkerrors.Register(Codespace, 8, "node already registered")
	ErrUnauthorizedActor      = sdkerrors.Register(Codespace, 9, "actor not authorized for this operation")

	// Insufficient resources: caller surfaced, state unchanged or moved to an
	// explicit fallback.
	ErrInsufficientBalance       = sdkerrors.Register(Codespace, 20, "insufficient balance")
	ErrInsufficientParticipation = sdkerrors.Register(Codespace, 21, "fewer submissions than workflow quorum")
	ErrInsufficientBond          = sdkerrors.Register(Codespace, 22, "challenge bond below required fraction of stake pool")
	ErrNoEligibleNodes           = sdkerrors.Register(Codespace, 23, "no eligible nodes for workflow")
	ErrNothingToClaim            = sdkerrors.Register(Codespace, 24, "no pending rewards to claim")

	// Lifecycle: command not valid in the current state.
	ErrTaskNotFound           = sdkerrors.Register(Codespace, 40, "task not found")
	ErrNodeNotFound           = sdkerrors.Register(Codespace, 41, "node not found")
	ErrChallengeNotFound      = sdkerrors.Register(Codespace, 42, "challenge not found")
	ErrNodeNotActive          = sdkerrors.Register(Codespace, 43, "node not active")
	ErrInvalidTransition      = sdkerrors.Register(Codespace, 44, "command not valid in current task state")
	ErrChallengeWindowClosed  = sdkerrors.Register(Codespace, 45, "challenge window has closed")
	ErrChallengeWindowOpen    = sdkerrors.Register(Codespace, 46, "challenge window still open")
	ErrChallengeAlreadyOpen   = sdkerrors.Register(Codespace, 47, "task already has an open challenge")
	ErrChallengeResolved      = sdkerrors.Register(Codespace, 48, "challenge already resolved")
	ErrVerificationFailed     = sdkerrors.Register(Codespace, 49, "verification score below pass threshold")
	ErrDuplicateVote          = sdkerrors.Register(Codespace, 50, "voter already cast a vote")
	ErrCancellationWindowOver = sdkerrors.Register(Codespace, 51, "task can no longer be cancelled")
	ErrNodeNotAssigned        = sdkerrors.Register(Codespace, 52, "node not assigned to task")
	ErrAlreadySettled         = sdkerrors.Register(Codespace, 53, "task already settled")
	ErrExitPending            = sdkerrors.Register(Codespace, 54, "exit cooldown not elapsed")
	ErrVotingClosed           = sdkerrors.Register(Codespace, 55, "voting deadline has passed")

	// External dependency: collaborator failed after bounded retries.
	ErrExternalDependency = sdkerrors.Register(Codespace, 60, "external collaborator unavailable")
	ErrProofUnavailable   = sdkerrors.Register(Codespace, 61, "proof collaborator failed for proof-required task")

	// Consistency: fatal for the affected record, never auto-corrected.
	ErrConsistencyViolation = sdkerrors.Register(Codespace, 70, "stake pool conservation violated")
	ErrTaskHalted           = sdkerrors.Register(Codespace, 71, "task halted pending manual intervention")

	// Concurrency: transparently retried by the calling layer.
	ErrConcurrencyConflict = sdkerrors.Register(Codespace, 80, "concurrent modification detected")
)
