package coord

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/collab"
	"github.com/tro-protocol/coordinator/internal/types"
)

func passingScorer() *fakeScorer {
	return &fakeScorer{semantic: 9000, fact: 9000, graph: 9000}
}

func submitSimpleTask(t *testing.T, c *Coordinator, pool int64) types.Task {
	t.Helper()
	task, err := c.SubmitTask(context.Background(), SubmitTaskInput{
		Submitter:   "alice",
		Intent:      "what is 2+2",
		Type:        types.TaskType_SIMPLE_QA,
		Criticality: types.Criticality_LOW,
		StakePool:   math.NewInt(pool),
	})
	require.NoError(t, err)
	return task
}

// driveToReady moves a single-node task through reasoning and verification to
// ReadyForExecution using the wired scorer.
func driveToReady(t *testing.T, c *Coordinator, taskID uint64, node, ref string) types.Task {
	t.Helper()
	_, err := c.AcknowledgeTask(node, taskID)
	require.NoError(t, err)
	task, err := c.SubmitOutput(node, taskID, ref, 9000, 120)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)
	return task
}

func TestFastRealtimeCacheHitLifecycle(t *testing.T) {
	cache := &fakeCache{hit: &collab.CacheHit{OutputRef: "cached-answer", SimilarityBps: 9500}}
	c, clock := newTestCoord(t, WithCache(cache), WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	require.True(t, task.CacheHit)
	require.Equal(t, types.WorkflowClass_FAST_REALTIME, task.Workflow)

	// Acknowledging a cache-hit task records the cached output and carries
	// the task straight through verification.
	task, err := c.AcknowledgeTask("n1", task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)
	require.Equal(t, "cached-answer", task.ResultRef)
	require.Equal(t, "n1", task.ResultNode)
	require.GreaterOrEqual(t, task.VerificationScore, c.Params().PassThresholdBps)

	clock.Advance(31 * time.Minute)
	require.Equal(t, 1, tick(t, c))

	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_FINALIZED, task.Status)

	// Cache-sourced results are not stored back.
	require.Empty(t, cache.stored)

	node, err := c.Node("n1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), node.SuccessfulTasks)
}

func TestMissionCriticalConsensusLifecycle(t *testing.T) {
	scorer := &fakeScorer{semantic: 8000, fact: 8000, graph: 8000}
	prover := &fakeProver{proofID: "proof-1"}
	c, clock := newTestCoord(t, WithScorer(scorer), WithProver(prover))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_13B, 2_000_000)
	registerActiveNode(t, c, "n2", types.CapabilityClass_LOCAL_13B, 2_000_000)
	registerActiveNode(t, c, "n3", types.CapabilityClass_LOCAL_70B, 5_000_000)

	task, err := c.SubmitTask(context.Background(), SubmitTaskInput{
		Submitter:       "alice",
		Intent:          "evaluate the contract terms and prove the payout schedule is consistent",
		Type:            types.TaskType_COMPLEX_REASONING,
		Criticality:     types.Criticality_MISSION_CRITICAL,
		StakePool:       math.NewInt(1_000_000),
		ChallengeWindow: time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, types.WorkflowClass_CONSENSUS_GUARDED, task.Workflow)
	require.True(t, task.RequiresProof)
	require.Len(t, task.AssignedNodes, 3)

	var slow string
	for _, n := range task.AssignedNodes {
		_, err := c.AcknowledgeTask(n, task.ID)
		require.NoError(t, err)
		slow = n
	}
	fast := []string{}
	for _, n := range task.AssignedNodes {
		if n != slow {
			fast = append(fast, n)
		}
	}
	for _, n := range fast {
		_, err := c.SubmitOutput(n, task.ID, "agreed-hash", 8800, 300)
		require.NoError(t, err)
	}

	// The third node never submits; the reasoning deadline carries the task
	// into verification on the two-node quorum.
	clock.Advance(c.Params().ReasoningTimeout + time.Second)
	tick(t, c)

	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_PROOF_PENDING, task.Status)
	require.Equal(t, "proof-1", task.ProofID)
	require.Equal(t, 1, prover.requests)
	// Full agreement between the two submitters lifts the aggregate above
	// the component scores.
	require.Equal(t, uint32(8300), task.VerificationScore)

	lateNode, err := c.Node(slow)
	require.NoError(t, err)
	require.Equal(t, uint32(1), lateNode.ConsecutiveFails)

	task, err = c.ApplyProofResult(task.ID, "proof-1", types.ProofStatus_VERIFIED)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)

	// A replayed proof callback is acknowledged without effect.
	again, err := c.ApplyProofResult(task.ID, "proof-1", types.ProofStatus_FAILED)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, again.Status)

	clock.Advance(time.Hour + time.Second)
	tick(t, c)
	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_FINALIZED, task.Status)

	for _, n := range fast {
		node, err := c.Node(n)
		require.NoError(t, err)
		require.Equal(t, uint64(1), node.SuccessfulTasks)
	}
}

func TestSubmitOutputGuards(t *testing.T) {
	c, _ := newTestCoord(t, WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)
	registerActiveNode(t, c, "n2", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	assigned := task.AssignedNodes[0]
	other := "n1"
	if assigned == "n1" {
		other = "n2"
	}

	// Output before any acknowledgement: task still pending.
	_, err := c.SubmitOutput(assigned, task.ID, "ref", 9000, 10)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = c.AcknowledgeTask(other, task.ID)
	require.ErrorIs(t, err, types.ErrNodeNotAssigned)

	_, err = c.AcknowledgeTask(assigned, task.ID)
	require.NoError(t, err)
	_, err = c.SubmitOutput(other, task.ID, "ref", 9000, 10)
	require.ErrorIs(t, err, types.ErrNodeNotAssigned)
}

func TestVerificationRejectionFallsBack(t *testing.T) {
	// The high-confidence output scores below threshold; the fallback passes.
	scorer := &fakeScorer{
		semantic: 9000, fact: 9000, graph: 9000,
		perRef: map[string]uint32{"bad-ref": 3000},
	}
	c, _ := newTestCoord(t, WithScorer(scorer))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_13B, 2_000_000)
	registerActiveNode(t, c, "n2", types.CapabilityClass_LOCAL_13B, 2_000_000)

	task, err := c.SubmitTask(context.Background(), SubmitTaskInput{
		Submitter:   "alice",
		Intent:      "compare these two designs and explain why one is safer",
		Type:        types.TaskType_COMPLEX_REASONING,
		Criticality: types.Criticality_STANDARD,
		Workflow:    types.WorkflowClass_BALANCED,
		StakePool:   math.NewInt(500_000),
	})
	require.NoError(t, err)
	require.Len(t, task.AssignedNodes, 2)

	for _, n := range task.AssignedNodes {
		_, err := c.AcknowledgeTask(n, task.ID)
		require.NoError(t, err)
	}
	first, second := task.AssignedNodes[0], task.AssignedNodes[1]
	_, err = c.SubmitOutput(first, task.ID, "bad-ref", 9500, 100)
	require.NoError(t, err)

	task, err = c.SubmitOutput(second, task.ID, "good-ref", 8000, 100)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)
	require.Equal(t, "good-ref", task.ResultRef)
	require.Equal(t, []string{first}, task.RejectedNodes)

	rejected, err := c.Node(first)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rejected.ConsecutiveFails)
}

func TestVerificationFailureCancelsWithFee(t *testing.T) {
	scorer := &fakeScorer{semantic: 2000, fact: 2000, graph: 2000}
	c, _ := newTestCoord(t, WithScorer(scorer))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	_, err := c.AcknowledgeTask("n1", task.ID)
	require.NoError(t, err)
	task, err = c.SubmitOutput("n1", task.ID, "wrong", 9000, 50)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_CANCELLED, task.Status)
	require.Equal(t, c.Params().ProcessingFee.Int64(), task.FeeCharged.Int64())
	require.Equal(t, int64(100_000)-c.Params().ProcessingFee.Int64(), task.Returned.Int64())

	alice, err := c.Balance("alice")
	require.NoError(t, err)
	require.True(t, alice.Locked.IsZero())
	require.Equal(t, task.Returned.Int64(), alice.Free.Int64())

	treasury, err := c.Balance(types.TreasuryAccount)
	require.NoError(t, err)
	require.Equal(t, task.FeeCharged.Int64(), treasury.Free.Int64())
}

func TestProofFailureSlashesDefenders(t *testing.T) {
	scorer := passingScorer()
	prover := &fakeProver{proofID: "p1"}
	c, _ := newTestCoord(t, WithScorer(scorer), WithProver(prover))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_13B, 2_000_000)
	registerActiveNode(t, c, "n2", types.CapabilityClass_LOCAL_13B, 2_000_000)

	task, err := c.SubmitTask(context.Background(), SubmitTaskInput{
		Submitter:   "alice",
		Intent:      "derive the correct tax owed",
		Type:        types.TaskType_COMPLEX_REASONING,
		Criticality: types.Criticality_HIGH,
		StakePool:   math.NewInt(1_000_000),
	})
	require.NoError(t, err)
	require.True(t, task.RequiresProof)

	for _, n := range task.AssignedNodes {
		_, err := c.AcknowledgeTask(n, task.ID)
		require.NoError(t, err)
	}
	for _, n := range task.AssignedNodes {
		_, err = c.SubmitOutput(n, task.ID, "shared-ref", 8500, 100)
		require.NoError(t, err)
	}
	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_PROOF_PENDING, task.Status)

	task, err = c.ApplyProofResult(task.ID, "p1", types.ProofStatus_FAILED)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_CANCELLED, task.Status)
	// Proof failure is misbehavior: no fee, full refund to the submitter.
	require.Equal(t, int64(1_000_000), task.Returned.Int64())

	// The dispute fraction of the pool came out of the defenders' stakes.
	total := int64(0)
	for _, n := range []string{"n1", "n2"} {
		records, err := c.SlashRecords(n)
		require.NoError(t, err)
		require.Len(t, records, 1)
		total += records[0].Amount.Int64()
		node, err := c.Node(n)
		require.NoError(t, err)
		require.Less(t, node.ReputationBps, uint32(5000))
	}
	require.Equal(t, int64(200_000), total)

	treasury, err := c.Balance(types.TreasuryAccount)
	require.NoError(t, err)
	require.Equal(t, total, treasury.Free.Int64())
}

func TestReasoningTimeoutWithoutQuorumCancels(t *testing.T) {
	c, clock := newTestCoord(t, WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	_, err := c.AcknowledgeTask("n1", task.ID)
	require.NoError(t, err)

	clock.Advance(c.Params().ReasoningTimeout + time.Second)
	tick(t, c)

	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_CANCELLED, task.Status)
	require.True(t, task.Settled)
}

func TestCancelTask(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)

	_, err := c.CancelTask("mallory", task.ID)
	require.ErrorIs(t, err, types.ErrUnauthorizedActor)

	cancelled, err := c.CancelTask("alice", task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_CANCELLED, cancelled.Status)
	require.Equal(t, c.Params().ProcessingFee.Int64(), cancelled.FeeCharged.Int64())

	_, err = c.CancelTask("alice", task.ID)
	require.ErrorIs(t, err, types.ErrCancellationWindowOver)
}

func TestFinalizeGuards(t *testing.T) {
	c, clock := newTestCoord(t, WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	task = driveToReady(t, c, task.ID, "n1", "answer-ref")

	_, err := c.FinalizeTask(task.ID)
	require.ErrorIs(t, err, types.ErrChallengeWindowOpen)

	clock.Advance(31 * time.Minute)
	task, err = c.FinalizeTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_FINALIZED, task.Status)

	_, err = c.FinalizeTask(task.ID)
	require.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestFinalizeStoresResultInCache(t *testing.T) {
	cache := &fakeCache{}
	c, clock := newTestCoord(t, WithCache(cache), WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	task = driveToReady(t, c, task.ID, "n1", "fresh-answer")

	clock.Advance(31 * time.Minute)
	tick(t, c)

	require.Equal(t, "fresh-answer", cache.stored[task.Fingerprint])
}

func TestProcessPendingDispatchesReasoner(t *testing.T) {
	reasoner := &fakeReasoner{}
	c, _ := newTestCoord(t, WithReasoner(reasoner), WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := submitSimpleTask(t, c, 100_000)
	require.NoError(t, c.ProcessPending(context.Background()))

	task, err := c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)
	require.Equal(t, "hash-n1", task.ResultRef)
}

func TestProofResultReplayIsNoOp(t *testing.T) {
	c, _ := newTestCoord(t, WithScorer(passingScorer()), WithProver(&fakeProver{proofID: "p1"}))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_13B, 2_000_000)
	registerActiveNode(t, c, "n2", types.CapabilityClass_LOCAL_13B, 2_000_000)

	task, err := c.SubmitTask(context.Background(), SubmitTaskInput{
		Submitter:   "alice",
		Intent:      "derive the correct tax owed",
		Type:        types.TaskType_COMPLEX_REASONING,
		Criticality: types.Criticality_HIGH,
		StakePool:   math.NewInt(1_000_000),
	})
	require.NoError(t, err)
	for _, n := range task.AssignedNodes {
		_, err := c.AcknowledgeTask(n, task.ID)
		require.NoError(t, err)
	}
	for _, n := range task.AssignedNodes {
		_, err = c.SubmitOutput(n, task.ID, "shared-ref", 8500, 100)
		require.NoError(t, err)
	}

	task, err = c.ApplyProofResult(task.ID, "p1", types.ProofStatus_VERIFIED)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)

	// A redelivered terminal status, even a contradictory one, changes nothing.
	replay, err := c.ApplyProofResult(task.ID, "p1", types.ProofStatus_FAILED)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, replay.Status)
	require.False(t, replay.Reversed)

	n1, err := c.Node("n1")
	require.NoError(t, err)
	require.Empty(t, mustSlashRecords(t, c, "n1"))
	require.GreaterOrEqual(t, n1.ReputationBps, uint32(5000))
}

func mustSlashRecords(t *testing.T, c *Coordinator, owner string) []types.SlashRecord {
	t.Helper()
	records, err := c.SlashRecords(owner)
	require.NoError(t, err)
	return records
}
