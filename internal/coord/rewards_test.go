package coord

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/types"
)

// finalizeSimpleTask drives a fresh single-node task to Finalized.
func finalizeSimpleTask(t *testing.T, c *Coordinator, clock *ManualClock, node string, pool int64) types.Task {
	t.Helper()
	task := submitSimpleTask(t, c, pool)
	task = driveToReady(t, c, task.ID, node, "answer")
	clock.Advance(31 * time.Minute)
	tick(t, c)
	task, err := c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskStatus_FINALIZED, task.Status)
	return task
}

func TestSettleEpochConservation(t *testing.T) {
	c, clock := newTestCoord(t, WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := finalizeSimpleTask(t, c, clock, "n1", 100_000)

	batch, err := c.SettleEpoch()
	require.NoError(t, err)
	require.Equal(t, []uint64{task.ID}, batch.TaskIDs)

	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.True(t, task.Settled)
	sum := task.PaidOut.Add(task.Returned).Add(task.FeeCharged)
	require.Equal(t, task.StakePool.Add(task.BondTopUp).Int64(), sum.Int64())

	// The submitter's escrow is fully unwound.
	alice, err := c.Balance("alice")
	require.NoError(t, err)
	require.True(t, alice.Locked.IsZero())

	node, err := c.Node("n1")
	require.NoError(t, err)
	require.Equal(t, int64(100_000), node.PendingRewards.Int64())

	// A second pass finds an empty queue.
	batch, err = c.SettleEpoch()
	require.NoError(t, err)
	require.Empty(t, batch.TaskIDs)
}

func TestSettleSplitsByMultiplierAndRatio(t *testing.T) {
	scorer := passingScorer()
	c, clock := newTestCoord(t, WithScorer(scorer))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_13B, 2_000_000)
	registerActiveNode(t, c, "n2", types.CapabilityClass_LOCAL_13B, 2_000_000)

	// Lift n1 into the high-performance multiplier tier.
	for i := 0; i < 30; i++ {
		unlock := c.accounts.lock("n1")
		require.NoError(t, c.applyOutcome("n1", types.TaskOutcome_SUCCESS))
		unlock()
	}
	n1, err := c.Node("n1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, n1.ReputationBps, uint32(8000))
	require.Equal(t, uint32(12_000), n1.MultiplierBps)

	task, err := c.SubmitTask(context.Background(), SubmitTaskInput{
		Submitter:   "alice",
		Intent:      "compare the two proposals and explain why",
		Type:        types.TaskType_COMPLEX_REASONING,
		Criticality: types.Criticality_STANDARD,
		Workflow:    types.WorkflowClass_BALANCED,
		StakePool:   math.NewInt(1_000_000),
	})
	require.NoError(t, err)
	for _, n := range task.AssignedNodes {
		_, err := c.AcknowledgeTask(n, task.ID)
		require.NoError(t, err)
	}
	for _, n := range task.AssignedNodes {
		_, err = c.SubmitOutput(n, task.ID, "same-ref", 8000, 100)
		require.NoError(t, err)
	}
	clock.Advance(31 * time.Minute)
	tick(t, c)

	_, err = c.SettleEpoch()
	require.NoError(t, err)

	n1, err = c.Node("n1")
	require.NoError(t, err)
	n2, err := c.Node("n2")
	require.NoError(t, err)
	require.True(t, n1.PendingRewards.GT(n2.PendingRewards))

	task, err = c.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), task.PaidOut.Add(task.Returned).Int64())
}

func TestClaimRewards(t *testing.T) {
	c, clock := newTestCoord(t, WithScorer(passingScorer()))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	finalizeSimpleTask(t, c, clock, "n1", 100_000)
	_, err := c.SettleEpoch()
	require.NoError(t, err)

	amount, err := c.ClaimRewards("n1")
	require.NoError(t, err)
	require.Equal(t, int64(100_000), amount.Int64())

	acct, err := c.Balance("n1")
	require.NoError(t, err)
	require.Equal(t, int64(100_000), acct.Free.Int64())

	node, err := c.Node("n1")
	require.NoError(t, err)
	require.True(t, node.PendingRewards.IsZero())

	_, err = c.ClaimRewards("n1")
	require.ErrorIs(t, err, types.ErrNothingToClaim)
}

func TestSettleArchivesTask(t *testing.T) {
	archiver := &fakeArchiver{}
	c, clock := newTestCoord(t, WithScorer(passingScorer()), WithArchiver(archiver))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := finalizeSimpleTask(t, c, clock, "n1", 100_000)
	_, err := c.SettleEpoch()
	require.NoError(t, err)

	require.Len(t, archiver.archived, 1)
	require.Equal(t, task.ID, archiver.archived[0].ID)

	got, err := c.Task(task.ID)
	require.NoError(t, err)
	require.True(t, got.Archived)
}

func TestArchiveFailureRetriesNextEpoch(t *testing.T) {
	archiver := &fakeArchiver{err: errSentinel}
	c, clock := newTestCoord(t, WithScorer(passingScorer()), WithArchiver(archiver))
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	task := finalizeSimpleTask(t, c, clock, "n1", 100_000)
	_, err := c.SettleEpoch()
	require.NoError(t, err)

	got, err := c.Task(task.ID)
	require.NoError(t, err)
	require.True(t, got.Settled)
	require.False(t, got.Archived)
}
