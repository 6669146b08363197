package coord

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/types"
)

func TestRegisterNode(t *testing.T) {
	c, _ := newTestCoord(t)

	node, err := c.RegisterNode("n1", types.CapabilityClass_LOCAL_7B, math.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_PENDING, node.Status)
	require.Equal(t, uint32(5000), node.ReputationBps)
	require.Equal(t, uint32(types.BpsDenominator), node.MultiplierBps)
	// Dynamic minimum at neutral reputation is 75% of the floor.
	require.Equal(t, int64(750_000), node.DynamicMinStake.Int64())

	acct, err := c.Balance("n1")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), acct.Locked.Int64())
	require.True(t, acct.Free.IsZero())
}

func TestRegisterNodeValidation(t *testing.T) {
	c, _ := newTestCoord(t)

	_, err := c.RegisterNode("n1", types.CapabilityClass_LOCAL_7B, math.NewInt(999_999))
	require.ErrorIs(t, err, types.ErrStakeBelowMinimum)

	_, err = c.RegisterNode("n1", types.CapabilityClass_CLOUD_API, math.NewInt(1_000_000))
	require.ErrorIs(t, err, types.ErrStakeBelowMinimum)

	_, err = c.RegisterNode("n1", types.CapabilityClass_LOCAL_7B, math.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = c.RegisterNode("n1", types.CapabilityClass_LOCAL_7B, math.NewInt(1_000_000))
	require.ErrorIs(t, err, types.ErrNodeAlreadyRegistered)
}

func TestBenchmarkActivation(t *testing.T) {
	c, _ := newTestCoord(t)

	_, err := c.RegisterNode("n1", types.CapabilityClass_LOCAL_7B, math.NewInt(1_000_000))
	require.NoError(t, err)

	node, err := c.CompleteBenchmark("n1", 4999)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_PENDING, node.Status)
	require.Equal(t, uint32(4999), node.BenchmarkBps)

	node, err = c.CompleteBenchmark("n1", 8200)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_ACTIVE, node.Status)

	_, err = c.CompleteBenchmark("n1", 8200)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = c.CompleteBenchmark("ghost", 8000)
	require.ErrorIs(t, err, types.ErrNodeNotFound)
}

func TestReputationUpdates(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	unlock := c.accounts.lock("n1")
	require.NoError(t, c.applyOutcome("n1", types.TaskOutcome_SUCCESS))
	unlock()

	node, err := c.Node("n1")
	require.NoError(t, err)
	// 5000 + 400 * (10000-5000)/10000 = 5200
	require.Equal(t, uint32(5200), node.ReputationBps)
	require.Equal(t, uint64(1), node.TotalTasks)
	require.Equal(t, uint64(1), node.SuccessfulTasks)

	unlock = c.accounts.lock("n1")
	require.NoError(t, c.applyOutcome("n1", types.TaskOutcome_FAILURE))
	unlock()
	node, err = c.Node("n1")
	require.NoError(t, err)
	// 5200 - 700 * 5200/10000 = 5200 - 364 = 4836
	require.Equal(t, uint32(4836), node.ReputationBps)
	require.Equal(t, uint32(1), node.ConsecutiveFails)
}

func TestReputationGainShrinksNearCeiling(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	prev := uint32(5000)
	lastGain := uint32(types.BpsDenominator)
	for i := 0; i < 50; i++ {
		unlock := c.accounts.lock("n1")
		require.NoError(t, c.applyOutcome("n1", types.TaskOutcome_SUCCESS))
		unlock()
		node, err := c.Node("n1")
		require.NoError(t, err)
		require.GreaterOrEqual(t, node.ReputationBps, prev)
		require.LessOrEqual(t, node.ReputationBps, uint32(types.BpsDenominator))
		gain := node.ReputationBps - prev
		require.LessOrEqual(t, gain, lastGain)
		lastGain = gain
		prev = node.ReputationBps
	}
}

func TestMultiplierTiers(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	require.Equal(t, uint32(12_000), c.multiplierFor(8000))
	require.Equal(t, uint32(12_000), c.multiplierFor(9500))
	require.Equal(t, uint32(10_000), c.multiplierFor(6000))
	require.Equal(t, uint32(8000), c.multiplierFor(4000))
	require.Equal(t, uint32(8000), c.multiplierFor(100))
}

func TestSuspensionAfterFailureStreak(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	for i := 0; i < 3; i++ {
		unlock := c.accounts.lock("n1")
		require.NoError(t, c.applyOutcome("n1", types.TaskOutcome_FAILURE))
		unlock()
	}
	node, err := c.Node("n1")
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_SUSPENDED, node.Status)

	node, err = c.ReinstateNode("n1")
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_ACTIVE, node.Status)
	require.Equal(t, uint32(0), node.ConsecutiveFails)
}

func TestWithdrawStakeKeepsDynamicMinimum(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_200_000)

	// Dynamic minimum at reputation 5000 is 750_000.
	_, err := c.WithdrawStake("n1", math.NewInt(500_000))
	require.ErrorIs(t, err, types.ErrStakeBelowMinimum)

	node, err := c.WithdrawStake("n1", math.NewInt(400_000))
	require.NoError(t, err)
	require.Equal(t, int64(800_000), node.StakeAmount.Int64())

	acct, err := c.Balance("n1")
	require.NoError(t, err)
	require.Equal(t, int64(800_000), acct.Locked.Int64())
}

func TestDepositStake(t *testing.T) {
	c, _ := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	node, err := c.DepositStake("n1", math.NewInt(250_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_250_000), node.StakeAmount.Int64())

	acct, err := c.Balance("n1")
	require.NoError(t, err)
	require.Equal(t, int64(1_250_000), acct.Locked.Int64())
}

func TestExitCooldown(t *testing.T) {
	c, clock := newTestCoord(t)
	registerActiveNode(t, c, "n1", types.CapabilityClass_LOCAL_7B, 1_000_000)

	node, err := c.BeginExit("n1")
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_EXITING, node.Status)

	_, err = c.WithdrawStake("n1", math.NewInt(1))
	require.ErrorIs(t, err, types.ErrExitPending)
	err = c.CompleteExit("n1")
	require.ErrorIs(t, err, types.ErrExitPending)

	clock.Advance(c.Params().ExitCooldown + 1)
	require.Equal(t, 1, tick(t, c))

	_, err = c.Node("n1")
	require.ErrorIs(t, err, types.ErrNodeNotFound)

	acct, err := c.Balance("n1")
	require.NoError(t, err)
	require.True(t, acct.Locked.IsZero())
	require.True(t, acct.Free.IsZero()) // stake fully withdrawn on exit
}
