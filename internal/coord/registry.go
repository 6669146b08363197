package coord

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

const nodeStakePurpose = "node_stake"

// RegisterNode admits a new reasoning node in Pending status. The initial
// stake is deposited and locked in one step and must clear the capability
// class floor. Activation waits for a benchmark result.
func (c *Coordinator) RegisterNode(owner string, capability types.CapabilityClass, initialStake math.Int) (types.ReasoningNode, error) {
	if owner == "" {
		return types.ReasoningNode{}, types.ErrInvalidAmount.Wrap("owner must not be empty")
	}
	floor := c.params.StakeFloor(capability)
	if initialStake.IsNil() || initialStake.LT(floor) {
		return types.ReasoningNode{}, types.ErrStakeBelowMinimum.Wrapf(
			"stake %s below %s floor %s", initialStake, capability, floor)
	}

	unlock := c.accounts.lock(owner)
	defer unlock()

	if has, err := c.store.has(NodeKey(owner)); err != nil {
		return types.ReasoningNode{}, err
	} else if has {
		return types.ReasoningNode{}, types.ErrNodeAlreadyRegistered.Wrapf("node %s", owner)
	}

	if err := c.deposit(owner, initialStake); err != nil {
		return types.ReasoningNode{}, err
	}
	if err := c.lockStake(owner, initialStake, nodeStakePurpose); err != nil {
		return types.ReasoningNode{}, err
	}

	now := c.clock.Now()
	node := types.ReasoningNode{
		Owner:           owner,
		Capability:      capability,
		Status:          types.NodeStatus_PENDING,
		StakeAmount:     initialStake,
		ReputationBps:   c.params.InitialReputationBps,
		MultiplierBps:   types.BpsDenominator,
		PendingRewards:  math.ZeroInt(),
		DynamicMinStake: dynamicMinStake(floor, c.params.InitialReputationBps),
		RegisteredAt:    now,
		UpdatedAt:       now,
	}
	if err := c.setNode(node); err != nil {
		return types.ReasoningNode{}, err
	}
	if c.metrics != nil {
		c.metrics.NodesRegistered.WithLabelValues(capability.String()).Inc()
	}
	c.audit(types.AuditCategoryNode, "register", owner, nodeTarget(owner), "", node.Status.String(), true,
		map[string]string{"capability": capability.String(), "stake": initialStake.String()})
	c.log.Info("node registered", "owner", owner, "capability", capability.String(), "stake", initialStake.String())
	return node, nil
}

// CompleteBenchmark records a node's benchmark score and activates it when
// the score clears the pass mark. Only pending nodes may benchmark.
func (c *Coordinator) CompleteBenchmark(owner string, scoreBps uint32) (types.ReasoningNode, error) {
	if scoreBps > types.BpsDenominator {
		return types.ReasoningNode{}, types.ErrInvalidScore.Wrapf("benchmark score %d > %d", scoreBps, types.BpsDenominator)
	}
	unlock := c.accounts.lock(owner)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return types.ReasoningNode{}, err
	}
	if node.Status != types.NodeStatus_PENDING {
		return types.ReasoningNode{}, types.ErrInvalidTransition.Wrapf(
			"benchmark only applies to pending nodes, %s is %s", owner, node.Status)
	}
	node.BenchmarkBps = scoreBps
	old := node.Status
	if scoreBps >= c.params.BenchmarkPassBps {
		node.Status = types.NodeStatus_ACTIVE
		if c.metrics != nil {
			c.metrics.NodesActive.Inc()
		}
	}
	node.UpdatedAt = c.clock.Now()
	if err := c.setNode(node); err != nil {
		return types.ReasoningNode{}, err
	}
	c.audit(types.AuditCategoryNode, "benchmark", owner, nodeTarget(owner), old.String(), node.Status.String(), true,
		map[string]string{"score_bps": fmt.Sprintf("%d", scoreBps)})
	return node, nil
}

// DepositStake adds free-then-locked stake to a registered node.
func (c *Coordinator) DepositStake(owner string, amount math.Int) (types.ReasoningNode, error) {
	if !amount.IsPositive() {
		return types.ReasoningNode{}, types.ErrInvalidAmount.Wrap("stake deposit must be positive")
	}
	unlock := c.accounts.lock(owner)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return types.ReasoningNode{}, err
	}
	if err := c.deposit(owner, amount); err != nil {
		return types.ReasoningNode{}, err
	}
	if err := c.lockStake(owner, amount, nodeStakePurpose); err != nil {
		return types.ReasoningNode{}, err
	}
	node.StakeAmount = node.StakeAmount.Add(amount)
	node.UpdatedAt = c.clock.Now()
	if err := c.setNode(node); err != nil {
		return types.ReasoningNode{}, err
	}
	return node, nil
}

// WithdrawStake releases and withdraws stake above the node's dynamic
// minimum. Active nodes may never dip below it; exiting nodes drain through
// CompleteExit instead.
func (c *Coordinator) WithdrawStake(owner string, amount math.Int) (types.ReasoningNode, error) {
	if !amount.IsPositive() {
		return types.ReasoningNode{}, types.ErrInvalidAmount.Wrap("stake withdrawal must be positive")
	}
	unlock := c.accounts.lock(owner)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return types.ReasoningNode{}, err
	}
	if node.Status == types.NodeStatus_EXITING {
		return types.ReasoningNode{}, types.ErrExitPending.Wrapf("node %s is exiting", owner)
	}
	remaining := node.StakeAmount.Sub(amount)
	if remaining.LT(node.DynamicMinStake) {
		return types.ReasoningNode{}, types.ErrStakeBelowMinimum.Wrapf(
			"remaining %s below dynamic minimum %s", remaining, node.DynamicMinStake)
	}
	if err := c.releaseStake(owner, amount, nodeStakePurpose); err != nil {
		return types.ReasoningNode{}, err
	}
	if err := c.withdraw(owner, amount); err != nil {
		return types.ReasoningNode{}, err
	}
	node.StakeAmount = remaining
	node.UpdatedAt = c.clock.Now()
	if err := c.setNode(node); err != nil {
		return types.ReasoningNode{}, err
	}
	return node, nil
}

// BeginExit starts a node's cooldown. The node stops receiving assignments
// immediately; stake unlocks when the cooldown elapses.
func (c *Coordinator) BeginExit(owner string) (types.ReasoningNode, error) {
	unlock := c.accounts.lock(owner)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return types.ReasoningNode{}, err
	}
	if node.Status == types.NodeStatus_EXITING {
		return types.ReasoningNode{}, types.ErrExitPending.Wrapf("node %s already exiting", owner)
	}
	if node.Status != types.NodeStatus_ACTIVE && node.Status != types.NodeStatus_SUSPENDED {
		return types.ReasoningNode{}, types.ErrInvalidTransition.Wrapf(
			"node %s cannot exit from %s", owner, node.Status)
	}
	old := node.Status
	now := c.clock.Now()
	node.Status = types.NodeStatus_EXITING
	node.ExitRequestedAt = &now
	node.UpdatedAt = now
	if err := c.setNode(node); err != nil {
		return types.ReasoningNode{}, err
	}
	if old == types.NodeStatus_ACTIVE && c.metrics != nil {
		c.metrics.NodesActive.Dec()
	}
	c.scheduleExitCooldown(owner, now.Add(c.params.ExitCooldown))
	c.audit(types.AuditCategoryNode, "begin_exit", owner, nodeTarget(owner), old.String(), node.Status.String(), true, nil)
	c.log.Info("node exit requested", "owner", owner, "cooldown_ends", now.Add(c.params.ExitCooldown).String())
	return node, nil
}

// CompleteExit unlocks and returns an exiting node's stake once the cooldown
// has elapsed, then deletes the node record. The deadline handler calls this;
// it is also directly callable for nodes whose cooldown already passed.
func (c *Coordinator) CompleteExit(owner string) error {
	unlock := c.accounts.lock(owner)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return err
	}
	if node.Status != types.NodeStatus_EXITING || node.ExitRequestedAt == nil {
		return types.ErrInvalidTransition.Wrapf("node %s has no pending exit", owner)
	}
	if c.clock.Now().Before(node.ExitRequestedAt.Add(c.params.ExitCooldown)) {
		return types.ErrExitPending.Wrapf("cooldown for %s not elapsed", owner)
	}
	if node.StakeAmount.IsPositive() {
		if err := c.releaseStake(owner, node.StakeAmount, nodeStakePurpose); err != nil {
			return err
		}
		if err := c.withdraw(owner, node.StakeAmount); err != nil {
			return err
		}
	}
	if err := c.store.delete(NodeKey(owner)); err != nil {
		return err
	}
	c.audit(types.AuditCategoryNode, "complete_exit", owner, nodeTarget(owner), node.Status.String(), "deregistered", true,
		map[string]string{"returned": node.StakeAmount.String()})
	c.log.Info("node exited", "owner", owner, "returned", node.StakeAmount.String())
	return nil
}

// Node returns a registered node's record.
func (c *Coordinator) Node(owner string) (types.ReasoningNode, error) {
	return c.getNode(owner)
}

// Nodes returns every registered node, ordered by owner.
func (c *Coordinator) Nodes() ([]types.ReasoningNode, error) {
	var out []types.ReasoningNode
	err := c.store.iteratePrefix(NodeKeyPrefix, func(_, value []byte) (bool, error) {
		var n types.ReasoningNode
		if err := json.Unmarshal(value, &n); err != nil {
			return false, err
		}
		out = append(out, n)
		return true, nil
	})
	return out, err
}

// applyOutcome folds one task or dispute outcome into a node's reputation,
// multiplier, dynamic minimum, counters, and suspension streak. Caller holds
// the node's account stripe.
func (c *Coordinator) applyOutcome(owner string, outcome types.TaskOutcome) error {
	node, err := c.getNode(owner)
	if err != nil {
		return err
	}
	oldRep := node.ReputationBps

	switch outcome {
	case types.TaskOutcome_SUCCESS:
		node.ReputationBps = reputationGain(node.ReputationBps, c.params.ReputationGainSuccess)
		node.TotalTasks++
		node.SuccessfulTasks++
		node.ConsecutiveFails = 0
	case types.TaskOutcome_FAILURE:
		node.ReputationBps = reputationLoss(node.ReputationBps, c.params.ReputationLossFailure)
		node.TotalTasks++
		node.ConsecutiveFails++
	case types.TaskOutcome_CHALLENGE_WIN:
		node.ReputationBps = reputationGain(node.ReputationBps, c.params.ReputationGainChallenge)
		node.ConsecutiveFails = 0
	case types.TaskOutcome_CHALLENGE_LOSS:
		node.ReputationBps = reputationLoss(node.ReputationBps, c.params.ReputationLossChallenge)
		node.ConsecutiveFails++
	}

	node.MultiplierBps = c.multiplierFor(node.ReputationBps)
	node.DynamicMinStake = dynamicMinStake(c.params.StakeFloor(node.Capability), node.ReputationBps)

	if node.Status == types.NodeStatus_ACTIVE && node.ConsecutiveFails >= c.params.SuspensionFailureStreak {
		node.Status = types.NodeStatus_SUSPENDED
		if c.metrics != nil {
			c.metrics.NodesActive.Dec()
		}
		c.log.Warn("node suspended after failure streak",
			"owner", owner, "consecutive_fails", node.ConsecutiveFails)
	}
	node.UpdatedAt = c.clock.Now()
	if err := c.setNode(node); err != nil {
		return err
	}
	c.audit(types.AuditCategoryNode, "outcome_"+outcome.String(), owner, nodeTarget(owner),
		fmt.Sprintf("%d", oldRep), fmt.Sprintf("%d", node.ReputationBps), true, nil)
	return nil
}

// ReinstateNode returns a suspended node to active and clears its streak.
func (c *Coordinator) ReinstateNode(owner string) (types.ReasoningNode, error) {
	unlock := c.accounts.lock(owner)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return types.ReasoningNode{}, err
	}
	if node.Status != types.NodeStatus_SUSPENDED {
		return types.ReasoningNode{}, types.ErrInvalidTransition.Wrapf("node %s is %s, not suspended", owner, node.Status)
	}
	if node.StakeAmount.LT(node.DynamicMinStake) {
		return types.ReasoningNode{}, types.ErrStakeBelowMinimum.Wrapf(
			"stake %s below dynamic minimum %s", node.StakeAmount, node.DynamicMinStake)
	}
	node.Status = types.NodeStatus_ACTIVE
	node.ConsecutiveFails = 0
	node.UpdatedAt = c.clock.Now()
	if err := c.setNode(node); err != nil {
		return types.ReasoningNode{}, err
	}
	if c.metrics != nil {
		c.metrics.NodesActive.Inc()
	}
	c.audit(types.AuditCategoryNode, "reinstate", owner, nodeTarget(owner),
		types.NodeStatus_SUSPENDED.String(), node.Status.String(), true, nil)
	return node, nil
}

// reputationGain moves reputation toward the ceiling by base scaled with the
// remaining headroom, so gains flatten as reputation climbs.
func reputationGain(current, base uint32) uint32 {
	headroom := uint64(types.BpsDenominator - current)
	gain := uint64(base) * headroom / types.BpsDenominator
	next := uint64(current) + gain
	if next > types.BpsDenominator {
		return types.BpsDenominator
	}
	return uint32(next)
}

// reputationLoss moves reputation toward zero by base scaled with the current
// level, so losses bite hardest at the top.
func reputationLoss(current, base uint32) uint32 {
	loss := uint64(base) * uint64(current) / types.BpsDenominator
	if loss >= uint64(current) {
		return 0
	}
	return current - uint32(loss)
}

// multiplierFor maps reputation to the reward multiplier tier.
func (c *Coordinator) multiplierFor(repBps uint32) uint32 {
	switch {
	case repBps >= c.params.HighPerfThresholdBps:
		return c.params.HighPerfMultiplierBps
	case repBps <= c.params.LowPerfThresholdBps:
		return c.params.LowPerfPenaltyBps
	default:
		return types.BpsDenominator
	}
}

// dynamicMinStake scales the capability floor down as reputation grows:
// floor * (1 - rep/20000), never below half the floor.
func dynamicMinStake(floor math.Int, repBps uint32) math.Int {
	scaled := floor.MulRaw(int64(2*types.BpsDenominator - repBps)).QuoRaw(2 * types.BpsDenominator)
	half := floor.QuoRaw(2)
	if scaled.LT(half) {
		return half
	}
	return scaled
}
