package coord

import (
	"strconv"

	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

// SettleEpoch walks the settlement queue and pays out every finalized task,
// recording one batch for the pass. Individual task failures are logged and
// retried next epoch rather than aborting the batch.
func (c *Coordinator) SettleEpoch() (types.SettlementBatch, error) {
	var queued []uint64
	err := c.store.iteratePrefix(UnsettledTaskPrefix, func(key, _ []byte) (bool, error) {
		queued = append(queued, bytesToUint64(key[len(UnsettledTaskPrefix):]))
		return true, nil
	})
	if err != nil {
		return types.SettlementBatch{}, err
	}

	batch := types.SettlementBatch{
		TotalPaid:     math.ZeroInt(),
		TotalReturned: math.ZeroInt(),
		CreatedAt:     c.clock.Now(),
	}
	for _, taskID := range queued {
		paid, returned, err := c.settleTask(taskID)
		if err != nil {
			c.log.Error("settlement failed", "task", taskID, "error", err.Error())
			continue
		}
		batch.TaskIDs = append(batch.TaskIDs, taskID)
		batch.TotalPaid = batch.TotalPaid.Add(paid)
		batch.TotalReturned = batch.TotalReturned.Add(returned)
	}
	if len(batch.TaskIDs) == 0 {
		return batch, nil
	}

	id, err := c.store.nextID(NextBatchIDKey)
	if err != nil {
		return types.SettlementBatch{}, err
	}
	batch.ID = id
	if err := c.store.setJSON(BatchKey(id), batch); err != nil {
		return types.SettlementBatch{}, err
	}
	if c.metrics != nil {
		c.metrics.RewardsSettled.Inc()
	}
	c.audit(types.AuditCategoryRewards, "settle_epoch", "", "batch/"+strconv.FormatUint(id, 10), "",
		strconv.Itoa(len(batch.TaskIDs)), true,
		map[string]string{"paid": batch.TotalPaid.String(), "returned": batch.TotalReturned.String()})
	c.log.Info("epoch settled",
		"batch", id, "tasks", len(batch.TaskIDs),
		"paid", batch.TotalPaid.String(), "returned", batch.TotalReturned.String())
	return batch, nil
}

// settleTask distributes one finalized task's pool. Each eligible node's
// share is weighted by its reward multiplier and lifetime success ratio;
// integer remainders accrue to the accepted result's node so the pool splits
// exactly.
func (c *Coordinator) settleTask(taskID uint64) (math.Int, math.Int, error) {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return math.ZeroInt(), math.ZeroInt(), err
	}
	if task.Settled {
		_ = c.store.delete(UnsettledTaskKey(taskID))
		return math.ZeroInt(), math.ZeroInt(), types.ErrAlreadySettled.Wrapf("task %d", taskID)
	}
	if task.Status != types.TaskStatus_FINALIZED {
		return math.ZeroInt(), math.ZeroInt(), types.ErrInvalidTransition.Wrapf(
			"task %d is %s, not finalized", taskID, task.Status)
	}

	eligible := c.defendingNodes(task)
	pool := task.StakePool.Add(task.BondTopUp)
	distributable := pool.MulRaw(int64(c.params.BaseRewardRateBps)).QuoRaw(types.BpsDenominator)

	keys := append([]string{task.Submitter, types.RewardPoolAccount}, eligible...)
	unlock := c.accounts.lockAll(keys...)
	defer unlock()

	weights := make(map[string]math.Int, len(eligible))
	weightSum := math.ZeroInt()
	for _, owner := range eligible {
		node, err := c.getNode(owner)
		if err != nil {
			return math.ZeroInt(), math.ZeroInt(), err
		}
		ratio := uint64(types.BpsDenominator)
		if node.TotalTasks > 0 {
			ratio = node.SuccessfulTasks * types.BpsDenominator / node.TotalTasks
		}
		w := math.NewIntFromUint64(uint64(node.MultiplierBps) * ratio)
		weights[owner] = w
		weightSum = weightSum.Add(w)
	}

	paid := math.ZeroInt()
	if len(eligible) > 0 && weightSum.IsPositive() {
		shares := make(map[string]math.Int, len(eligible))
		for _, owner := range eligible {
			shares[owner] = distributable.Mul(weights[owner]).Quo(weightSum)
			paid = paid.Add(shares[owner])
		}
		// Rounding dust goes to the node behind the accepted result.
		if leftover := distributable.Sub(paid); leftover.IsPositive() {
			dustTo := task.ResultNode
			if _, ok := shares[dustTo]; !ok {
				dustTo = eligible[0]
			}
			shares[dustTo] = shares[dustTo].Add(leftover)
			paid = paid.Add(leftover)
		}
		for _, owner := range eligible {
			share := shares[owner]
			if !share.IsPositive() {
				continue
			}
			if err := c.moveLocked(task.Submitter, types.RewardPoolAccount, share, taskPoolPurpose); err != nil {
				return math.ZeroInt(), math.ZeroInt(), err
			}
			node, err := c.getNode(owner)
			if err != nil {
				return math.ZeroInt(), math.ZeroInt(), err
			}
			node.PendingRewards = node.PendingRewards.Add(share)
			node.UpdatedAt = c.clock.Now()
			if err := c.setNode(node); err != nil {
				return math.ZeroInt(), math.ZeroInt(), err
			}
		}
	}

	returned := pool.Sub(paid)
	if returned.IsPositive() {
		if err := c.releaseStake(task.Submitter, returned, taskPoolPurpose); err != nil {
			return math.ZeroInt(), math.ZeroInt(), err
		}
	}

	task.PaidOut = paid
	task.Returned = task.Returned.Add(returned)
	task.Settled = true
	task.UpdatedAt = c.clock.Now()
	if err := c.setTask(task, task.Status); err != nil {
		return math.ZeroInt(), math.ZeroInt(), err
	}
	if err := c.store.delete(UnsettledTaskKey(taskID)); err != nil {
		return math.ZeroInt(), math.ZeroInt(), err
	}
	if err := c.checkTaskConservation(task); err != nil {
		return math.ZeroInt(), math.ZeroInt(), err
	}
	c.audit(types.AuditCategoryRewards, "settle_task", "", taskTarget(taskID), "",
		paid.String(), true, map[string]string{"returned": returned.String()})

	c.archiveTask(task)
	return paid, returned, nil
}

// archiveTask hands a settled task to the archiver when one is wired.
// Failures leave Archived unset for a later retry pass.
func (c *Coordinator) archiveTask(task types.Task) {
	if c.archiver == nil || task.Archived {
		return
	}
	outputs, err := c.TaskOutputs(task.ID)
	if err != nil {
		c.log.Error("archive output scan failed", "task", task.ID, "error", err.Error())
		return
	}
	if err := c.archiver.Archive(task, outputs); err != nil {
		c.log.Warn("archive failed", "task", task.ID, "error", err.Error())
		return
	}
	task.Archived = true
	if err := c.setTask(task, task.Status); err != nil {
		c.log.Error("archive flag not persisted", "task", task.ID, "error", err.Error())
	}
}

// ClaimRewards pays a node's accrued settlement credits into its free
// balance. A node with nothing pending gets ErrNothingToClaim.
func (c *Coordinator) ClaimRewards(owner string) (math.Int, error) {
	unlock := c.accounts.lockAll(owner, types.RewardPoolAccount)
	defer unlock()

	node, err := c.getNode(owner)
	if err != nil {
		return math.ZeroInt(), err
	}
	if !node.PendingRewards.IsPositive() {
		return math.ZeroInt(), types.ErrNothingToClaim.Wrapf("node %s has no pending rewards", owner)
	}
	amount := node.PendingRewards

	poolAcct, err := c.getAccountOrNew(types.RewardPoolAccount)
	if err != nil {
		return math.ZeroInt(), err
	}
	if poolAcct.Free.LT(amount) {
		return math.ZeroInt(), types.ErrConsistencyViolation.Wrapf(
			"reward pool %s < pending %s for %s", poolAcct.Free, amount, owner)
	}
	poolAcct.Free = poolAcct.Free.Sub(amount)
	if err := c.saveAccount(poolAcct); err != nil {
		return math.ZeroInt(), err
	}
	if err := c.deposit(owner, amount); err != nil {
		return math.ZeroInt(), err
	}

	node.PendingRewards = math.ZeroInt()
	node.UpdatedAt = c.clock.Now()
	if err := c.setNode(node); err != nil {
		return math.ZeroInt(), err
	}
	if c.metrics != nil {
		c.metrics.RewardsClaimed.Inc()
	}
	c.audit(types.AuditCategoryRewards, "claim", owner, nodeTarget(owner), "", amount.String(), true, nil)
	c.log.Info("rewards claimed", "owner", owner, "amount", amount.String())
	return amount, nil
}
