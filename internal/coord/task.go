package coord

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

// Callback stages with idempotency markers. A stage applies at most once per
// task; replayed deliveries are acknowledged without effect.
const (
	stageProof = "proof"
)

// Task returns a task record.
func (c *Coordinator) Task(taskID uint64) (types.Task, error) {
	return c.getTask(taskID)
}

// TaskOutputs returns every node output recorded for a task.
func (c *Coordinator) TaskOutputs(taskID uint64) ([]types.TaskOutput, error) {
	var out []types.TaskOutput
	err := c.store.iteratePrefix(OutputsByTaskPrefix(taskID), func(_, value []byte) (bool, error) {
		var o types.TaskOutput
		if err := json.Unmarshal(value, &o); err != nil {
			return false, err
		}
		out = append(out, o)
		return true, nil
	})
	return out, err
}

// TasksByStatus returns the IDs indexed under one lifecycle status.
func (c *Coordinator) TasksByStatus(status types.TaskStatus) ([]uint64, error) {
	var ids []uint64
	prefix := TasksByStatusIterPrefix(int32(status))
	err := c.store.iteratePrefix(prefix, func(key, _ []byte) (bool, error) {
		ids = append(ids, bytesToUint64(key[len(prefix):]))
		return true, nil
	})
	return ids, err
}

// AcknowledgeTask records an assigned node's acceptance. The first
// acknowledgement moves the task from Pending to Reasoning. On cache-hit
// tasks the cached output is recorded for the acknowledging node at once.
func (c *Coordinator) AcknowledgeTask(owner string, taskID uint64) (types.Task, error) {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Task{}, err
	}
	if task.Halted {
		return types.Task{}, types.ErrTaskHalted.Wrapf("task %d", taskID)
	}
	if task.Status != types.TaskStatus_PENDING && task.Status != types.TaskStatus_REASONING {
		return types.Task{}, types.ErrInvalidTransition.Wrapf(
			"task %d is %s, cannot acknowledge", taskID, task.Status)
	}
	if !contains(task.AssignedNodes, owner) {
		return types.Task{}, types.ErrNodeNotAssigned.Wrapf("node %s not assigned to task %d", owner, taskID)
	}
	if contains(task.AckedNodes, owner) {
		return task, nil
	}

	unlockNode := c.accounts.lock(owner)
	node, err := c.getNode(owner)
	if err != nil {
		unlockNode()
		return types.Task{}, err
	}
	if node.Status != types.NodeStatus_ACTIVE {
		unlockNode()
		return types.Task{}, types.ErrNodeNotActive.Wrapf("node %s is %s", owner, node.Status)
	}
	unlockNode()

	old := task.Status
	task.AckedNodes = append(task.AckedNodes, owner)
	task.Status = types.TaskStatus_REASONING
	task.UpdatedAt = c.clock.Now()

	if task.CacheHit && task.CachedRef != "" {
		if err := c.recordOutput(&task, types.TaskOutput{
			TaskID:        taskID,
			Node:          owner,
			OutputRef:     task.CachedRef,
			ConfidenceBps: c.params.CacheSimilarityBps,
			CacheHit:      true,
			SubmittedAt:   task.UpdatedAt,
		}); err != nil {
			return types.Task{}, err
		}
	}

	if err := c.setTask(task, old); err != nil {
		return types.Task{}, err
	}
	c.audit(types.AuditCategoryTask, "acknowledge", owner, taskTarget(taskID), old.String(), task.Status.String(), true, nil)

	if done, err := c.allAssignedSubmitted(task); err != nil {
		return types.Task{}, err
	} else if done {
		if task, err = c.startVerification(task); err != nil {
			return types.Task{}, err
		}
	}
	return task, nil
}

// SubmitOutput records one node's inference output. When every assigned node
// has submitted, the task enters verification without waiting for the
// reasoning deadline.
func (c *Coordinator) SubmitOutput(owner string, taskID uint64, outputRef string, confidenceBps uint32, latencyMs uint64) (types.Task, error) {
	if outputRef == "" {
		return types.Task{}, types.ErrInvalidAmount.Wrap("output ref must not be empty")
	}
	if confidenceBps > types.BpsDenominator {
		return types.Task{}, types.ErrInvalidScore.Wrapf("confidence %d > %d", confidenceBps, types.BpsDenominator)
	}
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Task{}, err
	}
	if task.Halted {
		return types.Task{}, types.ErrTaskHalted.Wrapf("task %d", taskID)
	}
	if task.Status != types.TaskStatus_REASONING {
		return types.Task{}, types.ErrInvalidTransition.Wrapf(
			"task %d is %s, outputs only accepted while reasoning", taskID, task.Status)
	}
	if !contains(task.AssignedNodes, owner) {
		return types.Task{}, types.ErrNodeNotAssigned.Wrapf("node %s not assigned to task %d", owner, taskID)
	}
	if has, err := c.store.has(OutputKey(taskID, owner)); err != nil {
		return types.Task{}, err
	} else if has {
		return task, nil
	}

	if err := c.recordOutput(&task, types.TaskOutput{
		TaskID:        taskID,
		Node:          owner,
		OutputRef:     outputRef,
		ConfidenceBps: confidenceBps,
		LatencyMs:     latencyMs,
		SubmittedAt:   c.clock.Now(),
	}); err != nil {
		return types.Task{}, err
	}
	task.UpdatedAt = c.clock.Now()
	if err := c.setTask(task, task.Status); err != nil {
		return types.Task{}, err
	}
	c.audit(types.AuditCategoryTask, "submit_output", owner, taskTarget(taskID), "", outputRef, true,
		map[string]string{"confidence_bps": strconv.Itoa(int(confidenceBps))})

	if done, err := c.allAssignedSubmitted(task); err != nil {
		return types.Task{}, err
	} else if done {
		if task, err = c.startVerification(task); err != nil {
			return types.Task{}, err
		}
	}
	return task, nil
}

func (c *Coordinator) recordOutput(task *types.Task, out types.TaskOutput) error {
	return c.store.setJSON(OutputKey(out.TaskID, out.Node), out)
}

func (c *Coordinator) allAssignedSubmitted(task types.Task) (bool, error) {
	outputs, err := c.TaskOutputs(task.ID)
	if err != nil {
		return false, err
	}
	return len(outputs) >= len(task.AssignedNodes), nil
}

// startVerification transitions Reasoning to Verifying. Assigned nodes that
// never submitted take a failure outcome here; the submitted set carries the
// task forward. Caller holds the task lock.
func (c *Coordinator) startVerification(task types.Task) (types.Task, error) {
	outputs, err := c.TaskOutputs(task.ID)
	if err != nil {
		return types.Task{}, err
	}
	submitted := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		submitted[o.Node] = true
	}
	for _, owner := range task.AssignedNodes {
		if !submitted[owner] {
			unlock := c.accounts.lock(owner)
			err := c.applyOutcome(owner, types.TaskOutcome_FAILURE)
			unlock()
			if err != nil {
				c.log.Error("failure outcome not applied", "task", task.ID, "node", owner, "error", err.Error())
			}
		}
	}

	old := task.Status
	task.Status = types.TaskStatus_VERIFYING
	task.UpdatedAt = c.clock.Now()
	if err := c.setTask(task, old); err != nil {
		return types.Task{}, err
	}
	c.cancelReasoningDeadline(task.ID)
	c.scheduleVerificationDeadline(task.ID, task.UpdatedAt.Add(c.params.VerificationTimeout))
	c.audit(types.AuditCategoryTask, "start_verification", "", taskTarget(task.ID), old.String(), task.Status.String(), true, nil)

	if c.scorer != nil {
		return c.runVerification(context.Background(), task)
	}
	return task, nil
}

// candidateOutput picks the next output to verify: highest confidence among
// outputs not yet rejected.
func (c *Coordinator) candidateOutput(task types.Task) (*types.TaskOutput, error) {
	outputs, err := c.TaskOutputs(task.ID)
	if err != nil {
		return nil, err
	}
	var best *types.TaskOutput
	for i := range outputs {
		o := outputs[i]
		if contains(task.RejectedNodes, o.Node) {
			continue
		}
		if best == nil || o.ConfidenceBps > best.ConfidenceBps {
			best = &outputs[i]
		}
	}
	return best, nil
}

// SubmitVerification applies externally computed verification scores to the
// current candidate output. Used when no scorer collaborator is wired.
func (c *Coordinator) SubmitVerification(taskID uint64, semanticBps, factBps, graphBps uint32) (types.Task, error) {
	for _, s := range []uint32{semanticBps, factBps, graphBps} {
		if s > types.BpsDenominator {
			return types.Task{}, types.ErrInvalidScore.Wrapf("score %d > %d", s, types.BpsDenominator)
		}
	}
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Task{}, err
	}
	if task.Halted {
		return types.Task{}, types.ErrTaskHalted.Wrapf("task %d", taskID)
	}
	if task.Status != types.TaskStatus_VERIFYING {
		return types.Task{}, types.ErrInvalidTransition.Wrapf(
			"task %d is %s, not verifying", taskID, task.Status)
	}
	candidate, err := c.candidateOutput(task)
	if err != nil {
		return types.Task{}, err
	}
	if candidate == nil {
		return types.Task{}, types.ErrVerificationFailed.Wrapf("task %d has no candidate output", taskID)
	}
	consensus, err := c.consensusScore(task, *candidate)
	if err != nil {
		return types.Task{}, err
	}
	score := c.aggregateScore(task.Workflow, semanticBps, factBps, graphBps, consensus)
	return c.applyVerification(context.Background(), task, *candidate, score)
}

// applyVerification accepts or rejects the candidate output. Acceptance
// routes through proof generation when the policy demands it; rejection
// retries the next candidate or fails the task. Caller holds the task lock.
func (c *Coordinator) applyVerification(ctx context.Context, task types.Task, candidate types.TaskOutput, score uint32) (types.Task, error) {
	task.VerificationScore = score
	if c.metrics != nil {
		c.metrics.VerificationScores.Observe(float64(score))
	}

	if score >= c.params.PassThresholdBps {
		task.ResultRef = candidate.OutputRef
		task.ResultNode = candidate.Node
		c.cancelVerificationDeadline(task.ID)
		c.audit(types.AuditCategoryTask, "verification_passed", "", taskTarget(task.ID),
			"", strconv.Itoa(int(score)), true, map[string]string{"result_node": candidate.Node})
		if task.RequiresProof {
			return c.requestProof(ctx, task)
		}
		return c.enterChallengeWindow(task)
	}

	// Rejected: drop this candidate, penalize its node, try the next.
	if c.metrics != nil {
		c.metrics.VerificationFails.Inc()
	}
	task.RejectedNodes = append(task.RejectedNodes, candidate.Node)
	unlock := c.accounts.lock(candidate.Node)
	if err := c.applyOutcome(candidate.Node, types.TaskOutcome_FAILURE); err != nil {
		c.log.Error("failure outcome not applied", "task", task.ID, "node", candidate.Node, "error", err.Error())
	}
	unlock()
	task.UpdatedAt = c.clock.Now()
	if err := c.setTask(task, task.Status); err != nil {
		return types.Task{}, err
	}
	c.audit(types.AuditCategoryTask, "verification_rejected", "", taskTarget(task.ID),
		candidate.Node, strconv.Itoa(int(score)), false, nil)

	next, err := c.candidateOutput(task)
	if err != nil {
		return types.Task{}, err
	}
	if next == nil {
		return c.failTask(task, "verification_failed")
	}
	c.scheduleVerificationDeadline(task.ID, c.clock.Now().Add(c.params.VerificationTimeout))
	if c.scorer != nil {
		return c.runVerification(ctx, task)
	}
	return task, nil
}

// requestProof moves the task to ProofPending and asks the prover for a
// proof over the accepted trace. Without a prover the task waits for
// ApplyProofResult from the proof callback route.
func (c *Coordinator) requestProof(ctx context.Context, task types.Task) (types.Task, error) {
	old := task.Status
	if c.prover != nil {
		proofID, err := c.prover.RequestProof(ctx, task.ID, task.ResultRef, task.ProofPolicy)
		if err != nil {
			c.log.Error("proof request failed", "task", task.ID, "error", err.Error())
			return c.failTask(task, "proof_unavailable")
		}
		task.ProofID = proofID
	}
	task.Status = types.TaskStatus_PROOF_PENDING
	task.UpdatedAt = c.clock.Now()
	if err := c.setTask(task, old); err != nil {
		return types.Task{}, err
	}
	c.scheduleProofDeadline(task.ID, task.UpdatedAt.Add(c.params.ProofTimeout))
	if c.metrics != nil {
		c.metrics.ProofsRequested.Inc()
	}
	c.audit(types.AuditCategoryTask, "proof_requested", "", taskTarget(task.ID), old.String(), task.Status.String(), true,
		map[string]string{"proof_id": task.ProofID})
	return task, nil
}

// ApplyProofResult consumes the proof backend's terminal status for a task.
// Deliveries are idempotent per task: the first application wins and
// replays are acknowledged unchanged.
func (c *Coordinator) ApplyProofResult(taskID uint64, proofID string, status types.ProofStatus) (types.Task, error) {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Task{}, err
	}
	if applied, err := c.store.has(AppliedStageKey(taskID, stageProof)); err != nil {
		return types.Task{}, err
	} else if applied {
		return task, nil
	}
	if task.Halted {
		return types.Task{}, types.ErrTaskHalted.Wrapf("task %d", taskID)
	}
	if task.Status != types.TaskStatus_PROOF_PENDING {
		return types.Task{}, types.ErrInvalidTransition.Wrapf(
			"task %d is %s, no proof outstanding", taskID, task.Status)
	}
	if task.ProofID != "" && proofID != "" && task.ProofID != proofID {
		return types.Task{}, types.ErrProofUnavailable.Wrapf(
			"proof %s does not match outstanding %s", proofID, task.ProofID)
	}
	if status != types.ProofStatus_VERIFIED && status != types.ProofStatus_FAILED {
		return types.Task{}, types.ErrInvalidScore.Wrapf("proof status %s is not terminal", status)
	}

	if err := c.store.setRaw(AppliedStageKey(taskID, stageProof), []byte{1}); err != nil {
		return types.Task{}, err
	}
	c.cancelProofDeadline(taskID)
	c.audit(types.AuditCategoryTask, "proof_result", "", taskTarget(taskID), task.Status.String(), status.String(),
		status == types.ProofStatus_VERIFIED, map[string]string{"proof_id": proofID})

	if status == types.ProofStatus_VERIFIED {
		return c.enterChallengeWindow(task)
	}
	if c.metrics != nil {
		c.metrics.ProofsFailed.Inc()
	}
	return c.proofFailure(task)
}

// proofFailure treats a failed proof as a defender loss: the nodes behind
// the accepted result are slashed toward the treasury, the pool returns to
// the submitter, and the task cancels. Caller holds the task lock.
func (c *Coordinator) proofFailure(task types.Task) (types.Task, error) {
	defenders := c.defendingNodes(task)
	if err := c.slashDefenders(task, defenders, types.TreasuryAccount, 0, "proof_failed"); err != nil {
		return types.Task{}, err
	}
	for _, owner := range defenders {
		unlock := c.accounts.lock(owner)
		if err := c.applyOutcome(owner, types.TaskOutcome_CHALLENGE_LOSS); err != nil {
			c.log.Error("challenge loss outcome not applied", "task", task.ID, "node", owner, "error", err.Error())
		}
		unlock()
	}
	return c.cancelWithRefund(task, task.StakePool, "proof_failed")
}

// defendingNodes are the nodes whose outputs stand behind the accepted
// result: the result node plus every submitter not rejected on the way.
func (c *Coordinator) defendingNodes(task types.Task) []string {
	outputs, err := c.TaskOutputs(task.ID)
	if err != nil {
		c.log.Error("defender scan failed", "task", task.ID, "error", err.Error())
		return nil
	}
	var defenders []string
	for _, o := range outputs {
		if contains(task.RejectedNodes, o.Node) {
			continue
		}
		defenders = append(defenders, o.Node)
	}
	return defenders
}

// slashDefenders burns the dispute fraction of the stake pool out of the
// defenders' locked node stake, proportional to their stakes, crediting the
// beneficiary. Caller holds the task lock.
func (c *Coordinator) slashDefenders(task types.Task, defenders []string, beneficiary string, challengeID uint64, reason string) error {
	if len(defenders) == 0 {
		return nil
	}
	total := task.StakePool.MulRaw(int64(c.params.DisputeSlashBps)).QuoRaw(types.BpsDenominator)
	if total.IsZero() {
		return nil
	}

	keys := append([]string{beneficiary}, defenders...)
	unlock := c.accounts.lockAll(keys...)
	defer unlock()

	stakes := make(map[string]math.Int, len(defenders))
	sum := math.ZeroInt()
	for _, owner := range defenders {
		node, err := c.getNode(owner)
		if err != nil {
			return err
		}
		stakes[owner] = node.StakeAmount
		sum = sum.Add(node.StakeAmount)
	}
	if sum.IsZero() {
		return nil
	}
	remaining := total
	for i, owner := range defenders {
		var share math.Int
		if i == len(defenders)-1 {
			share = remaining
		} else {
			share = total.Mul(stakes[owner]).Quo(sum)
			remaining = remaining.Sub(share)
		}
		slashed, err := c.slashStake(owner, share, beneficiary, reason, task.ID, challengeID)
		if err != nil {
			return err
		}
		node, err := c.getNode(owner)
		if err != nil {
			return err
		}
		node.StakeAmount = node.StakeAmount.Sub(slashed)
		if node.StakeAmount.IsNegative() {
			node.StakeAmount = math.ZeroInt()
		}
		if node.StakeAmount.LT(node.DynamicMinStake) && node.Status == types.NodeStatus_ACTIVE {
			node.Status = types.NodeStatus_SLASHED
			if c.metrics != nil {
				c.metrics.NodesActive.Dec()
			}
		}
		node.UpdatedAt = c.clock.Now()
		if err := c.setNode(node); err != nil {
			return err
		}
	}
	return nil
}

// enterChallengeWindow opens the dispute window on a verified result.
// Caller holds the task lock.
func (c *Coordinator) enterChallengeWindow(task types.Task) (types.Task, error) {
	old := task.Status
	now := c.clock.Now()
	task.Status = types.TaskStatus_READY_FOR_EXECUTION
	task.ChallengePeriodEnd = now.Add(time.Duration(task.ChallengeWindow) * time.Second)
	task.UpdatedAt = now
	if err := c.setTask(task, old); err != nil {
		return types.Task{}, err
	}
	c.scheduleChallengeWindowEnd(task.ID, task.ChallengePeriodEnd)
	c.audit(types.AuditCategoryTask, "challenge_window_open", "", taskTarget(task.ID), old.String(), task.Status.String(), true, nil)
	c.log.Info("task ready for execution",
		"task", task.ID, "score", task.VerificationScore, "window_ends", task.ChallengePeriodEnd.String())
	return task, nil
}

// FinalizeTask closes a task whose challenge window elapsed without an open
// dispute. Verified outputs feed the semantic cache; the task joins the
// settlement queue.
func (c *Coordinator) FinalizeTask(taskID uint64) (types.Task, error) {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Task{}, err
	}
	return c.finalize(task)
}

// finalize performs the ReadyForExecution to Finalized transition. Caller
// holds the task lock.
func (c *Coordinator) finalize(task types.Task) (types.Task, error) {
	if task.Halted {
		return types.Task{}, types.ErrTaskHalted.Wrapf("task %d", task.ID)
	}
	if task.Status != types.TaskStatus_READY_FOR_EXECUTION {
		return types.Task{}, types.ErrInvalidTransition.Wrapf(
			"task %d is %s, cannot finalize", task.ID, task.Status)
	}
	now := c.clock.Now()
	if now.Before(task.ChallengePeriodEnd) {
		return types.Task{}, types.ErrChallengeWindowOpen.Wrapf(
			"window on task %d runs until %s", task.ID, task.ChallengePeriodEnd)
	}
	if task.OpenChallengeID != 0 {
		return types.Task{}, types.ErrChallengeAlreadyOpen.Wrapf(
			"challenge %d still open on task %d", task.OpenChallengeID, task.ID)
	}

	for _, owner := range c.defendingNodes(task) {
		unlock := c.accounts.lock(owner)
		if err := c.applyOutcome(owner, types.TaskOutcome_SUCCESS); err != nil {
			c.log.Error("success outcome not applied", "task", task.ID, "node", owner, "error", err.Error())
		}
		unlock()
	}

	old := task.Status
	task.Status = types.TaskStatus_FINALIZED
	task.UpdatedAt = now
	if err := c.setTask(task, old); err != nil {
		return types.Task{}, err
	}
	if err := c.store.setRaw(UnsettledTaskKey(task.ID), []byte{1}); err != nil {
		return types.Task{}, err
	}
	c.cancelChallengeWindowEnd(task.ID)

	if c.cache != nil && !task.CacheHit && task.ResultRef != "" {
		if err := c.cache.Store(context.Background(), task.Fingerprint, task.ResultRef); err != nil {
			c.log.Warn("semantic cache store failed", "task", task.ID, "error", err.Error())
		}
	}
	if c.metrics != nil {
		c.metrics.TasksFinalized.WithLabelValues(task.Workflow.String()).Inc()
		c.metrics.TasksActive.Dec()
	}
	c.audit(types.AuditCategoryTask, "finalize", "", taskTarget(task.ID), old.String(), task.Status.String(), true,
		map[string]string{"result_node": task.ResultNode, "score": strconv.Itoa(int(task.VerificationScore))})
	c.log.Info("task finalized", "task", task.ID, "result_node", task.ResultNode)
	return task, nil
}

// CancelTask lets the submitter withdraw a task that has not entered
// verification. The processing fee goes to the treasury; the rest of the
// pool returns.
func (c *Coordinator) CancelTask(actor string, taskID uint64) (types.Task, error) {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Task{}, err
	}
	if task.Halted {
		return types.Task{}, types.ErrTaskHalted.Wrapf("task %d", taskID)
	}
	if actor != task.Submitter {
		return types.Task{}, types.ErrUnauthorizedActor.Wrapf("only the submitter may cancel task %d", taskID)
	}
	if task.Status != types.TaskStatus_PENDING && task.Status != types.TaskStatus_REASONING {
		return types.Task{}, types.ErrCancellationWindowOver.Wrapf(
			"task %d is %s, past the cancellation window", taskID, task.Status)
	}
	fee := math.MinInt(c.params.ProcessingFee, task.StakePool)
	return c.cancelWithRefund(task, task.StakePool.Sub(fee), "submitter_cancel")
}

// failTask cancels a task on an internal failure: the pool returns minus the
// processing fee. Caller holds the task lock.
func (c *Coordinator) failTask(task types.Task, reason string) (types.Task, error) {
	fee := math.MinInt(c.params.ProcessingFee, task.StakePool)
	return c.cancelWithRefund(task, task.StakePool.Sub(fee), reason)
}

// cancelWithRefund terminates a task, returning refund to the submitter and
// the rest of the pool to the treasury as the fee. Caller holds the task
// lock.
func (c *Coordinator) cancelWithRefund(task types.Task, refund math.Int, reason string) (types.Task, error) {
	fee := task.StakePool.Sub(refund)

	unlock := c.accounts.lockAll(task.Submitter, types.TreasuryAccount)
	if fee.IsPositive() {
		if err := c.moveLocked(task.Submitter, types.TreasuryAccount, fee, taskPoolPurpose); err != nil {
			unlock()
			return types.Task{}, err
		}
	}
	if refund.IsPositive() {
		if err := c.releaseStake(task.Submitter, refund, taskPoolPurpose); err != nil {
			unlock()
			return types.Task{}, err
		}
	}
	unlock()

	old := task.Status
	task.Status = types.TaskStatus_CANCELLED
	task.FeeCharged = fee
	task.Returned = refund
	task.Settled = true
	task.UpdatedAt = c.clock.Now()
	if err := c.setTask(task, old); err != nil {
		return types.Task{}, err
	}
	c.cancelAllTaskDeadlines(task.ID)
	if c.metrics != nil {
		c.metrics.TasksCancelled.WithLabelValues(reason).Inc()
		c.metrics.TasksActive.Dec()
	}
	c.audit(types.AuditCategoryTask, "cancel", task.Submitter, taskTarget(task.ID), old.String(), task.Status.String(), true,
		map[string]string{"reason": reason, "refund": refund.String(), "fee": fee.String()})
	c.log.Info("task cancelled", "task", task.ID, "reason", reason, "refund", refund.String())
	if err := c.checkTaskConservation(task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
