package coord

import (
	"context"
	"strconv"
	"strings"

	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

const challengeBondPurpose = "challenge_bond"

// Challenge returns a challenge record.
func (c *Coordinator) Challenge(challengeID uint64) (types.Challenge, error) {
	return c.getChallenge(challengeID)
}

// MinChallengeBond is the smallest bond accepted against a task: the bond
// fraction of its stake pool.
func (c *Coordinator) MinChallengeBond(task types.Task) math.Int {
	return task.StakePool.MulRaw(int64(c.params.ChallengeBondBps)).QuoRaw(types.BpsDenominator)
}

// OpenChallenge disputes a verified result inside its challenge window. The
// bond is deposited and locked with the command; the task freezes in
// Disputed until the vote resolves.
func (c *Coordinator) OpenChallenge(challenger string, taskID uint64, bond math.Int, reason, evidenceRef, counterResultRef string) (types.Challenge, error) {
	if challenger == "" {
		return types.Challenge{}, types.ErrInvalidAmount.Wrap("challenger must not be empty")
	}
	if strings.TrimSpace(reason) == "" || len(reason) > types.ReasonMaxLen {
		return types.Challenge{}, types.ErrInvalidIntent.Wrapf("challenge reason empty or over %d chars", types.ReasonMaxLen)
	}

	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return types.Challenge{}, err
	}
	if task.Halted {
		return types.Challenge{}, types.ErrTaskHalted.Wrapf("task %d", taskID)
	}
	if task.Status != types.TaskStatus_READY_FOR_EXECUTION {
		return types.Challenge{}, types.ErrInvalidTransition.Wrapf(
			"task %d is %s, only verified results are challengeable", taskID, task.Status)
	}
	now := c.clock.Now()
	if !now.Before(task.ChallengePeriodEnd) {
		return types.Challenge{}, types.ErrChallengeWindowClosed.Wrapf(
			"window on task %d closed at %s", taskID, task.ChallengePeriodEnd)
	}
	if task.OpenChallengeID != 0 {
		return types.Challenge{}, types.ErrChallengeAlreadyOpen.Wrapf(
			"challenge %d already open on task %d", task.OpenChallengeID, taskID)
	}
	if contains(c.defendingNodes(task), challenger) {
		return types.Challenge{}, types.ErrUnauthorizedActor.Wrapf(
			"node %s defends task %d and cannot challenge it", challenger, taskID)
	}
	minBond := c.MinChallengeBond(task)
	if bond.IsNil() || bond.LT(minBond) {
		return types.Challenge{}, types.ErrInsufficientBond.Wrapf("bond %s below minimum %s", bond, minBond)
	}

	unlock := c.accounts.lock(challenger)
	if err := c.deposit(challenger, bond); err != nil {
		unlock()
		return types.Challenge{}, err
	}
	if err := c.lockStake(challenger, bond, challengeBondPurpose); err != nil {
		unlock()
		return types.Challenge{}, err
	}
	unlock()

	id, err := c.store.nextID(NextChallengeIDKey)
	if err != nil {
		return types.Challenge{}, err
	}
	ch := types.Challenge{
		ID:               id,
		TaskID:           taskID,
		Challenger:       challenger,
		Bond:             bond,
		Reason:           reason,
		EvidenceRef:      evidenceRef,
		CounterResultRef: counterResultRef,
		Status:           types.ChallengeStatus_VOTING,
		Outcome:          types.ResolutionOutcome_PENDING,
		Voters:           map[string]bool{},
		VotingDeadline:   now.Add(c.params.VotingPeriod),
		CreatedAt:        now,
	}
	if err := c.setChallenge(ch); err != nil {
		return types.Challenge{}, err
	}
	if err := c.store.setRaw(ChallengeByTaskKey(taskID, id), []byte{1}); err != nil {
		return types.Challenge{}, err
	}

	old := task.Status
	task.Status = types.TaskStatus_DISPUTED
	task.OpenChallengeID = id
	task.DisputeCount++
	task.UpdatedAt = now
	if err := c.setTask(task, old); err != nil {
		return types.Challenge{}, err
	}
	c.cancelChallengeWindowEnd(taskID)
	c.scheduleVotingDeadline(id, ch.VotingDeadline)

	if c.metrics != nil {
		c.metrics.ChallengesOpen.Inc()
	}
	c.audit(types.AuditCategoryChallenge, "open", challenger, challengeTarget(id), "", ch.Status.String(), true,
		map[string]string{"task": strconv.FormatUint(taskID, 10), "bond": bond.String()})
	c.log.Info("challenge opened",
		"challenge", id, "task", taskID, "challenger", challenger, "bond", bond.String(),
		"voting_deadline", ch.VotingDeadline.String())
	return ch, nil
}

// CastVote records an active node's vote on an open challenge. Parties to
// the dispute cannot vote; each node votes once.
func (c *Coordinator) CastVote(voter string, challengeID uint64, support bool) (types.Challenge, error) {
	ch, err := c.getChallenge(challengeID)
	if err != nil {
		return types.Challenge{}, err
	}

	unlockTask := c.tasks.lock(ch.TaskID)
	defer unlockTask()

	ch, err = c.getChallenge(challengeID)
	if err != nil {
		return types.Challenge{}, err
	}
	if ch.Status != types.ChallengeStatus_VOTING {
		return types.Challenge{}, types.ErrChallengeResolved.Wrapf("challenge %d is %s", challengeID, ch.Status)
	}
	now := c.clock.Now()
	if now.After(ch.VotingDeadline) {
		return types.Challenge{}, types.ErrVotingClosed.Wrapf(
			"voting on challenge %d closed at %s", challengeID, ch.VotingDeadline)
	}
	node, err := c.getNode(voter)
	if err != nil {
		return types.Challenge{}, err
	}
	if node.Status != types.NodeStatus_ACTIVE {
		return types.Challenge{}, types.ErrNodeNotActive.Wrapf("voter %s is %s", voter, node.Status)
	}
	task, err := c.getTask(ch.TaskID)
	if err != nil {
		return types.Challenge{}, err
	}
	if voter == ch.Challenger || contains(c.defendingNodes(task), voter) {
		return types.Challenge{}, types.ErrUnauthorizedActor.Wrapf("%s is a party to challenge %d", voter, challengeID)
	}
	if ch.Voters[voter] {
		return types.Challenge{}, types.ErrDuplicateVote.Wrapf("%s already voted on challenge %d", voter, challengeID)
	}

	ch.Voters[voter] = true
	if support {
		ch.VotesFor++
	} else {
		ch.VotesAgainst++
	}
	if err := c.setChallenge(ch); err != nil {
		return types.Challenge{}, err
	}
	if c.metrics != nil {
		direction := "against"
		if support {
			direction = "for"
		}
		c.metrics.ChallengeVotes.WithLabelValues(direction).Inc()
	}
	c.audit(types.AuditCategoryChallenge, "vote", voter, challengeTarget(challengeID), "",
		strconv.FormatBool(support), true, nil)
	return ch, nil
}

// ResolveChallenge tallies a challenge after its voting deadline. Short of
// quorum the defenders win by default; otherwise the majority decides, with
// a tie counting as a draw that returns the bond and upholds the result.
func (c *Coordinator) ResolveChallenge(challengeID uint64) (types.Challenge, error) {
	ch, err := c.getChallenge(challengeID)
	if err != nil {
		return types.Challenge{}, err
	}

	unlockTask := c.tasks.lock(ch.TaskID)
	defer unlockTask()
	return c.resolveChallenge(challengeID)
}

func (c *Coordinator) resolveChallengeByDeadline(challengeID uint64) error {
	ch, err := c.getChallenge(challengeID)
	if err != nil {
		return err
	}
	unlockTask := c.tasks.lock(ch.TaskID)
	defer unlockTask()
	_, err = c.resolveChallenge(challengeID)
	return err
}

// resolveChallenge decides and settles a challenge. Caller holds the task
// lock for the challenged task.
func (c *Coordinator) resolveChallenge(challengeID uint64) (types.Challenge, error) {
	ch, err := c.getChallenge(challengeID)
	if err != nil {
		return types.Challenge{}, err
	}
	if ch.Status != types.ChallengeStatus_VOTING {
		return types.Challenge{}, types.ErrChallengeResolved.Wrapf("challenge %d is %s", challengeID, ch.Status)
	}
	now := c.clock.Now()
	if now.Before(ch.VotingDeadline) {
		return types.Challenge{}, types.ErrChallengeWindowOpen.Wrapf(
			"voting on challenge %d runs until %s", challengeID, ch.VotingDeadline)
	}
	task, err := c.getTask(ch.TaskID)
	if err != nil {
		return types.Challenge{}, err
	}

	totalVotes := ch.VotesFor + ch.VotesAgainst
	switch {
	case totalVotes < c.params.VoteQuorum:
		ch.Outcome = types.ResolutionOutcome_DEFENDER_WINS
		ch.OutcomeReason = "quorum_not_met"
		ch.Status = types.ChallengeStatus_REJECTED
	case ch.VotesFor > ch.VotesAgainst:
		ch.Outcome = types.ResolutionOutcome_CHALLENGER_WINS
		ch.Status = types.ChallengeStatus_RESOLVED
	case ch.VotesFor < ch.VotesAgainst:
		ch.Outcome = types.ResolutionOutcome_DEFENDER_WINS
		ch.Status = types.ChallengeStatus_RESOLVED
	default:
		ch.Outcome = types.ResolutionOutcome_DRAW
		ch.Status = types.ChallengeStatus_RESOLVED
	}
	ch.ResolvedAt = &now
	if err := c.setChallenge(ch); err != nil {
		return types.Challenge{}, err
	}
	c.cancelVotingDeadline(challengeID)
	if c.metrics != nil {
		c.metrics.ChallengesOpen.Dec()
	}

	task.OpenChallengeID = 0
	task.UpdatedAt = now

	switch ch.Outcome {
	case types.ResolutionOutcome_CHALLENGER_WINS:
		err = c.applyChallengerWins(&task, ch)
	case types.ResolutionOutcome_DEFENDER_WINS:
		err = c.applyDefenderWins(&task, ch)
	default:
		err = c.applyDraw(&task, ch)
	}
	if err != nil {
		return types.Challenge{}, err
	}
	c.audit(types.AuditCategoryChallenge, "resolve", "", challengeTarget(challengeID),
		types.ChallengeStatus_VOTING.String(), ch.Status.String(), true,
		map[string]string{
			"outcome":       ch.Outcome.String(),
			"votes_for":     strconv.Itoa(int(ch.VotesFor)),
			"votes_against": strconv.Itoa(int(ch.VotesAgainst)),
		})
	c.log.Info("challenge resolved",
		"challenge", challengeID, "task", ch.TaskID, "outcome", ch.Outcome.String(),
		"votes_for", ch.VotesFor, "votes_against", ch.VotesAgainst)
	return ch, nil
}

// applyChallengerWins overturns the result: defenders are slashed toward the
// challenger, the bond returns, the pool refunds the submitter, and the task
// finalizes reversed.
func (c *Coordinator) applyChallengerWins(task *types.Task, ch types.Challenge) error {
	defenders := c.defendingNodes(*task)
	if err := c.slashDefenders(*task, defenders, ch.Challenger, ch.ID, "challenge_lost"); err != nil {
		return err
	}
	for _, owner := range defenders {
		unlock := c.accounts.lock(owner)
		if err := c.applyOutcome(owner, types.TaskOutcome_CHALLENGE_LOSS); err != nil {
			c.log.Error("challenge loss outcome not applied", "task", task.ID, "node", owner, "error", err.Error())
		}
		unlock()
	}

	unlock := c.accounts.lockAll(ch.Challenger, task.Submitter)
	if err := c.releaseStake(ch.Challenger, ch.Bond, challengeBondPurpose); err != nil {
		unlock()
		return err
	}
	if err := c.releaseStake(task.Submitter, task.StakePool, taskPoolPurpose); err != nil {
		unlock()
		return err
	}
	unlock()

	if c.nodeExists(ch.Challenger) {
		unlock := c.accounts.lock(ch.Challenger)
		if err := c.applyOutcome(ch.Challenger, types.TaskOutcome_CHALLENGE_WIN); err != nil {
			c.log.Error("challenge win outcome not applied", "node", ch.Challenger, "error", err.Error())
		}
		unlock()
	}

	old := task.Status
	task.Status = types.TaskStatus_FINALIZED
	task.Reversed = true
	task.Returned = task.StakePool
	task.Settled = true
	if err := c.setTask(*task, old); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.TasksFinalized.WithLabelValues(task.Workflow.String()).Inc()
		c.metrics.TasksActive.Dec()
	}
	return c.checkTaskConservation(*task)
}

// applyDefenderWins upholds the result: the bond tops up the stake pool,
// reputations move, and the task finalizes into the settlement queue.
func (c *Coordinator) applyDefenderWins(task *types.Task, ch types.Challenge) error {
	unlock := c.accounts.lockAll(ch.Challenger, task.Submitter)
	err := c.moveBondToPool(ch.Challenger, task.Submitter, ch.Bond)
	unlock()
	if err != nil {
		return err
	}
	task.BondTopUp = task.BondTopUp.Add(ch.Bond)

	for _, owner := range c.defendingNodes(*task) {
		unlockN := c.accounts.lock(owner)
		if err := c.applyOutcome(owner, types.TaskOutcome_CHALLENGE_WIN); err != nil {
			c.log.Error("challenge win outcome not applied", "task", task.ID, "node", owner, "error", err.Error())
		}
		unlockN()
	}
	if c.nodeExists(ch.Challenger) {
		unlockN := c.accounts.lock(ch.Challenger)
		if err := c.applyOutcome(ch.Challenger, types.TaskOutcome_CHALLENGE_LOSS); err != nil {
			c.log.Error("challenge loss outcome not applied", "node", ch.Challenger, "error", err.Error())
		}
		unlockN()
	}
	return c.finalizeUpheld(task)
}

// applyDraw returns the bond without slashing and upholds the result.
func (c *Coordinator) applyDraw(task *types.Task, ch types.Challenge) error {
	unlock := c.accounts.lock(ch.Challenger)
	err := c.releaseStake(ch.Challenger, ch.Bond, challengeBondPurpose)
	unlock()
	if err != nil {
		return err
	}
	return c.finalizeUpheld(task)
}

// finalizeUpheld completes a disputed task whose result stood. Caller holds
// the task lock.
func (c *Coordinator) finalizeUpheld(task *types.Task) error {
	for _, owner := range c.defendingNodes(*task) {
		unlock := c.accounts.lock(owner)
		if err := c.applyOutcome(owner, types.TaskOutcome_SUCCESS); err != nil {
			c.log.Error("success outcome not applied", "task", task.ID, "node", owner, "error", err.Error())
		}
		unlock()
	}
	old := task.Status
	task.Status = types.TaskStatus_FINALIZED
	if err := c.setTask(*task, old); err != nil {
		return err
	}
	if err := c.store.setRaw(UnsettledTaskKey(task.ID), []byte{1}); err != nil {
		return err
	}
	if c.cache != nil && !task.CacheHit && task.ResultRef != "" {
		if err := c.cache.Store(context.Background(), task.Fingerprint, task.ResultRef); err != nil {
			c.log.Warn("semantic cache store failed", "task", task.ID, "error", err.Error())
		}
	}
	if c.metrics != nil {
		c.metrics.TasksFinalized.WithLabelValues(task.Workflow.String()).Inc()
		c.metrics.TasksActive.Dec()
	}
	return nil
}

// moveBondToPool shifts a slashed bond from the challenger's locked balance
// into the submitter's locked pool. Caller holds both stripes.
func (c *Coordinator) moveBondToPool(challenger, submitter string, bond math.Int) error {
	src, err := c.getAccountOrNew(challenger)
	if err != nil {
		return err
	}
	if src.Locked.LT(bond) {
		return types.ErrConsistencyViolation.Wrapf("challenger locked %s < bond %s", src.Locked, bond)
	}
	src.Locked = src.Locked.Sub(bond)
	if err := c.saveAccount(src); err != nil {
		return err
	}
	dst, err := c.getAccountOrNew(submitter)
	if err != nil {
		return err
	}
	dst.Locked = dst.Locked.Add(bond)
	if err := c.saveAccount(dst); err != nil {
		return err
	}
	c.audit(types.AuditCategoryLedger, "bond_to_pool", challenger, accountTarget(submitter), "", bond.String(), true, nil)
	return nil
}

func (c *Coordinator) nodeExists(owner string) bool {
	has, err := c.store.has(NodeKey(owner))
	return err == nil && has
}
