package coord

import (
	"context"
	"hash/fnv"

	"github.com/tro-protocol/coordinator/internal/types"
)

// Deadline kinds stored in the time-ordered index. Every non-terminal wait
// in the lifecycle carries exactly one of these.
const (
	kindReasoning       byte = 0x01
	kindVerification    byte = 0x02
	kindProof           byte = 0x03
	kindChallengeWindow byte = 0x04
	kindVoting          byte = 0x05
	kindExit            byte = 0x06
)

func kindName(kind byte) string {
	switch kind {
	case kindReasoning:
		return "reasoning"
	case kindVerification:
		return "verification"
	case kindProof:
		return "proof"
	case kindChallengeWindow:
		return "challenge_window"
	case kindVoting:
		return "voting"
	case kindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// DeadlineByIDPrefix indexes pending deadlines by (kind, id) so they can be
// cancelled without scanning the time index.
var DeadlineByIDPrefix = []byte{0x0F}

func deadlineByIDKey(kind byte, id uint64) []byte {
	key := append(DeadlineByIDPrefix, kind)
	return append(key, uint64ToBytes(id)...)
}

// scheduleDeadline registers a deadline, replacing any pending one of the
// same kind for the same id.
func (c *Coordinator) scheduleDeadline(kind byte, id uint64, at int64, payload []byte) {
	c.cancelDeadline(kind, id)
	if err := c.store.setRaw(DeadlineKey(at, kind, id), payload); err != nil {
		c.log.Error("deadline schedule failed", "kind", kindName(kind), "id", id, "error", err.Error())
		return
	}
	if err := c.store.setRaw(deadlineByIDKey(kind, id), uint64ToBytes(uint64(at))); err != nil {
		c.log.Error("deadline reverse index failed", "kind", kindName(kind), "id", id, "error", err.Error())
	}
}

func (c *Coordinator) cancelDeadline(kind byte, id uint64) {
	bz, err := c.store.db.Get(deadlineByIDKey(kind, id))
	if err != nil || bz == nil {
		return
	}
	at := int64(bytesToUint64(bz))
	_ = c.store.delete(DeadlineKey(at, kind, id))
	_ = c.store.delete(deadlineByIDKey(kind, id))
}

func (c *Coordinator) scheduleReasoningDeadline(taskID uint64, at timeLike) {
	c.scheduleDeadline(kindReasoning, taskID, at.UnixNano(), nil)
}
func (c *Coordinator) cancelReasoningDeadline(taskID uint64) { c.cancelDeadline(kindReasoning, taskID) }

func (c *Coordinator) scheduleVerificationDeadline(taskID uint64, at timeLike) {
	c.scheduleDeadline(kindVerification, taskID, at.UnixNano(), nil)
}
func (c *Coordinator) cancelVerificationDeadline(taskID uint64) {
	c.cancelDeadline(kindVerification, taskID)
}

func (c *Coordinator) scheduleProofDeadline(taskID uint64, at timeLike) {
	c.scheduleDeadline(kindProof, taskID, at.UnixNano(), nil)
}
func (c *Coordinator) cancelProofDeadline(taskID uint64) { c.cancelDeadline(kindProof, taskID) }

func (c *Coordinator) scheduleChallengeWindowEnd(taskID uint64, at timeLike) {
	c.scheduleDeadline(kindChallengeWindow, taskID, at.UnixNano(), nil)
}
func (c *Coordinator) cancelChallengeWindowEnd(taskID uint64) {
	c.cancelDeadline(kindChallengeWindow, taskID)
}

func (c *Coordinator) scheduleVotingDeadline(challengeID uint64, at timeLike) {
	c.scheduleDeadline(kindVoting, challengeID, at.UnixNano(), nil)
}
func (c *Coordinator) cancelVotingDeadline(challengeID uint64) { c.cancelDeadline(kindVoting, challengeID) }

// scheduleExitCooldown keys exits by a hash of the owner; the owner travels
// in the payload since exits are never cancelled.
func (c *Coordinator) scheduleExitCooldown(owner string, at timeLike) {
	c.scheduleDeadline(kindExit, ownerHash(owner), at.UnixNano(), []byte(owner))
}

func ownerHash(owner string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(owner))
	return h.Sum64()
}

func (c *Coordinator) cancelAllTaskDeadlines(taskID uint64) {
	c.cancelReasoningDeadline(taskID)
	c.cancelVerificationDeadline(taskID)
	c.cancelProofDeadline(taskID)
	c.cancelChallengeWindowEnd(taskID)
}

// timeLike is satisfied by time.Time.
type timeLike interface{ UnixNano() int64 }

type dueDeadline struct {
	at      int64
	kind    byte
	id      uint64
	payload []byte
}

// Tick processes every deadline due at or before now and returns how many
// fired. The runtime loop calls this on a short interval; tests call it
// directly after advancing the clock.
func (c *Coordinator) Tick(ctx context.Context) (int, error) {
	now := c.clock.Now().UnixNano()

	var due []dueDeadline
	err := c.store.iteratePrefix(DeadlineKeyPrefix, func(key, value []byte) (bool, error) {
		rest := key[len(DeadlineKeyPrefix):]
		at := int64(bytesToUint64(rest[:8]))
		if at > now {
			return false, nil
		}
		payload := make([]byte, len(value))
		copy(payload, value)
		due = append(due, dueDeadline{
			at:      at,
			kind:    rest[8],
			id:      bytesToUint64(rest[9:]),
			payload: payload,
		})
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for _, d := range due {
		_ = c.store.delete(DeadlineKey(d.at, d.kind, d.id))
		_ = c.store.delete(deadlineByIDKey(d.kind, d.id))
		if c.metrics != nil {
			c.metrics.TimerExpirations.WithLabelValues(kindName(d.kind)).Inc()
		}
		if err := c.handleDeadline(ctx, d); err != nil {
			c.log.Error("deadline handler failed",
				"kind", kindName(d.kind), "id", d.id, "error", err.Error())
		}
	}
	return len(due), nil
}

func (c *Coordinator) handleDeadline(ctx context.Context, d dueDeadline) error {
	switch d.kind {
	case kindReasoning:
		return c.onReasoningTimeout(ctx, d.id)
	case kindVerification:
		return c.onVerificationTimeout(ctx, d.id)
	case kindProof:
		return c.onProofTimeout(d.id)
	case kindChallengeWindow:
		return c.onChallengeWindowEnd(d.id)
	case kindVoting:
		return c.resolveChallengeByDeadline(d.id)
	case kindExit:
		return c.CompleteExit(string(d.payload))
	default:
		return nil
	}
}

// onReasoningTimeout fires when the reasoning deadline passes. Enough
// submissions carry the task into verification; too few cancel it for lack
// of participation.
func (c *Coordinator) onReasoningTimeout(_ context.Context, taskID uint64) error {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return err
	}
	if task.Halted || task.Status.Terminal() {
		return nil
	}
	if task.Status != types.TaskStatus_PENDING && task.Status != types.TaskStatus_REASONING {
		return nil
	}
	outputs, err := c.TaskOutputs(taskID)
	if err != nil {
		return err
	}
	if len(outputs) >= c.params.SubmissionQuorum(task.Workflow) {
		_, err = c.startVerification(task)
		return err
	}
	c.log.Warn("reasoning quorum not met",
		"task", taskID, "submissions", len(outputs), "quorum", c.params.SubmissionQuorum(task.Workflow))
	_, err = c.failTask(task, "insufficient_participation")
	return err
}

// onVerificationTimeout retries scoring once when a scorer is wired,
// otherwise cancels the task as unverifiable.
func (c *Coordinator) onVerificationTimeout(ctx context.Context, taskID uint64) error {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return err
	}
	if task.Halted || task.Status != types.TaskStatus_VERIFYING {
		return nil
	}
	if c.scorer != nil {
		if _, err := c.runVerification(ctx, task); err == nil {
			return nil
		}
	}
	_, err = c.failTask(task, "verification_timeout")
	return err
}

// onProofTimeout cancels a task whose proof never arrived. Unavailability is
// not misbehavior; nobody is slashed.
func (c *Coordinator) onProofTimeout(taskID uint64) error {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return err
	}
	if task.Halted || task.Status != types.TaskStatus_PROOF_PENDING {
		return nil
	}
	c.log.Warn("proof deadline passed", "task", taskID, "proof_id", task.ProofID)
	_, err = c.failTask(task, "proof_timeout")
	return err
}

// onChallengeWindowEnd finalizes a task whose window closed undisputed.
func (c *Coordinator) onChallengeWindowEnd(taskID uint64) error {
	unlockTask := c.tasks.lock(taskID)
	defer unlockTask()

	task, err := c.getTask(taskID)
	if err != nil {
		return err
	}
	if task.Halted || task.Status != types.TaskStatus_READY_FOR_EXECUTION || task.OpenChallengeID != 0 {
		return nil
	}
	_, err = c.finalize(task)
	return err
}
