package coord

import (
	"encoding/json"
	"fmt"

	"github.com/tro-protocol/coordinator/internal/types"
)

// checkTaskConservation verifies that a settled task's flows split its pool
// exactly: paid + returned + fee must equal the pool plus any bond top-up. A
// violation halts the task so no further flow can compound the damage.
// Caller holds the task lock.
func (c *Coordinator) checkTaskConservation(task types.Task) error {
	if !task.Settled {
		return nil
	}
	expected := task.StakePool.Add(task.BondTopUp)
	actual := task.PaidOut.Add(task.Returned).Add(task.FeeCharged)
	if actual.Equal(expected) {
		return nil
	}

	task.Halted = true
	if err := c.setTask(task, task.Status); err != nil {
		c.log.Error("halt flag not persisted", "task", task.ID, "error", err.Error())
	}
	if c.metrics != nil {
		c.metrics.InvariantFailures.Inc()
	}
	c.audit(types.AuditCategoryTask, "conservation_violation", "", taskTarget(task.ID),
		expected.String(), actual.String(), false, nil)
	c.log.Error("stake conservation violated, task halted",
		"task", task.ID, "expected", expected.String(), "actual", actual.String())
	return types.ErrConsistencyViolation.Wrapf(
		"task %d flows %s != pool %s", task.ID, actual, expected)
}

// CheckInvariants sweeps the whole store for consistency: per-task
// conservation, non-negative ledger balances, and status index agreement.
// Returns every violation found rather than stopping at the first.
func (c *Coordinator) CheckInvariants() []error {
	var violations []error

	err := c.store.iteratePrefix(TaskKeyPrefix, func(_, value []byte) (bool, error) {
		var t types.Task
		if err := json.Unmarshal(value, &t); err != nil {
			return false, err
		}
		if t.Settled && !t.Halted {
			expected := t.StakePool.Add(t.BondTopUp)
			actual := t.PaidOut.Add(t.Returned).Add(t.FeeCharged)
			if !actual.Equal(expected) {
				violations = append(violations, fmt.Errorf(
					"task %d: flows %s != pool %s", t.ID, actual, expected))
			}
		}
		if has, err := c.store.has(TaskByStatusKey(int32(t.Status), t.ID)); err != nil {
			return false, err
		} else if !has {
			violations = append(violations, fmt.Errorf(
				"task %d: missing status index entry for %s", t.ID, t.Status))
		}
		return true, nil
	})
	if err != nil {
		violations = append(violations, err)
	}

	err = c.store.iteratePrefix(AccountKeyPrefix, func(_, value []byte) (bool, error) {
		var a types.StakeAccount
		if err := json.Unmarshal(value, &a); err != nil {
			return false, err
		}
		if a.Free.IsNegative() || a.Locked.IsNegative() {
			violations = append(violations, fmt.Errorf(
				"account %s: negative balance free=%s locked=%s", a.Owner, a.Free, a.Locked))
		}
		return true, nil
	})
	if err != nil {
		violations = append(violations, err)
	}

	if len(violations) > 0 && c.metrics != nil {
		c.metrics.InvariantFailures.Add(float64(len(violations)))
	}
	return violations
}
