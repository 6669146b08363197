package coord

import (
	"context"

	"github.com/tro-protocol/coordinator/internal/types"
)

// ProcessPending drives pending tasks through the wired reasoner: each
// assigned node acknowledges and submits an inference. Without a reasoner
// this is a no-op and nodes push outputs through the command surface
// themselves. One failing task never blocks the rest of the pass.
func (c *Coordinator) ProcessPending(ctx context.Context) error {
	if c.reasoner == nil {
		return nil
	}
	ids, err := c.TasksByStatus(types.TaskStatus_PENDING)
	if err != nil {
		return err
	}
	for _, taskID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := c.getTask(taskID)
		if err != nil {
			c.log.Error("pending task load failed", "task", taskID, "error", err.Error())
			continue
		}
		c.dispatchTask(ctx, task)
	}
	return nil
}

func (c *Coordinator) dispatchTask(ctx context.Context, task types.Task) {
	inferCtx, cancel := context.WithTimeout(ctx, c.params.ReasoningTimeout)
	defer cancel()

	for _, owner := range task.AssignedNodes {
		updated, err := c.AcknowledgeTask(owner, task.ID)
		if err != nil {
			c.log.Warn("acknowledge failed", "task", task.ID, "node", owner, "error", err.Error())
			continue
		}
		if updated.CacheHit {
			continue
		}
		res, err := c.reasoner.Infer(inferCtx, task.ID, owner, task.Intent)
		if err != nil {
			c.log.Warn("inference failed", "task", task.ID, "node", owner, "error", err.Error())
			continue
		}
		if _, err := c.SubmitOutput(owner, task.ID, res.OutputRef, res.ConfidenceBps, res.LatencyMs); err != nil {
			c.log.Warn("output submission failed", "task", task.ID, "node", owner, "error", err.Error())
		}
	}
}
