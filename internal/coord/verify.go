package coord

import (
	"context"
	"time"

	"github.com/tro-protocol/coordinator/internal/types"
)

// runVerification scores the current candidate output through the wired
// scorer collaborator and applies the result. Transient scorer failures are
// retried with backoff; a hard failure leaves the task in Verifying for the
// deadline to resolve. Caller holds the task lock.
func (c *Coordinator) runVerification(ctx context.Context, task types.Task) (types.Task, error) {
	candidate, err := c.candidateOutput(task)
	if err != nil {
		return types.Task{}, err
	}
	if candidate == nil {
		return c.failTask(task, "verification_failed")
	}

	var semantic, fact, graph uint32
	err = c.withRetry(ctx, func() error {
		var err error
		semantic, err = c.scorer.SemanticScore(ctx, task.Intent, candidate.OutputRef)
		return err
	})
	if err == nil {
		err = c.withRetry(ctx, func() error {
			var err error
			fact, err = c.scorer.FactCheck(ctx, candidate.OutputRef, nil)
			return err
		})
	}
	if err == nil {
		err = c.withRetry(ctx, func() error {
			var err error
			graph, err = c.scorer.GraphConsistency(ctx, candidate.OutputRef)
			return err
		})
	}
	if err != nil {
		c.log.Error("verification scoring unavailable", "task", task.ID, "error", err.Error())
		return task, types.ErrExternalDependency.Wrapf("scoring task %d: %s", task.ID, err)
	}

	consensus, err := c.consensusScore(task, *candidate)
	if err != nil {
		return types.Task{}, err
	}
	score := c.aggregateScore(task.Workflow, semantic, fact, graph, consensus)
	c.log.Info("verification scored",
		"task", task.ID, "node", candidate.Node,
		"semantic", semantic, "fact", fact, "graph", graph, "consensus", consensus, "aggregate", score)
	return c.applyVerification(ctx, task, *candidate, score)
}

// aggregateScore mixes the component scores with the workflow's weights.
// Weights sum to the bps denominator, so the result stays in [0, 10000].
func (c *Coordinator) aggregateScore(workflow types.WorkflowClass, semantic, fact, graph, consensus uint32) uint32 {
	w, ok := c.params.Weights[workflow]
	if !ok {
		w = c.params.Weights[types.WorkflowClass_BALANCED]
	}
	sum := uint64(semantic)*uint64(w.SemanticBps) +
		uint64(fact)*uint64(w.FactBps) +
		uint64(graph)*uint64(w.GraphBps) +
		uint64(consensus)*uint64(w.ConsensusBps)
	return uint32(sum / types.BpsDenominator)
}

// consensusScore measures how much of the reasoning set agrees with the
// candidate: the fraction of non-rejected outputs carrying the same ref, in
// bps. Single-output tasks score full agreement.
func (c *Coordinator) consensusScore(task types.Task, candidate types.TaskOutput) (uint32, error) {
	outputs, err := c.TaskOutputs(task.ID)
	if err != nil {
		return 0, err
	}
	var total, agreeing uint64
	for _, o := range outputs {
		if contains(task.RejectedNodes, o.Node) {
			continue
		}
		total++
		if o.OutputRef == candidate.OutputRef {
			agreeing++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return uint32(agreeing * types.BpsDenominator / total), nil
}

// withRetry runs fn up to the configured attempt count with linear backoff,
// respecting context cancellation between attempts.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	attempts := c.params.CollaboratorRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.params.CollaboratorBackoff):
		}
	}
	return err
}
