package coord

import (
	"fmt"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/google/uuid"

	"github.com/tro-protocol/coordinator/internal/collab"
	"github.com/tro-protocol/coordinator/internal/metrics"
	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

// Archiver receives settled tasks for long-term storage. Archive failures are
// logged and retried on the next epoch pass, never surfaced to settlement.
type Archiver interface {
	Archive(task types.Task, outputs []types.TaskOutput) error
}

// Coordinator drives the task lifecycle and its economic bookkeeping over a
// single key-value store. All exported operations are safe for concurrent
// use; mutations on one task or account serialize through striped locks,
// always acquiring task locks before account locks.
type Coordinator struct {
	store   *Store
	params  types.Params
	log     *logger.Logger
	metrics *metrics.CoordinatorMetrics
	clock   Clock

	reasoner collab.Reasoner
	cache    collab.SemanticCache
	scorer   collab.Scorer
	prover   collab.Prover
	content  collab.ContentStore
	archiver Archiver

	tasks    taskLock
	accounts stripedLock
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithClock overrides the system clock.
func WithClock(c Clock) Option { return func(co *Coordinator) { co.clock = c } }

// WithReasoner wires the inference collaborator used by the runtime loop.
func WithReasoner(r collab.Reasoner) Option { return func(co *Coordinator) { co.reasoner = r } }

// WithCache wires the semantic cache consulted at submission.
func WithCache(c collab.SemanticCache) Option { return func(co *Coordinator) { co.cache = c } }

// WithScorer wires the verification scoring collaborator. Without one,
// verification waits for scores pushed through SubmitVerification.
func WithScorer(s collab.Scorer) Option { return func(co *Coordinator) { co.scorer = s } }

// WithProver wires the proof generation collaborator.
func WithProver(p collab.Prover) Option { return func(co *Coordinator) { co.prover = p } }

// WithContentStore wires content-addressed blob storage.
func WithContentStore(cs collab.ContentStore) Option { return func(co *Coordinator) { co.content = cs } }

// WithArchiver wires the settled-task archive.
func WithArchiver(a Archiver) Option { return func(co *Coordinator) { co.archiver = a } }

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *metrics.CoordinatorMetrics) Option { return func(co *Coordinator) { co.metrics = m } }

// New builds a Coordinator over db with the given parameters.
func New(db dbm.DB, params types.Params, log *logger.Logger, opts ...Option) (*Coordinator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if log == nil {
		log = logger.NewLogger("coordinator")
	}
	c := &Coordinator{
		store:  NewStore(db),
		params: params,
		log:    log,
		clock:  NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Params returns the coordinator's operating parameters.
func (c *Coordinator) Params() types.Params { return c.params }

// Store exposes read access to the underlying store for queries.
func (c *Coordinator) Store() *Store { return c.store }

// TaskAudit returns a task's audit trail in insertion order.
func (c *Coordinator) TaskAudit(taskID uint64) ([]types.AuditEntry, error) {
	return c.store.AuditTrail(taskTarget(taskID))
}

// ---- record accessors ----

func (c *Coordinator) getTask(taskID uint64) (types.Task, error) {
	var t types.Task
	found, err := c.store.getJSON(TaskKey(taskID), &t)
	if err != nil {
		return t, err
	}
	if !found {
		return t, types.ErrTaskNotFound.Wrapf("task %d", taskID)
	}
	return t, nil
}

// setTask persists a task and keeps the status index in step. oldStatus is
// the status currently indexed; pass the task's own status for inserts.
func (c *Coordinator) setTask(t types.Task, oldStatus types.TaskStatus) error {
	if oldStatus != t.Status {
		if err := c.store.delete(TaskByStatusKey(int32(oldStatus), t.ID)); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.TaskTransitions.WithLabelValues(oldStatus.String(), t.Status.String()).Inc()
		}
	}
	if err := c.store.setRaw(TaskByStatusKey(int32(t.Status), t.ID), []byte{1}); err != nil {
		return err
	}
	return c.store.setJSON(TaskKey(t.ID), t)
}

func (c *Coordinator) getNode(owner string) (types.ReasoningNode, error) {
	var n types.ReasoningNode
	found, err := c.store.getJSON(NodeKey(owner), &n)
	if err != nil {
		return n, err
	}
	if !found {
		return n, types.ErrNodeNotFound.Wrapf("node %s", owner)
	}
	return n, nil
}

func (c *Coordinator) setNode(n types.ReasoningNode) error {
	if c.metrics != nil {
		c.metrics.NodeReputation.WithLabelValues(n.Owner).Set(float64(n.ReputationBps))
	}
	return c.store.setJSON(NodeKey(n.Owner), n)
}

func (c *Coordinator) getChallenge(challengeID uint64) (types.Challenge, error) {
	var ch types.Challenge
	found, err := c.store.getJSON(ChallengeKey(challengeID), &ch)
	if err != nil {
		return ch, err
	}
	if !found {
		return ch, types.ErrChallengeNotFound.Wrapf("challenge %d", challengeID)
	}
	return ch, nil
}

func (c *Coordinator) setChallenge(ch types.Challenge) error {
	return c.store.setJSON(ChallengeKey(ch.ID), ch)
}

// audit appends a trail entry; failures are logged, never fatal.
func (c *Coordinator) audit(category, action, actor, target, oldVal, newVal string, success bool, md map[string]string) {
	entry := types.AuditEntry{
		ID:       uuid.NewString(),
		Category: category,
		Action:   action,
		Actor:    actor,
		Target:   target,
		OldValue: oldVal,
		NewValue: newVal,
		Success:  success,
		Metadata: md,
		At:       c.clock.Now(),
	}
	if err := c.store.appendAudit(entry); err != nil {
		c.log.Error("audit append failed", "action", action, "target", target, "error", err.Error())
	}
}

func taskTarget(taskID uint64) string  { return fmt.Sprintf("task/%d", taskID) }
func nodeTarget(owner string) string   { return "node/" + owner }
func accountTarget(owner string) string { return "account/" + owner }
func challengeTarget(id uint64) string { return fmt.Sprintf("challenge/%d", id) }
