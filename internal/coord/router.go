package coord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

const taskPoolPurpose = "task_pool"

// reasoningMarkers raise the complexity score when present in an intent.
var reasoningMarkers = []string{"analyze", "prove", "derive", "compare", "explain why", "step by step", "multi-step"}

// ComplexityScore rates an intent 0-1000 from its task type, length, and
// reasoning markers. The score is fixed at submission and drives workflow
// resolution.
func ComplexityScore(intent string, taskType types.TaskType) uint16 {
	var base int
	switch taskType {
	case types.TaskType_SIMPLE_QA:
		base = 100
	case types.TaskType_COMPLEX_REASONING:
		base = 500
	case types.TaskType_MULTI_STEP:
		base = 600
	case types.TaskType_DATA_ANALYSIS:
		base = 450
	}
	score := base + len(intent)/4
	lower := strings.ToLower(intent)
	for _, marker := range reasoningMarkers {
		if strings.Contains(lower, marker) {
			score += 75
		}
	}
	if score > types.MaxComplexity {
		score = types.MaxComplexity
	}
	return uint16(score)
}

// ResolveWorkflow picks the effective workflow class. Criticality overrides
// the requested class: mission-critical always runs consensus-guarded, high
// criticality escalates by complexity, and only trivially simple
// low-criticality intents keep the fast path.
func ResolveWorkflow(requested types.WorkflowClass, criticality types.Criticality, complexity uint16) types.WorkflowClass {
	switch criticality {
	case types.Criticality_MISSION_CRITICAL:
		return types.WorkflowClass_CONSENSUS_GUARDED
	case types.Criticality_HIGH:
		if complexity > 600 {
			return types.WorkflowClass_DEEP_REASONING
		}
		return types.WorkflowClass_BALANCED
	case types.Criticality_LOW:
		if complexity < 200 {
			return types.WorkflowClass_FAST_REALTIME
		}
		return requested
	default:
		return requested
	}
}

// defaultProofPolicy derives the proof requirements from criticality.
func defaultProofPolicy(criticality types.Criticality) types.ProofPolicy {
	switch criticality {
	case types.Criticality_MISSION_CRITICAL:
		return types.ProofPolicy{RequiresZK: true, RequiresAttested: true, MinVerifiers: 3}
	case types.Criticality_HIGH:
		return types.ProofPolicy{RequiresZK: true, MinVerifiers: 2}
	case types.Criticality_STANDARD:
		return types.ProofPolicy{MinVerifiers: 1}
	default:
		return types.ProofPolicy{}
	}
}

// requiredCapability is the weakest capability class admitted to a workflow.
func requiredCapability(w types.WorkflowClass) types.CapabilityClass {
	switch w {
	case types.WorkflowClass_DEEP_REASONING:
		return types.CapabilityClass_LOCAL_70B
	case types.WorkflowClass_BALANCED, types.WorkflowClass_CONSENSUS_GUARDED:
		return types.CapabilityClass_LOCAL_13B
	default:
		return types.CapabilityClass_LOCAL_7B
	}
}

// Fingerprint is the semantic cache key of an intent: a hash over the
// whitespace-normalized, case-folded text.
func Fingerprint(intent string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(intent)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// SubmitTaskInput carries the submission command's fields.
type SubmitTaskInput struct {
	Submitter       string
	Intent          string
	Type            types.TaskType
	Workflow        types.WorkflowClass
	Criticality     types.Criticality
	StakePool       math.Int
	MinNodeStake    math.Int
	ChallengeWindow time.Duration
}

// SubmitTask validates, routes, escrows, and assigns a new task. The stake
// pool is deposited with the command and locked for the task's lifetime. The
// resolved workflow's node count must be satisfiable or submission fails
// before any funds move.
func (c *Coordinator) SubmitTask(ctx context.Context, in SubmitTaskInput) (types.Task, error) {
	if in.Submitter == "" {
		return types.Task{}, types.ErrInvalidAmount.Wrap("submitter must not be empty")
	}
	if strings.TrimSpace(in.Intent) == "" {
		return types.Task{}, types.ErrEmptyIntent
	}
	if len(in.Intent) > types.IntentMaxLen {
		return types.Task{}, types.ErrInvalidIntent.Wrapf("intent length %d exceeds %d", len(in.Intent), types.IntentMaxLen)
	}
	if in.StakePool.IsNil() || !in.StakePool.IsPositive() {
		return types.Task{}, types.ErrInvalidAmount.Wrap("stake pool must be positive")
	}
	if in.MinNodeStake.IsNil() {
		in.MinNodeStake = math.ZeroInt()
	}

	window := in.ChallengeWindow
	if window < types.MinChallengeWindow {
		window = types.MinChallengeWindow
	}
	if window > types.MaxChallengeWindow {
		window = types.MaxChallengeWindow
	}

	complexity := ComplexityScore(in.Intent, in.Type)
	workflow := ResolveWorkflow(in.Workflow, in.Criticality, complexity)
	policy := defaultProofPolicy(in.Criticality)

	assigned, err := c.selectNodes(workflow, in.MinNodeStake)
	if err != nil {
		return types.Task{}, err
	}

	unlock := c.accounts.lock(in.Submitter)
	if err := c.deposit(in.Submitter, in.StakePool); err != nil {
		unlock()
		return types.Task{}, err
	}
	if err := c.lockStake(in.Submitter, in.StakePool, taskPoolPurpose); err != nil {
		unlock()
		return types.Task{}, err
	}
	unlock()

	id, err := c.store.nextID(NextTaskIDKey)
	if err != nil {
		return types.Task{}, err
	}

	now := c.clock.Now()
	task := types.Task{
		ID:              id,
		Submitter:       in.Submitter,
		Intent:          in.Intent,
		Type:            in.Type,
		Workflow:        workflow,
		Criticality:     in.Criticality,
		Complexity:      complexity,
		StakePool:       in.StakePool,
		MinNodeStake:    in.MinNodeStake,
		Status:          types.TaskStatus_PENDING,
		RequiresProof:   policy.RequiresZK || policy.RequiresAttested,
		ProofPolicy:     policy,
		AssignedNodes:   assigned,
		Fingerprint:     Fingerprint(in.Intent),
		ChallengeWindow: int64(window / time.Second),
		FeeCharged:      math.ZeroInt(),
		PaidOut:         math.ZeroInt(),
		Returned:        math.ZeroInt(),
		BondTopUp:       math.ZeroInt(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if c.cache != nil {
		hit, err := c.cache.Lookup(ctx, task.Fingerprint)
		if err != nil {
			c.log.Warn("semantic cache lookup failed", "task", id, "error", err.Error())
		} else if hit != nil && hit.SimilarityBps >= c.params.CacheSimilarityBps {
			task.CacheHit = true
			task.CachedRef = hit.OutputRef
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
		}
	}

	if err := c.setTask(task, task.Status); err != nil {
		return types.Task{}, err
	}
	c.scheduleReasoningDeadline(id, now.Add(c.params.ReasoningTimeout))

	if c.metrics != nil {
		c.metrics.TasksSubmitted.WithLabelValues(workflow.String()).Inc()
		c.metrics.TasksActive.Inc()
	}
	c.audit(types.AuditCategoryTask, "submit", in.Submitter, taskTarget(id), "", task.Status.String(), true,
		map[string]string{
			"workflow":   workflow.String(),
			"complexity": strconv.Itoa(int(complexity)),
			"stake_pool": in.StakePool.String(),
			"cache_hit":  strconv.FormatBool(task.CacheHit),
		})
	c.log.Info("task submitted",
		"task", id, "submitter", in.Submitter, "workflow", workflow.String(),
		"complexity", complexity, "nodes", len(assigned), "cache_hit", task.CacheHit)
	return task, nil
}

// selectNodes picks the reasoning set for a workflow: active nodes of
// sufficient capability and stake, best reputation first, stake as
// tiebreaker.
func (c *Coordinator) selectNodes(workflow types.WorkflowClass, minStake math.Int) ([]string, error) {
	need := c.params.RequiredNodes(workflow)
	minCap := requiredCapability(workflow)

	nodes, err := c.Nodes()
	if err != nil {
		return nil, err
	}
	eligible := nodes[:0]
	for _, n := range nodes {
		if n.Status != types.NodeStatus_ACTIVE {
			continue
		}
		if n.Capability < minCap {
			continue
		}
		if n.StakeAmount.LT(minStake) || n.StakeAmount.LT(n.DynamicMinStake) {
			continue
		}
		eligible = append(eligible, n)
	}
	if len(eligible) < need {
		return nil, types.ErrNoEligibleNodes.Wrapf(
			"workflow %s needs %d nodes, %d eligible", workflow, need, len(eligible))
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].ReputationBps != eligible[j].ReputationBps {
			return eligible[i].ReputationBps > eligible[j].ReputationBps
		}
		if !eligible[i].StakeAmount.Equal(eligible[j].StakeAmount) {
			return eligible[i].StakeAmount.GT(eligible[j].StakeAmount)
		}
		return eligible[i].Owner < eligible[j].Owner
	})
	assigned := make([]string, need)
	for i := 0; i < need; i++ {
		assigned[i] = eligible[i].Owner
	}
	return assigned, nil
}
