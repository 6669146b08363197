package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/collab"
	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errSentinel = errors.New("collaborator unavailable")

func testParams() types.Params {
	p := types.DefaultParams()
	p.CollaboratorBackoff = time.Millisecond
	return p
}

func newTestCoord(t *testing.T, opts ...Option) (*Coordinator, *ManualClock) {
	t.Helper()
	clock := NewManualClock(testStart)
	opts = append([]Option{WithClock(clock)}, opts...)
	c, err := New(dbm.NewMemDB(), testParams(), logger.NewLogger("test"), opts...)
	require.NoError(t, err)
	return c, clock
}

// registerActiveNode registers and benchmarks a node into Active status.
func registerActiveNode(t *testing.T, c *Coordinator, owner string, capability types.CapabilityClass, stake int64) types.ReasoningNode {
	t.Helper()
	_, err := c.RegisterNode(owner, capability, math.NewInt(stake))
	require.NoError(t, err)
	node, err := c.CompleteBenchmark(owner, 9000)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatus_ACTIVE, node.Status)
	return node
}

func tick(t *testing.T, c *Coordinator) int {
	t.Helper()
	n, err := c.Tick(context.Background())
	require.NoError(t, err)
	return n
}

// ---- collaborator fakes ----

type fakeScorer struct {
	semantic, fact, graph uint32
	perRef                map[string]uint32 // overrides every component score for a ref
	err                   error
	calls                 int
}

func (f *fakeScorer) SemanticScore(_ context.Context, _, outputRef string) (uint32, error) {
	f.calls++
	if v, ok := f.perRef[outputRef]; ok {
		return v, f.err
	}
	return f.semantic, f.err
}

func (f *fakeScorer) FactCheck(_ context.Context, outputRef string, _ []string) (uint32, error) {
	if v, ok := f.perRef[outputRef]; ok {
		return v, f.err
	}
	return f.fact, f.err
}

func (f *fakeScorer) GraphConsistency(_ context.Context, outputRef string) (uint32, error) {
	if v, ok := f.perRef[outputRef]; ok {
		return v, f.err
	}
	return f.graph, f.err
}

type fakeCache struct {
	hit    *collab.CacheHit
	stored map[string]string
}

func (f *fakeCache) Lookup(context.Context, string) (*collab.CacheHit, error) {
	return f.hit, nil
}

func (f *fakeCache) Store(_ context.Context, fingerprint, outputRef string) error {
	if f.stored == nil {
		f.stored = map[string]string{}
	}
	f.stored[fingerprint] = outputRef
	return nil
}

type fakeProver struct {
	proofID  string
	err      error
	requests int
}

func (f *fakeProver) RequestProof(context.Context, uint64, string, types.ProofPolicy) (string, error) {
	f.requests++
	return f.proofID, f.err
}

func (f *fakeProver) ProofStatus(context.Context, string) (types.ProofStatus, error) {
	return types.ProofStatus_GENERATING, nil
}

type fakeReasoner struct {
	outputs map[string]collab.InferenceResult // keyed by node
	err     error
}

func (f *fakeReasoner) Infer(_ context.Context, _ uint64, node, _ string) (collab.InferenceResult, error) {
	if f.err != nil {
		return collab.InferenceResult{}, f.err
	}
	res, ok := f.outputs[node]
	if !ok {
		res = collab.InferenceResult{Node: node, OutputRef: "hash-" + node, ConfidenceBps: 8000}
	}
	return res, nil
}

type fakeArchiver struct {
	archived []types.Task
	err      error
}

func (f *fakeArchiver) Archive(task types.Task, _ []types.TaskOutput) error {
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, task)
	return nil
}
