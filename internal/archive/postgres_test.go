package archive

import (
	"os"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

func setupTestArchive(t *testing.T) *PostgresArchive {
	t.Helper()
	dsn := os.Getenv("COORDINATOR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PostgreSQL not available for testing")
	}
	a, err := NewPostgresArchive(dsn, logger.NewLogger("archive-test"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleTask(id uint64) types.Task {
	return types.Task{
		ID:          id,
		Submitter:   "alice",
		Intent:      "summarize the incident report",
		Fingerprint: "fp-sample",
		Status:      types.TaskStatus_FINALIZED,
		ResultRef:   "out-hash",
		StakePool:   math.NewInt(100_000),
		PaidOut:     math.NewInt(90_000),
		Returned:    math.ZeroInt(),
		FeeCharged:  math.NewInt(10_000),
		BondTopUp:   math.ZeroInt(),
		Settled:     true,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	a := setupTestArchive(t)

	task := sampleTask(9001)
	outputs := []types.TaskOutput{{TaskID: task.ID, Node: "n1", OutputRef: "out-hash", ConfidenceBps: 8000}}
	require.NoError(t, a.Archive(task, outputs))

	got, gotOutputs, err := a.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)
	require.Equal(t, task.ResultRef, got.ResultRef)
	require.True(t, got.PaidOut.Equal(task.PaidOut))
	require.Len(t, gotOutputs, 1)
	require.Equal(t, "n1", gotOutputs[0].Node)
}

func TestArchiveIsIdempotent(t *testing.T) {
	a := setupTestArchive(t)

	task := sampleTask(9002)
	require.NoError(t, a.Archive(task, nil))

	task.Reversed = true
	require.NoError(t, a.Archive(task, nil))

	got, _, err := a.Task(task.ID)
	require.NoError(t, err)
	require.True(t, got.Reversed)
}

func TestArchiveMissingTask(t *testing.T) {
	a := setupTestArchive(t)

	_, _, err := a.Task(999_999_999)
	require.ErrorIs(t, err, types.ErrTaskNotFound)
}
