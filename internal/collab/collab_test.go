package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

func testLog() *logger.Logger {
	return logger.NewLogger("collab-test")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{BaseURL: url, Timeout: 2 * time.Second, MaxRetries: 2}
}

func TestScoringClientScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var score uint32
		switch r.URL.Path {
		case "/v1/score/semantic":
			score = 9100
		case "/v1/score/facts":
			score = 8400
		case "/v1/score/graph":
			score = 7700
		default:
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(scoreResponse{ScoreBps: score})
	}))
	defer srv.Close()

	c := NewScoringClient(testClientConfig(srv.URL), testLog())
	ctx := context.Background()

	got, err := c.SemanticScore(ctx, "hash-a", "hash-b")
	require.NoError(t, err)
	require.Equal(t, uint32(9100), got)

	got, err = c.FactCheck(ctx, "hash-a", []string{"src-1"})
	require.NoError(t, err)
	require.Equal(t, uint32(8400), got)

	got, err = c.GraphConsistency(ctx, "hash-a")
	require.NoError(t, err)
	require.Equal(t, uint32(7700), got)
}

func TestScoringClientRejectsOutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scoreResponse{ScoreBps: 10001})
	}))
	defer srv.Close()

	c := NewScoringClient(testClientConfig(srv.URL), testLog())
	_, err := c.SemanticScore(context.Background(), "a", "b")
	require.ErrorContains(t, err, "out of basis-point range")
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(scoreResponse{ScoreBps: 6000})
	}))
	defer srv.Close()

	c := NewScoringClient(testClientConfig(srv.URL), testLog())
	got, err := c.GraphConsistency(context.Background(), "hash")
	require.NoError(t, err)
	require.Equal(t, uint32(6000), got)
	require.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad hash", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewScoringClient(testClientConfig(srv.URL), testLog())
	_, err := c.GraphConsistency(context.Background(), "hash")
	require.ErrorContains(t, err, "400")
	require.Equal(t, int32(1), calls.Load())
}

func TestProofClientRequestAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/proofs":
			var req struct {
				TaskID     uint64 `json:"task_id"`
				RequiresZK bool   `json:"requires_zk"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, uint64(7), req.TaskID)
			require.True(t, req.RequiresZK)
			json.NewEncoder(w).Encode(map[string]string{"proof_id": "zk-7"})
		case "/v1/proofs/status":
			json.NewEncoder(w).Encode(map[string]string{"status": "verified"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewProofClient(testClientConfig(srv.URL), testLog())
	ctx := context.Background()

	proofID, err := c.RequestProof(ctx, 7, "trace-hash", types.ProofPolicy{RequiresZK: true})
	require.NoError(t, err)
	require.Equal(t, "zk-7", proofID)

	status, err := c.ProofStatus(ctx, proofID)
	require.NoError(t, err)
	require.Equal(t, types.ProofStatus_VERIFIED, status)
}

func TestProofClientRejectsEmptyProofID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"proof_id": ""})
	}))
	defer srv.Close()

	c := NewProofClient(testClientConfig(srv.URL), testLog())
	_, err := c.RequestProof(context.Background(), 1, "trace", types.ProofPolicy{})
	require.ErrorContains(t, err, "empty proof id")
}

func TestReasonerClientInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InferenceResult{
			OutputRef:     "out-hash",
			ConfidenceBps: 8600,
			LatencyMs:     140,
		})
	}))
	defer srv.Close()

	c := NewReasonerClient(testClientConfig(srv.URL), testLog())
	res, err := c.Infer(context.Background(), 3, "n1", "summarize this")
	require.NoError(t, err)
	require.Equal(t, "out-hash", res.OutputRef)
	require.Equal(t, "n1", res.Node)
	require.Equal(t, uint32(8600), res.ConfidenceBps)
}

func TestReasonerClientRejectsEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InferenceResult{})
	}))
	defer srv.Close()

	c := NewReasonerClient(testClientConfig(srv.URL), testLog())
	_, err := c.Infer(context.Background(), 3, "n1", "summarize this")
	require.ErrorContains(t, err, "empty output hash")
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("reasoning trace payload")
	hash, err := store.Put(ctx, data)
	require.NoError(t, err)
	require.Len(t, hash, 64)

	// Re-putting identical content returns the same address.
	again, err := store.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, hash, again)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFileStoreGetErrors(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "not-a-hash")
	require.ErrorContains(t, err, "invalid content hash")

	missing := "0000000000000000000000000000000000000000000000000000000000000000"
	_, err = store.Get(ctx, missing)
	require.Error(t, err)
}
