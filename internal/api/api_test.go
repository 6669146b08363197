package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/tro-protocol/coordinator/internal/coord"
	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c, err := coord.New(dbm.NewMemDB(), types.DefaultParams(), logger.NewLogger("api-test"))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("test-secret-test-secret-test-sec")
	cfg.RateLimitRPS = 0
	s, err := NewServer(c, cfg, logger.NewLogger("api-test"))
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func registerActiveNode(t *testing.T, s *Server, owner string) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/nodes", RegisterNodeRequest{
		Owner:      owner,
		Capability: "local_7b",
		Stake:      "1000000",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodPost, "/v1/nodes/"+owner+"/benchmark", BenchmarkRequest{ScoreBps: 9000}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterNodeLifecycle(t *testing.T) {
	s := newTestServer(t)
	registerActiveNode(t, s, "n1")

	w := doJSON(t, s, http.MethodGet, "/v1/nodes/n1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var node types.ReasoningNode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
	require.Equal(t, types.NodeStatus_ACTIVE, node.Status)
}

func TestRegisterNodeValidation(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/nodes", RegisterNodeRequest{
		Owner:      "n1",
		Capability: "quantum",
		Stake:      "1000000",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/nodes", RegisterNodeRequest{
		Owner:      "n1",
		Capability: "local_7b",
		Stake:      "100",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, types.Codespace, resp.Codespace)
}

func TestSubmitAndFetchTask(t *testing.T) {
	s := newTestServer(t)
	registerActiveNode(t, s, "n1")

	w := doJSON(t, s, http.MethodPost, "/v1/tasks", SubmitTaskRequest{
		Submitter: "alice",
		Intent:    "summarize the weekly operations report",
		StakePool: "100000",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var task types.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	require.Equal(t, types.TaskStatus_PENDING, task.Status)
	require.Contains(t, task.AssignedNodes, "n1")

	w = doJSON(t, s, http.MethodGet, "/v1/tasks/1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/v1/tasks/1/audit", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTaskNotFound(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/v1/tasks/42", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, types.Codespace, resp.Codespace)
	require.NotZero(t, resp.Code)
}

func TestAckAndOutputFlow(t *testing.T) {
	s := newTestServer(t)
	registerActiveNode(t, s, "n1")

	w := doJSON(t, s, http.MethodPost, "/v1/tasks", SubmitTaskRequest{
		Submitter: "alice",
		Intent:    "summarize the weekly operations report",
		StakePool: "100000",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/tasks/1/ack", AckRequest{Node: "n1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodPost, "/v1/tasks/1/output", OutputRequest{
		Node:          "n1",
		OutputHash:    "out-hash",
		ConfidenceBps: 8000,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// No scorer is wired, so the task waits for pushed verification scores.
	w = doJSON(t, s, http.MethodPost, "/v1/tasks/1/verification", VerificationRequest{
		SemanticBps: 9000,
		FactBps:     9000,
		GraphBps:    9000,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var task types.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	require.Equal(t, types.TaskStatus_READY_FOR_EXECUTION, task.Status)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/settlements", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	userToken, err := s.Auth().IssueToken("bob", "user")
	require.NoError(t, err)
	w = doJSON(t, s, http.MethodPost, "/v1/settlements", nil, userToken)
	require.Equal(t, http.StatusForbidden, w.Code)

	adminToken, err := s.Auth().IssueToken("ops", "admin")
	require.NoError(t, err)
	w = doJSON(t, s, http.MethodPost, "/v1/settlements", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInvalidTokenRejected(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/settlements", nil, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
