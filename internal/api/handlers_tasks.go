package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tro-protocol/coordinator/internal/coord"
)

func taskID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	pool, err := parseAmount(req.StakePool)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	in := coord.SubmitTaskInput{
		Submitter:       req.Submitter,
		Intent:          req.Intent,
		StakePool:       pool,
		ChallengeWindow: time.Duration(req.ChallengeWindowSec) * time.Second,
	}
	if req.MinNodeStake != "" {
		if in.MinNodeStake, err = parseAmount(req.MinNodeStake); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}
	if in.Type, err = parseTaskType(req.Type); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if in.Workflow, err = parseWorkflow(req.Workflow); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if in.Criticality, err = parseCriticality(req.Criticality); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	task, err := s.coord.SubmitTask(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := s.coord.Task(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleTaskAudit(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	trail, err := s.coord.TaskAudit(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": id, "entries": trail})
}

func (s *Server) handleAckTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	task, err := s.coord.AcknowledgeTask(req.Node, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleSubmitOutput(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req OutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	task, err := s.coord.SubmitOutput(req.Node, id, req.OutputHash, req.ConfidenceBps, req.LatencyMs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleSubmitVerification(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	task, err := s.coord.SubmitVerification(id, req.SemanticBps, req.FactBps, req.GraphBps)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleProofResult(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req ProofResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	status, err := parseProofStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	task, err := s.coord.ApplyProofResult(id, req.ProofID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleFinalizeTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := s.coord.FinalizeTask(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	task, err := s.coord.CancelTask(req.Actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
