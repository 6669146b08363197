package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func challengeID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid challenge id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleOpenChallenge(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	bond, err := parseAmount(req.Bond)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	ch, err := s.coord.OpenChallenge(req.Challenger, id, bond, req.Reason, req.EvidenceHash, req.CounterResult)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) handleGetChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ch, err := s.coord.Challenge(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) handleCastVote(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	ch, err := s.coord.CastVote(req.Voter, id, req.Support)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) handleResolveChallenge(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ch, err := s.coord.ResolveChallenge(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) handleSettle(c *gin.Context) {
	batch, err := s.coord.SettleEpoch()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}
