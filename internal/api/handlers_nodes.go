package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRegisterNode(c *gin.Context) {
	var req RegisterNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	capability, err := parseCapability(req.Capability)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	node, err := s.coord.RegisterNode(req.Owner, capability, stake)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (s *Server) handleGetNode(c *gin.Context) {
	node, err := s.coord.Node(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) handleBenchmark(c *gin.Context) {
	var req BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	node, err := s.coord.CompleteBenchmark(c.Param("id"), req.ScoreBps)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) handleDepositStake(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	node, err := s.coord.DepositStake(c.Param("id"), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) handleWithdrawStake(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	node, err := s.coord.WithdrawStake(c.Param("id"), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) handleBeginExit(c *gin.Context) {
	node, err := s.coord.BeginExit(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) handleClaimRewards(c *gin.Context) {
	claimed, err := s.coord.ClaimRewards(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": c.Param("id"), "claimed": claimed.String()})
}
