// Package api exposes the coordinator's command surface over HTTP. Routes
// map one-to-one onto coordinator operations; mutations go through POST,
// queries through GET, and admin commands sit behind JWT auth.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	sdkerrors "cosmossdk.io/errors"
	"github.com/gin-gonic/gin"

	"github.com/tro-protocol/coordinator/internal/coord"
	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

// Server is the coordinator's HTTP command server.
type Server struct {
	router *gin.Engine
	coord  *coord.Coordinator
	config *Config
	auth   *AuthService
	log    *logger.Logger
	srv    *http.Server
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	JWTSecret       []byte
	TokenTTL        time.Duration
	CORSOrigins     []string
	RateLimitRPS    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		CORSOrigins:     []string{"*"},
		RateLimitRPS:    100,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewServer creates the API server over a coordinator.
func NewServer(c *coord.Coordinator, config *Config, log *logger.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.NewLogger("api")
	}

	if len(config.JWTSecret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		config.JWTSecret = secret
		log.Warn("JWT secret generated randomly, set an explicit secret to keep tokens valid across restarts",
			"secret_hex", hex.EncodeToString(secret))
	}

	s := &Server{
		coord:  c,
		config: config,
		auth:   NewAuthService(config.JWTSecret, config.TokenTTL),
		log:    log,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(SecurityHeadersMiddleware())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggerMiddleware(s.log))
	s.router.Use(s.CORSMiddleware())
	if s.config.RateLimitRPS > 0 {
		s.router.Use(RateLimitMiddleware(s.config.RateLimitRPS))
	}

	s.router.GET("/healthz", s.healthCheck)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/tasks", s.handleSubmitTask)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/tasks/:id/audit", s.handleTaskAudit)
		v1.POST("/tasks/:id/ack", s.handleAckTask)
		v1.POST("/tasks/:id/output", s.handleSubmitOutput)
		v1.POST("/tasks/:id/verification", s.handleSubmitVerification)
		v1.POST("/tasks/:id/proof", s.handleProofResult)
		v1.POST("/tasks/:id/challenge", s.handleOpenChallenge)
		v1.POST("/tasks/:id/finalize", s.handleFinalizeTask)
		v1.POST("/tasks/:id/cancel", s.handleCancelTask)

		v1.POST("/nodes", s.handleRegisterNode)
		v1.GET("/nodes/:id", s.handleGetNode)
		v1.POST("/nodes/:id/benchmark", s.handleBenchmark)
		v1.POST("/nodes/:id/deposit", s.handleDepositStake)
		v1.POST("/nodes/:id/withdraw", s.handleWithdrawStake)
		v1.POST("/nodes/:id/exit", s.handleBeginExit)
		v1.POST("/nodes/:id/claim", s.handleClaimRewards)

		v1.GET("/challenges/:id", s.handleGetChallenge)
		v1.POST("/challenges/:id/votes", s.handleCastVote)

		admin := v1.Group("", s.AuthMiddleware("admin"))
		{
			admin.POST("/settlements", s.handleSettle)
			admin.POST("/challenges/:id/resolve", s.handleResolveChallenge)
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// Router returns the underlying handler, used by tests.
func (s *Server) Router() http.Handler { return s.router }

// Auth returns the auth service so operators can mint admin tokens.
func (s *Server) Auth() *AuthService { return s.auth }

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// writeError maps a coordinator error onto an HTTP status with the sentinel
// code in the body.
func writeError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, types.ErrTaskNotFound),
		errors.Is(err, types.ErrNodeNotFound),
		errors.Is(err, types.ErrChallengeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrUnauthorizedActor):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrChallengeAlreadyOpen),
		errors.Is(err, types.ErrChallengeResolved),
		errors.Is(err, types.ErrDuplicateVote),
		errors.Is(err, types.ErrAlreadySettled),
		errors.Is(err, types.ErrChallengeWindowClosed),
		errors.Is(err, types.ErrChallengeWindowOpen),
		errors.Is(err, types.ErrVotingClosed),
		errors.Is(err, types.ErrCancellationWindowOver),
		errors.Is(err, types.ErrTaskHalted):
		status = http.StatusConflict
	case errors.Is(err, types.ErrConsistencyViolation):
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{Error: err.Error()}
	if codespace, code, _ := sdkerrors.ABCIInfo(err, false); codespace == types.Codespace {
		resp.Code = code
		resp.Codespace = codespace
	}
	c.JSON(status, resp)
}
