package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/spf13/cobra"

	"github.com/tro-protocol/coordinator/config"
	"github.com/tro-protocol/coordinator/internal/api"
	"github.com/tro-protocol/coordinator/internal/archive"
	"github.com/tro-protocol/coordinator/internal/collab"
	"github.com/tro-protocol/coordinator/internal/coord"
	"github.com/tro-protocol/coordinator/internal/metrics"
	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

func startCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLogger("trod")
	log.Info("starting coordinator", "version", version)

	db, err := openDB(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger db: %w", err)
	}
	defer db.Close()

	params := types.DefaultParams()
	params.ReasoningTimeout = cfg.Engine.ReasoningTimeout
	params.VerificationTimeout = cfg.Engine.VerificationTimeout
	params.ProofTimeout = cfg.Engine.ProofTimeout
	params.ExitCooldown = cfg.Engine.ExitCooldown
	params.VotingPeriod = cfg.Engine.VotingPeriod
	params.CollaboratorRetries = cfg.Collaborators.MaxRetries

	opts, closers, err := buildCollaborators(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, close := range closers {
			close()
		}
	}()

	var m *metrics.CoordinatorMetrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts = append(opts, coord.WithMetrics(m))
	}

	c, err := coord.New(db, params, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Host = cfg.API.Host
	apiCfg.Port = cfg.API.Port
	apiCfg.CORSOrigins = cfg.API.CORSOrigins
	apiCfg.RateLimitRPS = cfg.API.RateLimitRPS
	if cfg.API.JWTSecret != "" {
		apiCfg.JWTSecret = []byte(cfg.API.JWTSecret)
	}
	server, err := api.NewServer(c, apiCfg, log)
	if err != nil {
		return fmt.Errorf("failed to build api server: %w", err)
	}

	errCh := make(chan error, 3)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	go runEngine(ctx, c, cfg.Engine, log, errCh)

	select {
	case err := <-errCh:
		stop()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown failed", "error", err.Error())
	}
	return nil
}

// runEngine pumps the lifecycle: dispatch pending work to reasoners, fire
// due deadlines, and settle finalized tasks on the configured cadences.
func runEngine(ctx context.Context, c *coord.Coordinator, cfg config.EngineConfig, log *logger.Logger, errCh chan<- error) {
	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	settle := time.NewTicker(cfg.SettleInterval)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := c.ProcessPending(ctx); err != nil {
				log.Error("dispatch pass failed", "error", err.Error())
			}
			if _, err := c.Tick(ctx); err != nil {
				log.Error("deadline pass failed", "error", err.Error())
			}
		case <-settle.C:
			batch, err := c.SettleEpoch()
			if err != nil {
				log.Error("settlement pass failed", "error", err.Error())
				continue
			}
			if len(batch.TaskIDs) > 0 {
				log.Info("epoch settled",
					"batch", batch.ID,
					"tasks", len(batch.TaskIDs),
					"paid", batch.TotalPaid.String(),
					"returned", batch.TotalReturned.String(),
				)
			}
		}
	}
}

func openDB(cfg config.LedgerConfig) (dbm.DB, error) {
	switch cfg.Backend {
	case "memdb":
		return dbm.NewMemDB(), nil
	default:
		return dbm.NewDB("coordinator", dbm.GoLevelDBBackend, cfg.DataDir)
	}
}

// buildCollaborators wires whichever external services the config names.
// Unconfigured collaborators stay nil and the engine falls back to its
// push-based routes.
func buildCollaborators(cfg *config.Config, log *logger.Logger) ([]coord.Option, []func(), error) {
	var opts []coord.Option
	var closers []func()

	clientCfg := func(url string) collab.ClientConfig {
		return collab.ClientConfig{
			BaseURL:    url,
			Timeout:    cfg.Collaborators.RequestTimeout,
			MaxRetries: cfg.Collaborators.MaxRetries,
		}
	}

	if url := cfg.Collaborators.ReasonerURL; url != "" {
		opts = append(opts, coord.WithReasoner(collab.NewReasonerClient(clientCfg(url), log)))
	}
	if url := cfg.Collaborators.ScoringURL; url != "" {
		opts = append(opts, coord.WithScorer(collab.NewScoringClient(clientCfg(url), log)))
	}
	if url := cfg.Collaborators.ProofURL; url != "" {
		opts = append(opts, coord.WithProver(collab.NewProofClient(clientCfg(url), log)))
	}

	if addr := cfg.Collaborators.RedisAddress; addr != "" {
		cache, err := collab.NewRedisCache(collab.RedisConfig{
			Address:  addr,
			Password: cfg.Collaborators.RedisPassword,
			DB:       cfg.Collaborators.RedisDB,
			TTL:      cfg.Collaborators.CacheTTL,
		})
		if err != nil {
			log.Warn("semantic cache unavailable, continuing without it", "error", err.Error())
		} else {
			opts = append(opts, coord.WithCache(cache))
			closers = append(closers, func() { cache.Close() })
		}
	}

	if dir := cfg.Collaborators.ContentStoreDir; dir != "" {
		store, err := collab.NewFileStore(dir)
		if err != nil {
			return nil, closers, fmt.Errorf("failed to open content store: %w", err)
		}
		opts = append(opts, coord.WithContentStore(store))
	}

	if dsn := cfg.Archive.DatabaseURL; dsn != "" {
		pg, err := archive.NewPostgresArchive(dsn, log)
		if err != nil {
			return nil, closers, fmt.Errorf("failed to open archive: %w", err)
		}
		opts = append(opts, coord.WithArchiver(pg))
		closers = append(closers, func() { pg.Close() })
	}

	return opts, closers, nil
}
