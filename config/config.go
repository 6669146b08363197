// Package config loads the coordinator's YAML configuration into typed
// sections with defaults and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all coordinator configuration.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	API           APIConfig           `yaml:"api"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// EngineConfig tunes the lifecycle engine.
type EngineConfig struct {
	ReasoningTimeout    time.Duration `yaml:"reasoning_timeout"`
	VerificationTimeout time.Duration `yaml:"verification_timeout"`
	ProofTimeout        time.Duration `yaml:"proof_timeout"`
	ExitCooldown        time.Duration `yaml:"exit_cooldown"`
	VotingPeriod        time.Duration `yaml:"voting_period"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	SettleInterval      time.Duration `yaml:"settle_interval"`
}

// LedgerConfig selects the persistence backend for coordinator state.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // goleveldb or memdb
	DataDir string `yaml:"data_dir"`
}

// CollaboratorsConfig points at the external collaborator services.
type CollaboratorsConfig struct {
	ReasonerURL     string        `yaml:"reasoner_url"`
	ScoringURL      string        `yaml:"scoring_url"`
	ProofURL        string        `yaml:"proof_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RedisAddress    string        `yaml:"redis_address"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	ContentStoreDir string        `yaml:"content_store_dir"`
}

// APIConfig configures the HTTP command server.
type APIConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	JWTSecret    string   `yaml:"jwt_secret"`
	CORSOrigins  []string `yaml:"cors_origins"`
	RateLimitRPS int      `yaml:"rate_limit_rps"`
}

// ArchiveConfig configures the settled-task archive.
type ArchiveConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// MetricsConfig configures the Prometheus scrape server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			ReasoningTimeout:    10 * time.Minute,
			VerificationTimeout: 5 * time.Minute,
			ProofTimeout:        30 * time.Minute,
			ExitCooldown:        72 * time.Hour,
			VotingPeriod:        24 * time.Hour,
			TickInterval:        5 * time.Second,
			SettleInterval:      time.Minute,
		},
		Ledger: LedgerConfig{
			Backend: "goleveldb",
			DataDir: "./data",
		},
		Collaborators: CollaboratorsConfig{
			RequestTimeout:  10 * time.Second,
			MaxRetries:      3,
			RedisAddress:    "localhost:6379",
			CacheTTL:        24 * time.Hour,
			ContentStoreDir: "./data/content",
		},
		API: APIConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			CORSOrigins:  []string{"*"},
			RateLimitRPS: 100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Ledger.Backend == "goleveldb" && c.Ledger.DataDir == "" {
		return fmt.Errorf("ledger data_dir required for goleveldb backend")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port %d", c.Metrics.Port)
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine tick_interval must be positive")
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"reasoning_timeout", c.Engine.ReasoningTimeout},
		{"verification_timeout", c.Engine.VerificationTimeout},
		{"proof_timeout", c.Engine.ProofTimeout},
		{"exit_cooldown", c.Engine.ExitCooldown},
		{"voting_period", c.Engine.VotingPeriod},
	} {
		if d.v <= 0 {
			return fmt.Errorf("engine %s must be positive", d.name)
		}
	}
	return nil
}
