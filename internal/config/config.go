// Package config holds CLI defaults and the provider settings read from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"github.com/mtlprog/agentdeploy/internal/database"
	"github.com/mtlprog/agentdeploy/internal/gateway"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultLogLevel is used when LOG_LEVEL is not set.
	DefaultLogLevel = "info"
)

// Railway holds the infrastructure provider credentials.
// Leaving any of token, project or environment empty selects stub mode.
type Railway struct {
	APIURL        string `env:"RAILWAY_API_URL" envDefault:"https://backboard.railway.app/graphql/v2"`
	Token         string `env:"RAILWAY_API_TOKEN"`
	ProjectID     string `env:"RAILWAY_PROJECT_ID"`
	EnvironmentID string `env:"RAILWAY_ENVIRONMENT_ID"`
	TemplateRepo  string `env:"OPENCLAW_TEMPLATE_REPO" envDefault:"arjunkomath/openclaw-railway-template"`
}

// Gateway converts the settings for the deployment gateway.
func (r Railway) Gateway() gateway.RailwayConfig {
	return gateway.RailwayConfig{
		APIURL:        r.APIURL,
		Token:         r.Token,
		ProjectID:     r.ProjectID,
		EnvironmentID: r.EnvironmentID,
		TemplateRepo:  r.TemplateRepo,
	}
}

// Billing holds the Mercado Pago settings.
type Billing struct {
	APIURL        string        `env:"MERCADO_PAGO_API_URL" envDefault:"https://api.mercadopago.com"`
	AccessToken   string        `env:"MERCADO_PAGO_ACCESS_TOKEN"`
	WebhookSecret string        `env:"MERCADO_PAGO_WEBHOOK_SECRET"`
	SweepSchedule string        `env:"BILLING_SWEEP_SCHEDULE" envDefault:"@every 1h"`
	DedupeTTL     time.Duration `env:"BILLING_DEDUPE_TTL" envDefault:"30s"`
}

// Telegram points the bot helpers at the Bot API.
type Telegram struct {
	APIURL string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
}

// Handshake overrides the finalize handshake timings.
type Handshake struct {
	ProbeTimeout       time.Duration `env:"HANDSHAKE_PROBE_TIMEOUT" envDefault:"5s"`
	ReachInterval      time.Duration `env:"HANDSHAKE_REACH_INTERVAL" envDefault:"3500ms"`
	ReachBudget        time.Duration `env:"HANDSHAKE_REACH_BUDGET" envDefault:"15m"`
	ConfigureAttempts  int           `env:"HANDSHAKE_CONFIGURE_ATTEMPTS" envDefault:"5"`
	ConfigureBaseDelay time.Duration `env:"HANDSHAKE_CONFIGURE_BASE_DELAY" envDefault:"12s"`
	ConfigureStepDelay time.Duration `env:"HANDSHAKE_CONFIGURE_STEP_DELAY" envDefault:"8s"`
	ReadyInterval      time.Duration `env:"HANDSHAKE_READY_INTERVAL" envDefault:"3s"`
	ReadyBudget        time.Duration `env:"HANDSHAKE_READY_BUDGET" envDefault:"3m"`
}

// Policy converts the settings for the deployment gateway.
func (h Handshake) Policy() gateway.HandshakePolicy {
	return gateway.HandshakePolicy{
		ProbeTimeout:       h.ProbeTimeout,
		ReachInterval:      h.ReachInterval,
		ReachBudget:        h.ReachBudget,
		ConfigureAttempts:  h.ConfigureAttempts,
		ConfigureBaseDelay: h.ConfigureBaseDelay,
		ConfigureStepDelay: h.ConfigureStepDelay,
		ReadyInterval:      h.ReadyInterval,
		ReadyBudget:        h.ReadyBudget,
	}
}

// Jobs controls the background finalize worker.
type Jobs struct {
	FinalizeMaxConcurrent int           `env:"FINALIZE_MAX_CONCURRENT" envDefault:"4"`
	FinalizeJobTTL        time.Duration `env:"FINALIZE_JOB_TTL" envDefault:"24h"`
}

// Database sizes the PostgreSQL pool.
type Database struct {
	MaxConns int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns int32 `env:"DB_MIN_CONNS" envDefault:"2"`
}

// Pool converts the settings for the database package.
func (d Database) Pool() database.PoolConfig {
	return database.PoolConfig{MaxConns: d.MaxConns, MinConns: d.MinConns}
}

// Config is everything read from the environment besides the CLI flags.
type Config struct {
	Database  Database
	Railway   Railway
	Billing   Billing
	Telegram  Telegram
	Handshake Handshake
	Jobs      Jobs
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the workers cannot run with.
func (c *Config) Validate() error {
	var errs []error

	durations := map[string]time.Duration{
		"HANDSHAKE_PROBE_TIMEOUT":        c.Handshake.ProbeTimeout,
		"HANDSHAKE_REACH_INTERVAL":       c.Handshake.ReachInterval,
		"HANDSHAKE_REACH_BUDGET":         c.Handshake.ReachBudget,
		"HANDSHAKE_CONFIGURE_BASE_DELAY": c.Handshake.ConfigureBaseDelay,
		"HANDSHAKE_READY_INTERVAL":       c.Handshake.ReadyInterval,
		"HANDSHAKE_READY_BUDGET":         c.Handshake.ReadyBudget,
		"FINALIZE_JOB_TTL":               c.Jobs.FinalizeJobTTL,
		"BILLING_DEDUPE_TTL":             c.Billing.DedupeTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Handshake.ConfigureStepDelay < 0 {
		errs = append(errs, fmt.Errorf("HANDSHAKE_CONFIGURE_STEP_DELAY must not be negative, got %s", c.Handshake.ConfigureStepDelay))
	}
	if c.Handshake.ConfigureAttempts < 1 {
		errs = append(errs, fmt.Errorf("HANDSHAKE_CONFIGURE_ATTEMPTS must be at least 1, got %d", c.Handshake.ConfigureAttempts))
	}
	if c.Jobs.FinalizeMaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("FINALIZE_MAX_CONCURRENT must be at least 1, got %d", c.Jobs.FinalizeMaxConcurrent))
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns))
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.Database.MinConns))
	}
	if _, err := cron.ParseStandard(c.Billing.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("BILLING_SWEEP_SCHEDULE %q: %w", c.Billing.SweepSchedule, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
