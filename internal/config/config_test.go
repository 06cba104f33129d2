package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/agentdeploy/internal/gateway"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, gateway.DefaultRailwayAPIURL, cfg.Railway.APIURL)
	assert.Equal(t, gateway.DefaultTemplateRepo, cfg.Railway.TemplateRepo)
	assert.False(t, cfg.Railway.Gateway().Complete())
	assert.Equal(t, "@every 1h", cfg.Billing.SweepSchedule)
	assert.Equal(t, 30*time.Second, cfg.Billing.DedupeTTL)
	assert.Equal(t, 4, cfg.Jobs.FinalizeMaxConcurrent)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.FinalizeJobTTL)
	assert.Equal(t, gateway.DefaultHandshakePolicy(), cfg.Handshake.Policy())
	assert.Equal(t, int32(10), cfg.Database.Pool().MaxConns)
	assert.Equal(t, int32(2), cfg.Database.Pool().MinConns)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RAILWAY_API_TOKEN", "tok")
	t.Setenv("RAILWAY_PROJECT_ID", "proj")
	t.Setenv("RAILWAY_ENVIRONMENT_ID", "env")
	t.Setenv("HANDSHAKE_REACH_BUDGET", "2m")
	t.Setenv("FINALIZE_MAX_CONCURRENT", "8")
	t.Setenv("MERCADO_PAGO_WEBHOOK_SECRET", "whsec")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Railway.Gateway().Complete())
	assert.Equal(t, 2*time.Minute, cfg.Handshake.Policy().ReachBudget)
	assert.Equal(t, 8, cfg.Jobs.FinalizeMaxConcurrent)
	assert.Equal(t, "whsec", cfg.Billing.WebhookSecret)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero interval", key: "HANDSHAKE_REACH_INTERVAL", value: "0s"},
		{name: "no attempts", key: "HANDSHAKE_CONFIGURE_ATTEMPTS", value: "0"},
		{name: "no workers", key: "FINALIZE_MAX_CONCURRENT", value: "0"},
		{name: "min above max", key: "DB_MIN_CONNS", value: "20"},
		{name: "bad schedule", key: "BILLING_SWEEP_SCHEDULE", value: "every hour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_Unparsable(t *testing.T) {
	t.Setenv("FINALIZE_JOB_TTL", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "parse env")
}
