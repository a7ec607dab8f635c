package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DBO_JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Primary.Storage)
	assert.False(t, cfg.Workflow.LenientPriceParse)
	assert.Equal(t, "test-marker", cfg.Workflow.ReservedMarker)
	assert.Equal(t, "Additional services", cfg.Workflow.FallbackCategory)
	assert.Equal(t, 30, cfg.Workflow.BillingPeriodDays)
	assert.True(t, cfg.Workflow.DefaultCardBalance.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "postgres://dbo:@localhost:5432/dbo?sslmode=disable", cfg.Database.DSN())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DBO_JWT_SECRET", "secret")
	t.Setenv("DBO_STORAGE", "memory")
	t.Setenv("DBO_LENIENT_PRICE_PARSE", "true")
	t.Setenv("DBO_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DBO_DEFAULT_CARD_BALANCE", "2500.50")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Primary.Storage)
	assert.True(t, cfg.Workflow.LenientPriceParse)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "2500.5", cfg.Workflow.DefaultCardBalance.String())
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing jwt secret", env: map[string]string{"DBO_JWT_SECRET": ""}},
		{name: "unknown storage", env: map[string]string{"DBO_JWT_SECRET": "s", "DBO_STORAGE": "sqlite"}},
		{name: "bad currency", env: map[string]string{"DBO_JWT_SECRET": "s", "DBO_DEFAULT_CURRENCY": "RUBLE"}},
		{name: "zero billing period", env: map[string]string{"DBO_JWT_SECRET": "s", "DBO_BILLING_PERIOD_DAYS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
