package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, int64(40), cfg.Seeds.Customer)
	assert.Equal(t, int64(10000), cfg.Seeds.Agent)
	assert.Equal(t, 10, cfg.Limits.History)
	assert.Equal(t, 20, cfg.Limits.Pending)
	assert.Equal(t, 30*time.Second, cfg.Limits.ApprovalClaim)
	assert.Equal(t, 5*time.Minute, cfg.Limits.ReconcileAfter)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("SEED_CUSTOMER_BALANCE", "55")
	t.Setenv("SEED_AGENT_BALANCE", "5000")
	t.Setenv("JWT_EXPIRATION_TIME", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(55), cfg.Seeds.For(domain.RoleCustomer))
	assert.Equal(t, int64(5000), cfg.Seeds.For(domain.RoleAgent))
	assert.Equal(t, int64(0), cfg.Seeds.For(domain.RoleAdmin))
	assert.Equal(t, time.Hour, cfg.JWTExpiration)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{"mongo without uri", map[string]string{"STORE_DRIVER": "mongo", "MONGODB_URI": ""}},
		{"bad seed", map[string]string{"STORE_DRIVER": "memory", "SEED_AGENT_BALANCE": "lots"}},
		{"negative seed", map[string]string{"STORE_DRIVER": "memory", "SEED_CUSTOMER_BALANCE": "-1"}},
		{"zero history", map[string]string{"STORE_DRIVER": "memory", "HISTORY_LIMIT": "0"}},
		{"bad duration", map[string]string{"STORE_DRIVER": "memory", "APPROVAL_CLAIM_TTL": "soon"}},
		{"zero reconcile window", map[string]string{"STORE_DRIVER": "memory", "SETTLEMENT_RECONCILE_AFTER": "0s"}},
		{"missing secret in production", map[string]string{"STORE_DRIVER": "memory", "ENV": "production", "JWT_SECRET_KEY": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
