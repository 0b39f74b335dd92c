package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ADMIN_EMAILS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.HTTPListenAddr)
	assert.Equal(t, "https://bdclick24.com/api/v2", cfg.SMMAPIURL)
	assert.Equal(t, 30*time.Second, cfg.SMMTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CatalogCacheTTL)
	assert.Empty(t, cfg.AdminEmails)
}

func TestLoadNormalisesAdminEmails(t *testing.T) {
	t.Setenv("STORE_BACKEND", "FILE")
	t.Setenv("ADMIN_EMAILS", " Admin@Example.com ,,ops@example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFile, cfg.StoreBackend)
	assert.Equal(t, []string{"admin@example.com", "ops@example.com"}, cfg.AdminEmails)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mongo")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		require.Error(t, err)
	})
}
