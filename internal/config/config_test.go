// AngelaMos | 2026
// config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/storywork")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("IDENTITY_JWKS_URL", "https://clerk.example.com/.well-known/jwks.json")
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ASM_PORTAL_URL", "https://portal.example.com")
	t.Setenv("SERVICE_API_KEY", "svc-key")
	t.Setenv("GENERATION_COST", "80")

	c, err := load("")
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.com", c.Portal.URL)
	assert.Equal(t, "svc-key", c.Portal.ServiceKey)
	assert.Equal(t, 5*time.Second, c.Portal.Timeout)
	assert.Equal(t, 80, c.Generation.Cost)
	assert.Equal(t, "anthropic", c.AI.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", c.AI.AnthropicModel)
	assert.Equal(t, 2000, c.AI.MaxTokens)
	assert.Equal(t, "0.0.0.0:8080", c.Server.Address())
}

func TestLoadRequiresIdentityKeys(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/storywork")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDENTITY_JWKS_URL")
}

func TestLoadReadsYAMLFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
app:
  environment: staging
generation:
  cost: 60
stripe:
  starter_price_id: price_starter
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	c, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", c.App.Environment)
	assert.Equal(t, 60, c.Generation.Cost)
	assert.Equal(t, "price_starter", c.Stripe.StarterPriceID)
	assert.False(t, c.IsProduction())
}

func TestValidateRejectsWildcardWithCredentials(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
cors:
  allowed_origins: ["*"]
  allow_credentials: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS wildcard")
}
