package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend.Kind)
	assert.Equal(t, BackendMemory, cfg.Backend.Blobs)
	assert.Equal(t, int64(100), cfg.Users.DefaultCredits)
	assert.Equal(t, int64(1), cfg.Ledger.Costs.Text)
	assert.Equal(t, 5*time.Minute, cfg.Ledger.PendingTTL)
	assert.Len(t, cfg.Ledger.Catalog, 3)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
ledger:
  costs:
    text: 2
    image: 4
    group_creation: 10
    poll_creation: 6
    item_mint: 20
  pending_ttl: 30s
  operators:
    - NaBUwzc5DZ8Z5fmxNBNeXGQJqZN8FjNMNm
users:
  default_credits: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, int64(2), cfg.Ledger.Costs.Text)
	assert.Equal(t, int64(20), cfg.Ledger.Costs.ItemMint)
	assert.Equal(t, 30*time.Second, cfg.Ledger.PendingTTL)
	assert.Equal(t, []string{"NaBUwzc5DZ8Z5fmxNBNeXGQJqZN8FjNMNm"}, cfg.Ledger.Operators)
	assert.Equal(t, int64(7), cfg.Users.DefaultCredits)
	// untouched sections keep defaults
	assert.Equal(t, int64(100<<20), cfg.Users.StorageCapacity)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WALLETCHAT_ADDR", ":7070")
	t.Setenv("WALLETCHAT_DEFAULT_CREDITS", "250")
	t.Setenv("WALLETCHAT_OPERATORS", "op1;op2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, int64(250), cfg.Users.DefaultCredits)
	assert.Equal(t, []string{"op1", "op2"}, cfg.Ledger.Operators)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Backend.Kind = BackendSupabase
	cfg.normalize()
	assert.Error(t, cfg.Validate())

	cfg.Backend.SupabaseURL = "https://example.supabase.co"
	cfg.Backend.SupabaseKey = "service-key"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Backend.Kind = BackendPostgres
	cfg.Backend.PostgresDSN = "postgres://localhost/walletchat"
	cfg.normalize()
	assert.Equal(t, BackendPostgres, cfg.Backend.Blobs)
	assert.NoError(t, cfg.Validate())

	cfg.Backend.Blobs = BackendSupabase
	assert.Error(t, cfg.Validate(), "supabase blobs need supabase credentials")

	cfg = Default()
	cfg.Ledger.Costs.Image = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backend.Kind = "mongo"
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
