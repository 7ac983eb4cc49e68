package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.InDelta(t, 0.05, cfg.Rate, 1e-12)
	require.Equal(t, int32(18), cfg.Decimals)
	require.Equal(t, "0 0 * * * *", cfg.AccrualCron)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, 5*time.Minute, cfg.TxCacheTTL)
	require.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POINTS_RATE=0.1\nTOKEN_DECIMALS=6\n"), 0o600))
	t.Setenv("TOKEN_DECIMALS", "8")
	t.Cleanup(func() { _ = os.Unsetenv("POINTS_RATE") })

	cfg, err := Load(path)
	require.NoError(t, err)
	require.InDelta(t, 0.1, cfg.Rate, 1e-12)
	require.Equal(t, int32(8), cfg.Decimals)
}

func TestValidate(t *testing.T) {
	base := Config{Rate: 0.05, Decimals: 18, StoreBackend: BackendMemory}

	bad := base
	bad.Rate = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.StoreBackend = "sqlite"
	require.Error(t, bad.Validate())

	ok := base
	require.NoError(t, ok.Validate())
	require.Equal(t, 1, ok.Workers)
}
