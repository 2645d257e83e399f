package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()

	require.NoError(t, err)
	require.Equal(t, 500, cfg.WorkingsBatch)
	require.Equal(t, 100, cfg.UpdateBatch)
	require.Equal(t, 2*time.Minute, cfg.LockTTL)
	require.InDelta(t, 0.01, cfg.RoundingTolerance, 1e-12)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsNonPositiveBatch(t *testing.T) {
	t.Setenv("CONSOL_UPDATE_BATCH", "0")

	_, err := LoadConfig()

	require.Error(t, err)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
