package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foiacquire/crawler/internal/config"
)

func TestWithDefaultBuild(t *testing.T) {
	cfg, err := config.WithDefault().Build()
	require.NoError(t, err)

	require.Equal(t, "./data", cfg.DataDir())
	require.Equal(t, config.UserAgentDefault, cfg.UserAgentPolicy())
	require.Equal(t, 100*time.Millisecond, cfg.MinDelay())
	require.Equal(t, 60*time.Second, cfg.MaxDelay())
	require.Equal(t, 2.0, cfg.BackoffMultiplier())
	require.Equal(t, 5, cfg.RecoveryThreshold())
	require.Equal(t, 3, cfg.ForbiddenThreshold())
	require.Equal(t, 12*time.Hour, cfg.AnalysisRetryInterval())
}

func TestBuildRejectsEmptyDataDir(t *testing.T) {
	_, err := config.WithDefault().WithDataDir("").Build()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuildRejectsInvertedDelayBounds(t *testing.T) {
	_, err := config.WithDefault().WithMinDelay(time.Second).WithMaxDelay(100 * time.Millisecond).Build()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuildRejectsNonExpandingBackoff(t *testing.T) {
	_, err := config.WithDefault().WithBackoffMultiplier(1.0).Build()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuildRejectsNonShrinkingRecovery(t *testing.T) {
	_, err := config.WithDefault().WithRecoveryMultiplier(1.0).Build()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestWithCustomUserAgentIsLiteral(t *testing.T) {
	cfg, err := config.WithDefault().WithCustomUserAgent("my-bot/2.0").Build()
	require.NoError(t, err)
	require.Equal(t, "my-bot/2.0", cfg.CustomUserAgent())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /tmp/foia
base_delay_ms: 250
recovery_threshold: 7
llm_model: gpt-4o
unknown_future_option: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var warned []string
	cfg, err := config.Load(path, func(key string) { warned = append(warned, key) })
	require.NoError(t, err)

	require.Equal(t, "/tmp/foia", cfg.DataDir())
	require.Equal(t, 250*time.Millisecond, cfg.BaseDelay())
	require.Equal(t, 7, cfg.RecoveryThreshold())
	require.Equal(t, "gpt-4o", cfg.LLMModel())
	require.Contains(t, warned, "unknown_future_option")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.DataDir())
}

func TestHashStableAcrossEqualConfigs(t *testing.T) {
	a, err := config.WithDefault().Build()
	require.NoError(t, err)
	b, err := config.WithDefault().Build()
	require.NoError(t, err)
	require.Equal(t, a.Hash(), b.Hash())
}

func TestHashChangesOnMaterialDifference(t *testing.T) {
	a, err := config.WithDefault().Build()
	require.NoError(t, err)
	b, err := config.WithDefault().WithBaseDelay(2 * time.Second).Build()
	require.NoError(t, err)
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestErrInvalidConfigIsSentinel(t *testing.T) {
	_, err := config.WithDefault().WithDataDir("").Build()
	require.True(t, errors.Is(err, config.ErrInvalidConfig))
}
