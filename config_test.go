package renderscheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadSettingsPartialFileKeepsDefaults(t *testing.T) {
	path := writeSettingsFile(t, `
[idle]
maximum_idle_period_ms = 100

[gestures]
estimation_limit_ms = 250
`)

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, settings.Idle.MaximumIdlePeriod())
	assert.Equal(t, 250*time.Millisecond, settings.Gestures.EstimationLimit())

	// Everything the file does not mention keeps its default.
	defaults := DefaultSettings()
	assert.Equal(t, defaults.Idle.StarvationThreshold(), settings.Idle.StarvationThreshold())
	assert.Equal(t, defaults.Estimators.LoadingTaskPercentile, settings.Estimators.LoadingTaskPercentile)
	assert.Equal(t, defaults.Lifecycle.SuspendTimersWhenBackgroundedDelay(), settings.Lifecycle.SuspendTimersWhenBackgroundedDelay())
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadSettingsMalformedFile(t *testing.T) {
	path := writeSettingsFile(t, `[idle`)
	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	good := DefaultSettings()
	assert.NoError(t, good.Validate())

	bad := DefaultSettings()
	bad.Estimators.TimerTaskPercentile = 0
	assert.Error(t, bad.Validate())

	bad = DefaultSettings()
	bad.Estimators.LoadingTaskPercentile = 101
	assert.Error(t, bad.Validate())

	bad = DefaultSettings()
	bad.Estimators.ShortIdleSampleCount = 0
	assert.Error(t, bad.Validate())

	bad = DefaultSettings()
	bad.Idle.MaximumIdlePeriodMillis = 0
	assert.Error(t, bad.Validate())
}

func TestLoadSettingsRejectsInvalidValues(t *testing.T) {
	path := writeSettingsFile(t, `
[estimators]
loading_task_percentile = 150.0
`)
	_, err := LoadSettings(path)
	assert.Error(t, err)
}
