package renderscheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Settings carries every tuning knob of the scheduler. The defaults reflect
// measured behavior (loading task cost is strongly bimodal, so its estimator
// is large and pessimistic; timer tasks are steadier). All values can be
// overridden from a TOML file for experiments; what matters for correctness
// is only the monotonic relationships, not the numbers.
type Settings struct {
	Estimators EstimatorSettings `toml:"estimators"`
	Gestures   GestureSettings   `toml:"gestures"`
	Idle       IdleSettings      `toml:"idle"`
	Lifecycle  LifecycleSettings `toml:"lifecycle"`
}

// EstimatorSettings sizes the percentile ring buffers.
type EstimatorSettings struct {
	LoadingTaskSampleCount int     `toml:"loading_task_sample_count"`
	LoadingTaskPercentile  float64 `toml:"loading_task_percentile"`
	TimerTaskSampleCount   int     `toml:"timer_task_sample_count"`
	TimerTaskPercentile    float64 `toml:"timer_task_percentile"`
	ShortIdleSampleCount   int     `toml:"short_idle_sample_count"`
	ShortIdlePercentile    float64 `toml:"short_idle_percentile"`
}

// GestureSettings tunes the user input model.
type GestureSettings struct {
	// EstimationLimitMillis is how long after the last input signal a gesture
	// is still considered in progress.
	EstimationLimitMillis int `toml:"estimation_limit_ms"`

	// MedianGestureDurationMillis estimates how long a typical gesture lasts.
	MedianGestureDurationMillis int `toml:"median_gesture_duration_ms"`

	// ExpectSubsequentGestureMillis is the window after gesture activity in
	// which another gesture is predicted.
	ExpectSubsequentGestureMillis int `toml:"expect_subsequent_gesture_ms"`

	// FlingEscalationLimitMillis extends compositor priority past each
	// compositor-driven animation tick, since fling end is never signaled.
	FlingEscalationLimitMillis int `toml:"fling_escalation_limit_ms"`
}

// IdleSettings tunes the idle period scheduler.
type IdleSettings struct {
	MaximumIdlePeriodMillis         int `toml:"maximum_idle_period_ms"`
	MinimumIdlePeriodDurationMillis int `toml:"minimum_idle_period_duration_ms"`
	StarvationThresholdMillis       int `toml:"starvation_threshold_ms"`
	EndIdleWhenHiddenDelayMillis    int `toml:"end_idle_when_hidden_delay_ms"`
}

// LifecycleSettings tunes backgrounding and navigation behavior.
type LifecycleSettings struct {
	SuspendTimersWhenBackgroundedDelayMillis int `toml:"suspend_timers_when_backgrounded_delay_ms"`
	RailsInitialLoadingPrioritizationMillis  int `toml:"rails_initial_loading_prioritization_ms"`
}

// DefaultSettings returns the tuning used in production.
func DefaultSettings() Settings {
	return Settings{
		Estimators: EstimatorSettings{
			LoadingTaskSampleCount: 1000,
			LoadingTaskPercentile:  98,
			TimerTaskSampleCount:   200,
			TimerTaskPercentile:    90,
			ShortIdleSampleCount:   10,
			ShortIdlePercentile:    50,
		},
		Gestures: GestureSettings{
			EstimationLimitMillis:         100,
			MedianGestureDurationMillis:   300,
			ExpectSubsequentGestureMillis: 100,
			FlingEscalationLimitMillis:    100,
		},
		Idle: IdleSettings{
			MaximumIdlePeriodMillis:         50,
			MinimumIdlePeriodDurationMillis: 1,
			StarvationThresholdMillis:       10000,
			EndIdleWhenHiddenDelayMillis:    3000,
		},
		Lifecycle: LifecycleSettings{
			SuspendTimersWhenBackgroundedDelayMillis: 5 * 60 * 1000,
			RailsInitialLoadingPrioritizationMillis:  1000,
		},
	}
}

// LoadSettings reads a TOML file over the defaults, so partial files only
// override what they mention.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate rejects settings that would break estimator math.
func (s Settings) Validate() error {
	check := func(name string, percentile float64) error {
		if percentile <= 0 || percentile > 100 {
			return fmt.Errorf("settings: %s percentile %v out of range (0, 100]", name, percentile)
		}
		return nil
	}
	if err := check("loading task", s.Estimators.LoadingTaskPercentile); err != nil {
		return err
	}
	if err := check("timer task", s.Estimators.TimerTaskPercentile); err != nil {
		return err
	}
	if err := check("short idle", s.Estimators.ShortIdlePercentile); err != nil {
		return err
	}
	if s.Estimators.LoadingTaskSampleCount < 1 ||
		s.Estimators.TimerTaskSampleCount < 1 ||
		s.Estimators.ShortIdleSampleCount < 1 {
		return fmt.Errorf("settings: estimator sample counts must be positive")
	}
	if s.Idle.MaximumIdlePeriodMillis < 1 {
		return fmt.Errorf("settings: maximum idle period must be positive")
	}
	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (s GestureSettings) EstimationLimit() time.Duration {
	return millis(s.EstimationLimitMillis)
}

func (s GestureSettings) MedianGestureDuration() time.Duration {
	return millis(s.MedianGestureDurationMillis)
}

func (s GestureSettings) ExpectSubsequentGestureWindow() time.Duration {
	return millis(s.ExpectSubsequentGestureMillis)
}

func (s GestureSettings) FlingEscalationLimit() time.Duration {
	return millis(s.FlingEscalationLimitMillis)
}

func (s IdleSettings) MaximumIdlePeriod() time.Duration {
	return millis(s.MaximumIdlePeriodMillis)
}

func (s IdleSettings) MinimumIdlePeriodDuration() time.Duration {
	return millis(s.MinimumIdlePeriodDurationMillis)
}

func (s IdleSettings) StarvationThreshold() time.Duration {
	return millis(s.StarvationThresholdMillis)
}

func (s IdleSettings) EndIdleWhenHiddenDelay() time.Duration {
	return millis(s.EndIdleWhenHiddenDelayMillis)
}

func (s LifecycleSettings) SuspendTimersWhenBackgroundedDelay() time.Duration {
	return millis(s.SuspendTimersWhenBackgroundedDelayMillis)
}

func (s LifecycleSettings) RailsInitialLoadingPrioritization() time.Duration {
	return millis(s.RailsInitialLoadingPrioritizationMillis)
}
