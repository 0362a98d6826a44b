package sensor

import (
	"time"

	"codeberg.org/mutker/simtemp/internal/errors"
)

const (
	MinSamplingMs          = 1
	MaxSamplingMs          = 10000
	DefaultSamplingMs      = 1000
	DefaultThresholdMilliC = 27000
	DefaultCapacity        = 16
)

// Config holds the tunables that callers may change at runtime.
type Config struct {
	SamplingMs      int
	ThresholdMilliC int32
	Mode            Mode
}

// DefaultConfig returns the power-on configuration.
func DefaultConfig() Config {
	return Config{
		SamplingMs:      DefaultSamplingMs,
		ThresholdMilliC: DefaultThresholdMilliC,
		Mode:            ModeNormal,
	}
}

// Interval returns the sampling interval as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.SamplingMs) * time.Millisecond
}

func (c Config) Validate() error {
	if err := validateInterval(c.SamplingMs); err != nil {
		return err
	}
	if !c.Mode.Valid() {
		return errors.New().Wrap(errors.ErrInvalidArgument,
			errors.New().WithData(errors.ErrInvalidMode, int(c.Mode)))
	}

	return nil
}

func validateInterval(ms int) error {
	if ms < MinSamplingMs || ms > MaxSamplingMs {
		return errors.New().Wrap(errors.ErrInvalidArgument,
			errors.New().WithData(errors.ErrInvalidInterval, ms))
	}

	return nil
}

// Stats are monotonically increasing counters, never reset while the core
// is alive.
type Stats struct {
	SamplesGenerated uint64 `json:"samples_generated"`
	AlertsTriggered  uint64 `json:"alerts_triggered"`
	ReadErrors       uint64 `json:"read_errors"`
	SamplesDropped   uint64 `json:"samples_dropped"`
	TickFaults       uint64 `json:"tick_faults"`
}
