package journal

import (
	"time"

	"codeberg.org/mutker/simtemp/internal/errors"
)

const (
	defaultDirPerm = 0o755

	MemoryPath = ":memory:"

	defaultBatchSize     = 8
	defaultFlushInterval = time.Second
	defaultRetention     = 1000
)

type Config struct {
	Enabled       bool
	Path          string
	BatchSize     int
	FlushInterval time.Duration
	Retention     int
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Path:          MemoryPath,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		Retention:     defaultRetention,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.Path == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize <= 0 || c.FlushInterval <= 0 || c.Retention <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize     int
			FlushInterval time.Duration
			Retention     int
		}{
			BatchSize:     c.BatchSize,
			FlushInterval: c.FlushInterval,
			Retention:     c.Retention,
		})
	}

	return nil
}

func (c Config) inMemory() bool {
	return c.Path == MemoryPath
}
