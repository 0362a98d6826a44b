package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/sensor"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = "info"
	DefaultListen    = "127.0.0.1:8787"
	DefaultEnvPrefix = "SIMTEMP"

	configName = "simtemp"
	configType = "toml"
)

type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	BatchSize int    `mapstructure:"batch_size"`
	FlushMs   int    `mapstructure:"flush_ms"`
	Retention int    `mapstructure:"retention"`
}

type Config struct {
	SamplingMs  int           `mapstructure:"sampling_ms"`
	ThresholdMC int           `mapstructure:"threshold_mc"`
	Mode        string        `mapstructure:"mode"`
	Capacity    int           `mapstructure:"capacity"`
	LogLevel    string        `mapstructure:"log_level"`
	Listen      string        `mapstructure:"listen"`
	PIDFile     string        `mapstructure:"pid_file"`
	Journal     JournalConfig `mapstructure:"journal"`
}

// Sensor returns the runtime tunables for the sensor core.
func (c *Config) Sensor() sensor.Config {
	mode, _ := sensor.ParseMode(c.Mode)

	return sensor.Config{
		SamplingMs:      c.SamplingMs,
		ThresholdMilliC: int32(c.ThresholdMC),
		Mode:            mode,
	}
}

// Loader reads configuration from flags, environment and a TOML file, in
// that order of precedence.
type Loader struct {
	v    *viper.Viper
	opts options
	mu   sync.Mutex
}

func NewLoader(opts ...Option) (*Loader, error) {
	errFactory := errors.New()

	o := options{
		envPrefix:  DefaultEnvPrefix,
		searchDirs: []string{"/etc"},
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	return &Loader{v: viper.New(), opts: o}, nil
}

// Load parses args and returns the validated configuration.
func Load(args []string, opts ...Option) (*Config, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return nil, err
	}

	return l.Load(args)
}

func (l *Loader) Load(args []string) (*Config, error) {
	errFactory := errors.New()
	v := l.v

	fs := pflag.NewFlagSet("simtempd", pflag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	fs.Int("sampling-ms", sensor.DefaultSamplingMs, "Sampling interval in milliseconds (1-10000)")
	fs.Int("threshold-mc", sensor.DefaultThresholdMilliC, "Alert threshold in millidegrees Celsius")
	fs.String("mode", "normal", "Simulation mode: normal, noisy or ramp")
	fs.Int("capacity", sensor.DefaultCapacity, "Sample buffer depth")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.String("listen", DefaultListen, "HTTP listen address")
	fs.String("pid-file", filepath.Join(os.TempDir(), "simtempd.pid"), "PID file path")
	fs.Bool("journal", true, "Record threshold alerts in the journal")
	fs.String("journal-path", ":memory:", "Journal database path")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	bindings := map[string]string{
		"sampling_ms":     "sampling-ms",
		"threshold_mc":    "threshold-mc",
		"mode":            "mode",
		"capacity":        "capacity",
		"log_level":       "log-level",
		"listen":          "listen",
		"pid_file":        "pid-file",
		"journal.enabled": "journal",
		"journal.path":    "journal-path",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v.SetDefault("journal.batch_size", 8)
	v.SetDefault("journal.flush_ms", 1000)
	v.SetDefault("journal.retention", 1000)

	v.SetEnvPrefix(l.opts.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := l.opts.configPath
	if *configPath != "" {
		path = *configPath
	}
	if path == "" {
		path = os.Getenv(l.opts.envPrefix + "_CONFIG")
	}

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		for _, dir := range l.opts.searchDirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the configuration file whenever it changes and passes every
// valid result to callback. Invalid edits are reported to onError and the
// previous configuration stays in effect.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(_ fsnotify.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()

		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		callback(cfg)
	})
	l.v.WatchConfig()
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.SamplingMs < sensor.MinSamplingMs || c.SamplingMs > sensor.MaxSamplingMs {
		return errFactory.WithData(errors.ErrInvalidInterval, c.SamplingMs)
	}
	if c.ThresholdMC < math.MinInt32 || c.ThresholdMC > math.MaxInt32 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value int
		}{
			Field: "threshold_mc",
			Value: c.ThresholdMC,
		})
	}
	if _, err := sensor.ParseMode(c.Mode); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if c.Capacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value int
		}{
			Field: "capacity",
			Value: c.Capacity,
		})
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" || c.Journal.BatchSize <= 0 || c.Journal.FlushMs <= 0 || c.Journal.Retention <= 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, c.Journal)
		}
	}

	return nil
}
