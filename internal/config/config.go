// Package config loads runtime settings for the wansim binary. It uses
// Viper to merge defaults, an optional config file, WANSIM_ environment
// variables and bound CLI flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/observability"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
	"github.com/signalsfoundry/wan-balancer-sim/model"
	"github.com/signalsfoundry/wan-balancer-sim/timectrl"
)

// EnvPrefix is prepended to every environment override, e.g.
// WANSIM_GENERATION_RATE or WANSIM_LOG_LEVEL.
const EnvPrefix = "WANSIM"

// ErrInvalid indicates a setting failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all runtime configuration.
type Config struct {
	// ── Servers ──────────────────────────────────────────────────────────────
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`

	// ScenarioPath points at a YAML scenario; empty uses the built-in one.
	ScenarioPath string `mapstructure:"scenario_path"`

	// ── Simulation ───────────────────────────────────────────────────────────
	Algorithm      string        `mapstructure:"algorithm"`
	GenerationRate float64       `mapstructure:"generation_rate"`
	TotalPackets   int           `mapstructure:"total_packets"`
	AnimationSpeed float64       `mapstructure:"animation_speed"`
	FrameInterval  time.Duration `mapstructure:"frame_interval"`
	Mode           string        `mapstructure:"mode"` // realtime | accelerated
	Seed           uint64        `mapstructure:"seed"`

	Log     LogConfig                   `mapstructure:"log"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
}

// LogConfig mirrors logging.Config for file and env loading.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so env overrides work
// even for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("scenario_path", "")

	v.SetDefault("algorithm", string(model.AlgorithmRoundRobin))
	v.SetDefault("generation_rate", 2.0)
	v.SetDefault("total_packets", 0)
	v.SetDefault("animation_speed", sim.DefaultAnimationSpeed)
	v.SetDefault("frame_interval", sim.DefaultFrameInterval)
	v.SetDefault("mode", "realtime")
	v.SetDefault("seed", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "wansim")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads wansim.yaml from configFile, or from "." and $HOME/.wansim when
// configFile is empty, then applies WANSIM_ env vars and any flags in fs
// whose names match a key (dashes map to underscores).
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("wansim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.wansim")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional unless named explicitly
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKey(v, f.Name)
			if !ok {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKey maps a flag name onto a config key: "generation-rate" becomes
// generation_rate and "log-level" becomes log.level.
func flagKey(v *viper.Viper, name string) (string, bool) {
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}
	for _, key := range []string{
		strings.ReplaceAll(name, "-", "_"),
		strings.Replace(name, "-", ".", 1),
	} {
		if known[key] {
			return key, true
		}
	}
	return "", false
}

// Validate checks value ranges and enum names.
func (c *Config) Validate() error {
	if _, err := model.ParseAlgorithm(c.Algorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := timectrl.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.GenerationRate < 0 {
		return fmt.Errorf("%w: generation_rate must be >= 0, got %v", ErrInvalid, c.GenerationRate)
	}
	if c.TotalPackets < 0 {
		return fmt.Errorf("%w: total_packets must be >= 0, got %d", ErrInvalid, c.TotalPackets)
	}
	if c.AnimationSpeed <= 0 {
		return fmt.Errorf("%w: animation_speed must be > 0, got %v", ErrInvalid, c.AnimationSpeed)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("%w: frame_interval must be > 0, got %v", ErrInvalid, c.FrameInterval)
	}
	return nil
}

// Sim converts the simulation settings into a controller config. Validate
// must have passed.
func (c *Config) Sim() sim.Config {
	algo, _ := model.ParseAlgorithm(c.Algorithm)
	mode, _ := timectrl.ParseMode(c.Mode)
	return sim.Config{
		Algorithm:      algo,
		GenerationRate: c.GenerationRate,
		TotalPackets:   c.TotalPackets,
		AnimationSpeed: c.AnimationSpeed,
		FrameInterval:  c.FrameInterval,
		Mode:           mode,
		Seed:           c.Seed,
	}
}

// Logging converts the log settings into a logging config.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
