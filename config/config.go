// Package config holds the runtime knobs for padctl. Defaults match the
// tuned constants of the core; a YAML file under the user config directory
// can override any of them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete padctl configuration.
type Config struct {
	Queue    QueueConfig    `mapstructure:"queue"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Device   DeviceConfig   `mapstructure:"device"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// QueueConfig sizes the event queue.
type QueueConfig struct {
	// Capacity is the ring buffer slot count, a power of two.
	Capacity int `mapstructure:"capacity"`
}

// DispatchConfig controls the dispatcher and its polling loop.
type DispatchConfig struct {
	// PollIntervalMs is the drain cadence in milliseconds.
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// MaxBatch bounds records delivered per drain pass.
	MaxBatch int `mapstructure:"max_batch"`
	// MaxCallbacks bounds the observer registry.
	MaxCallbacks int `mapstructure:"max_callbacks"`
	// FeedbackSuppression toggles UI echo filtering.
	FeedbackSuppression bool `mapstructure:"feedback_suppression"`
	// FeedbackWindowMs is the echo window in milliseconds.
	FeedbackWindowMs int `mapstructure:"feedback_window_ms"`
}

// DeviceConfig controls the hardware channel.
type DeviceConfig struct {
	// ReceiveTimeoutMs bounds one blocking receive in milliseconds.
	ReceiveTimeoutMs int `mapstructure:"receive_timeout_ms"`
	// PauseTimeoutMs bounds the batch-write pause acknowledgement wait.
	PauseTimeoutMs int `mapstructure:"pause_timeout_ms"`
}

// DebugConfig controls the debug log.
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{Capacity: 4096},
		Dispatch: DispatchConfig{
			PollIntervalMs:      1,
			MaxBatch:            32,
			MaxCallbacks:        32,
			FeedbackSuppression: true,
			FeedbackWindowMs:    50,
		},
		Device: DeviceConfig{
			ReceiveTimeoutMs: 100,
			PauseTimeoutMs:   100,
		},
		Debug: DebugConfig{Enabled: false},
	}
}

// Init registers defaults and wires the config file location. Call once
// before Load.
func Init() {
	defaults := Default()

	viper.SetDefault("queue.capacity", defaults.Queue.Capacity)
	viper.SetDefault("dispatch.poll_interval_ms", defaults.Dispatch.PollIntervalMs)
	viper.SetDefault("dispatch.max_batch", defaults.Dispatch.MaxBatch)
	viper.SetDefault("dispatch.max_callbacks", defaults.Dispatch.MaxCallbacks)
	viper.SetDefault("dispatch.feedback_suppression", defaults.Dispatch.FeedbackSuppression)
	viper.SetDefault("dispatch.feedback_window_ms", defaults.Dispatch.FeedbackWindowMs)
	viper.SetDefault("device.receive_timeout_ms", defaults.Device.ReceiveTimeoutMs)
	viper.SetDefault("device.pause_timeout_ms", defaults.Device.PauseTimeoutMs)
	viper.SetDefault("debug.enabled", defaults.Debug.Enabled)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(ConfigDir())
}

// Load reads the config file (if present) and unmarshals the result.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		// Missing file falls back to defaults; anything else is real.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	if c.Queue.Capacity <= 1 || c.Queue.Capacity&(c.Queue.Capacity-1) != 0 {
		return fmt.Errorf("config: queue.capacity must be a power of two >1, got %d", c.Queue.Capacity)
	}
	if c.Dispatch.PollIntervalMs <= 0 {
		return fmt.Errorf("config: dispatch.poll_interval_ms must be positive")
	}
	if c.Dispatch.MaxBatch <= 0 {
		return fmt.Errorf("config: dispatch.max_batch must be positive")
	}
	if c.Dispatch.MaxCallbacks <= 0 {
		return fmt.Errorf("config: dispatch.max_callbacks must be positive")
	}
	if c.Dispatch.FeedbackWindowMs < 0 {
		return fmt.Errorf("config: dispatch.feedback_window_ms must not be negative")
	}
	if c.Device.ReceiveTimeoutMs <= 0 || c.Device.PauseTimeoutMs <= 0 {
		return fmt.Errorf("config: device timeouts must be positive")
	}
	return nil
}

// PollInterval returns the drain cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMs) * time.Millisecond
}

// FeedbackWindow returns the echo window as a duration.
func (c *Config) FeedbackWindow() time.Duration {
	return time.Duration(c.Dispatch.FeedbackWindowMs) * time.Millisecond
}

// ReceiveTimeout returns the per-receive bound as a duration.
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.Device.ReceiveTimeoutMs) * time.Millisecond
}

// PauseTimeout returns the pause acknowledgement bound as a duration.
func (c *Config) PauseTimeout() time.Duration {
	return time.Duration(c.Device.PauseTimeoutMs) * time.Millisecond
}

// ConfigDir returns the padctl config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "padctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".padctl"
	}
	return filepath.Join(home, ".config", "padctl")
}
