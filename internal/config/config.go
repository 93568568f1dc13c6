// Package config provides configuration management for go-echoroom
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
)

// Config is the root configuration structure
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Sonar      SonarConfig      `mapstructure:"sonar"`
	Transducer TransducerConfig `mapstructure:"transducer"`
	Aim        AimConfig        `mapstructure:"aim"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// SonarConfig configures the probe and the scan loop
type SonarConfig struct {
	SampleRate     int           `mapstructure:"sample_rate"`
	PulseDuration  time.Duration `mapstructure:"pulse_duration"`
	PulseFrequency float64       `mapstructure:"pulse_frequency"`
	Amplitude      float64       `mapstructure:"amplitude"`
	CaptureWindow  time.Duration `mapstructure:"capture_window"`
	CyclePeriod    time.Duration `mapstructure:"cycle_period"`
	SpeedOfSound   float64       `mapstructure:"speed_of_sound"`
	Directions     []string      `mapstructure:"directions"`
	CallGrace      time.Duration `mapstructure:"call_grace"`
	HistorySize    int           `mapstructure:"history_size"`
}

// TransducerConfig selects the audio backend
type TransducerConfig struct {
	Backend              string `mapstructure:"backend"` // auto, alsa, sim
	Device               string `mapstructure:"device"`
	PlaybackCmd          string `mapstructure:"playback_cmd"`
	CaptureCmd           string `mapstructure:"capture_cmd"`
	MaxConsecutiveErrors int    `mapstructure:"max_consecutive_errors"`

	// USB audio interface presence check, disabled when both are 0
	USBVendorID      int           `mapstructure:"usb_vendor_id"`
	USBProductID     int           `mapstructure:"usb_product_id"`
	USBCheckInterval time.Duration `mapstructure:"usb_check_interval"`

	Sim SimConfig `mapstructure:"sim"`
}

// SimConfig configures the simulated room
type SimConfig struct {
	Distances   map[string]float64 `mapstructure:"distances"` // meters per direction
	Attenuation float64            `mapstructure:"attenuation"`
	Realtime    bool               `mapstructure:"realtime"`
}

// AimConfig configures the optional body rotation
type AimConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	URL     string             `mapstructure:"url"`
	Timeout time.Duration      `mapstructure:"timeout"`
	Settle  time.Duration      `mapstructure:"settle"`
	Yaw     map[string]float64 `mapstructure:"yaw"` // radians per direction, empty uses quarter turns
}

// PublishConfig configures the outbound dashboard connection
type PublishConfig struct {
	URL              string        `mapstructure:"url"` // empty disables publishing
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Sonar: SonarConfig{
			SampleRate:     44100,
			PulseDuration:  50 * time.Millisecond,
			PulseFrequency: 20000,
			Amplitude:      0.5,
			CaptureWindow:  300 * time.Millisecond,
			CyclePeriod:    10 * time.Second,
			SpeedOfSound:   343.0,
			Directions:     []string{"north", "south", "east", "west"},
			CallGrace:      2 * time.Second,
			HistorySize:    100,
		},
		Transducer: TransducerConfig{
			Backend:              "auto",
			Device:               "default",
			PlaybackCmd:          "aplay",
			CaptureCmd:           "arecord",
			MaxConsecutiveErrors: 3,
			USBCheckInterval:     5 * time.Second,
			Sim: SimConfig{
				Distances:   defaultSimDistances(),
				Attenuation: 0.2,
			},
		},
		Aim: AimConfig{
			URL:     "http://localhost:8000",
			Timeout: 2 * time.Second,
			Settle:  500 * time.Millisecond,
		},
		Publish: PublishConfig{
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultSimDistances() map[string]float64 {
	return map[string]float64{
		"north": 1.8,
		"south": 1.2,
		"east":  2.5,
		"west":  1.5,
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, we have defaults. Anything else
			// (bad YAML, unreadable file) must stop startup.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("ECHOROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Sonar defaults
	v.SetDefault("sonar.sample_rate", 44100)
	v.SetDefault("sonar.pulse_duration", "50ms")
	v.SetDefault("sonar.pulse_frequency", 20000.0)
	v.SetDefault("sonar.amplitude", 0.5)
	v.SetDefault("sonar.capture_window", "300ms")
	v.SetDefault("sonar.cycle_period", "10s")
	v.SetDefault("sonar.speed_of_sound", 343.0)
	v.SetDefault("sonar.directions", []string{"north", "south", "east", "west"})
	v.SetDefault("sonar.call_grace", "2s")
	v.SetDefault("sonar.history_size", 100)

	// Transducer defaults
	v.SetDefault("transducer.backend", "auto")
	v.SetDefault("transducer.device", "default")
	v.SetDefault("transducer.playback_cmd", "aplay")
	v.SetDefault("transducer.capture_cmd", "arecord")
	v.SetDefault("transducer.max_consecutive_errors", 3)
	v.SetDefault("transducer.usb_vendor_id", 0)
	v.SetDefault("transducer.usb_product_id", 0)
	v.SetDefault("transducer.usb_check_interval", "5s")
	v.SetDefault("transducer.sim.distances", defaultSimDistances())
	v.SetDefault("transducer.sim.attenuation", 0.2)
	v.SetDefault("transducer.sim.realtime", false)

	// Aim defaults
	v.SetDefault("aim.enabled", false)
	v.SetDefault("aim.url", "http://localhost:8000")
	v.SetDefault("aim.timeout", "2s")
	v.SetDefault("aim.settle", "500ms")

	// Publish defaults
	v.SetDefault("publish.url", "")
	v.SetDefault("publish.reconnect_backoff", "1s")
	v.SetDefault("publish.max_backoff", "30s")
	v.SetDefault("publish.ping_interval", "10s")
	v.SetDefault("publish.write_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// PulseConfig returns the probe parameters
func (s SonarConfig) PulseConfig() sonar.PulseConfig {
	return sonar.PulseConfig{
		SampleRate: s.SampleRate,
		Duration:   s.PulseDuration,
		Frequency:  s.PulseFrequency,
		Amplitude:  s.Amplitude,
	}
}

// Order returns the parsed scan order
func (s SonarConfig) Order() ([]room.Direction, error) {
	return room.ParseOrder(s.Directions)
}

// SimDistances returns the simulated wall distances keyed by direction
func (s SimConfig) SimDistances() (map[room.Direction]float64, error) {
	return parseDirectionMap(s.Distances)
}

// YawMap returns the configured body yaw per direction, nil if unset
func (a AimConfig) YawMap() (map[room.Direction]float64, error) {
	if len(a.Yaw) == 0 {
		return nil, nil
	}
	return parseDirectionMap(a.Yaw)
}

func parseDirectionMap(in map[string]float64) (map[room.Direction]float64, error) {
	out := make(map[room.Direction]float64, len(in))
	for k, v := range in {
		d, err := room.ParseDirection(k)
		if err != nil {
			return nil, err
		}
		out[d] = v
	}
	return out, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	// Zero read/write timeouts mean no limit in fiber
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if c.Server.GracefulTimeout <= 0 {
		return fmt.Errorf("graceful_timeout must be positive, got %v", c.Server.GracefulTimeout)
	}

	if err := c.Sonar.PulseConfig().Validate(); err != nil {
		return fmt.Errorf("sonar: %w", err)
	}
	if _, err := c.Sonar.Order(); err != nil {
		return fmt.Errorf("sonar.directions: %w", err)
	}
	if c.Sonar.CaptureWindow <= 0 {
		return fmt.Errorf("capture_window must be positive, got %v", c.Sonar.CaptureWindow)
	}
	if c.Sonar.CyclePeriod <= 0 {
		return fmt.Errorf("cycle_period must be positive, got %v", c.Sonar.CyclePeriod)
	}
	if c.Sonar.SpeedOfSound <= 0 {
		return fmt.Errorf("speed_of_sound must be positive, got %f", c.Sonar.SpeedOfSound)
	}
	if c.Sonar.CallGrace < 0 {
		return fmt.Errorf("call_grace must not be negative, got %v", c.Sonar.CallGrace)
	}
	if c.Sonar.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative, got %d", c.Sonar.HistorySize)
	}

	switch c.Transducer.Backend {
	case "auto", "alsa", "sim":
	default:
		return fmt.Errorf("transducer.backend must be auto, alsa or sim, got %q", c.Transducer.Backend)
	}
	if !validUSBID(c.Transducer.USBVendorID) || !validUSBID(c.Transducer.USBProductID) {
		return fmt.Errorf("usb ids must be between 0 and 0xffff")
	}
	if a := c.Transducer.Sim.Attenuation; a <= 0 || a > 1 {
		return fmt.Errorf("sim attenuation must be in (0, 1], got %f", a)
	}
	if _, err := c.Transducer.Sim.SimDistances(); err != nil {
		return fmt.Errorf("transducer.sim.distances: %w", err)
	}

	if c.Aim.Enabled && c.Aim.URL == "" {
		return fmt.Errorf("aim.url is required when aim is enabled")
	}
	if _, err := c.Aim.YawMap(); err != nil {
		return fmt.Errorf("aim.yaw: %w", err)
	}

	if u := c.Publish.URL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("publish.url must be a ws:// or wss:// URL, got %q", u)
	}
	if err := c.Publish.validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

func (p PublishConfig) validate() error {
	if p.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect_backoff must be positive, got %v", p.ReconnectBackoff)
	}
	if p.MaxBackoff < p.ReconnectBackoff {
		return fmt.Errorf("max_backoff %v is below reconnect_backoff %v", p.MaxBackoff, p.ReconnectBackoff)
	}
	if p.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %v", p.PingInterval)
	}
	if p.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %v", p.WriteTimeout)
	}
	return nil
}

func validUSBID(id int) bool {
	return id >= 0 && id <= 0xffff
}
