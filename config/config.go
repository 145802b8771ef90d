// Package config loads the simulation host settings.
//
// Values are layered: built-in defaults, then an optional JSON file, then
// SIMHOST_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	MaxSteps     int           `json:"max_steps" env:"SIMHOST_MAX_STEPS"`
	StepInterval time.Duration `json:"-" env:"SIMHOST_STEP_INTERVAL"`
	Speed        float64       `json:"speed" env:"SIMHOST_SPEED"`
	MinSpeed     float64       `json:"min_speed" env:"SIMHOST_MIN_SPEED"`
	MaxSpeed     float64       `json:"max_speed" env:"SIMHOST_MAX_SPEED"`

	StateChannel string `json:"state_channel" env:"SIMHOST_STATE_CHANNEL"`
	StepChannel  string `json:"step_channel" env:"SIMHOST_STEP_CHANNEL"`
	ChannelsFile string `json:"channels_file" env:"SIMHOST_CHANNELS_FILE"`

	LogCapacity int    `json:"log_capacity" env:"SIMHOST_LOG_CAPACITY"`
	LogLevel    string `json:"log_level" env:"SIMHOST_LOG_LEVEL"`

	HTTPAddr string `json:"http_addr" env:"SIMHOST_HTTP_ADDR"`
	GRPCAddr string `json:"grpc_addr" env:"SIMHOST_GRPC_ADDR"`

	MQTTBroker   string `json:"mqtt_broker" env:"SIMHOST_MQTT_BROKER"`
	MQTTTopic    string `json:"mqtt_topic" env:"SIMHOST_MQTT_TOPIC"`
	MQTTClientID string `json:"mqtt_client_id" env:"SIMHOST_MQTT_CLIENT_ID"`

	OTelEndpoint string `json:"otel_endpoint" env:"SIMHOST_OTEL_ENDPOINT"`
}

// fileConfig mirrors Config for the JSON file; durations are strings there.
type fileConfig struct {
	Config
	StepInterval string `json:"step_interval"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		MaxSteps:     100,
		StepInterval: time.Second,
		Speed:        1.0,
		MinSpeed:     0.1,
		MaxSpeed:     10.0,
		StateChannel: "simulation.state_changed",
		StepChannel:  "simulation.step",
		LogCapacity:  100,
		LogLevel:     "info",
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		MQTTTopic:    "simhost/state",
		MQTTClientID: "simhost",
	}
}

// Load builds a Config from defaults, the JSON file at path (skipped when path
// is empty or the file does not exist) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults and environment", path)
		} else if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	fc := fileConfig{Config: *cfg}
	if err := json.NewDecoder(file).Decode(&fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.StepInterval != "" {
		d, err := time.ParseDuration(fc.StepInterval)
		if err != nil {
			return fmt.Errorf("parse step_interval: %w", err)
		}
		fc.Config.StepInterval = d
	}
	*cfg = fc.Config

	if cfg.ChannelsFile != "" && !filepath.IsAbs(cfg.ChannelsFile) {
		cfg.ChannelsFile = filepath.Join(filepath.Dir(path), cfg.ChannelsFile)
	}
	log.Printf("Configuration loaded from %s", path)
	return nil
}

// Validate reports settings the clock cannot run with
func (c Config) Validate() error {
	switch {
	case c.MaxSteps <= 0:
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	case c.StepInterval < 0:
		return fmt.Errorf("step interval must not be negative, got %s", c.StepInterval)
	case c.MinSpeed <= 0:
		return fmt.Errorf("min speed must be positive, got %v", c.MinSpeed)
	case c.MaxSpeed < c.MinSpeed:
		return fmt.Errorf("max speed %v is below min speed %v", c.MaxSpeed, c.MinSpeed)
	case c.LogCapacity <= 0:
		return fmt.Errorf("log capacity must be positive, got %d", c.LogCapacity)
	case c.StateChannel == "":
		return fmt.Errorf("state channel name is required")
	}
	return nil
}

// GetDefaultConfigPath returns config.json next to the executable
func GetDefaultConfigPath() string {
	execPath, err := os.Executable()
	if err != nil {
		log.Printf("Warning: Could not determine executable path: %v", err)
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}
