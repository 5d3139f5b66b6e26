package host

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the deployment-tunable host settings. Values not set in the
// YAML document keep their defaults.
type Config struct {
	// EpochInterval bounds a single guest pass.
	EpochInterval time.Duration `yaml:"epoch_interval"`
	// ResumeRate caps replay re-entries per second per worker.
	ResumeRate float64 `yaml:"resume_rate"`
	// ResumeBurst is the limiter burst size.
	ResumeBurst int `yaml:"resume_burst"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		EpochInterval: time.Second,
		ResumeRate:    20,
		ResumeBurst:   5,
	}
}

// rawConfig is the YAML shape of Config. Durations are strings in Go
// duration syntax ("250ms", "1s").
type rawConfig struct {
	EpochInterval string   `yaml:"epoch_interval"`
	ResumeRate    *float64 `yaml:"resume_rate"`
	ResumeBurst   *int     `yaml:"resume_burst"`
}

// LoadConfig reads a YAML config file, overlaying the defaults. Unknown keys
// are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if raw.EpochInterval != "" {
		d, err := time.ParseDuration(raw.EpochInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse epoch_interval: %w", err)
		}
		cfg.EpochInterval = d
	}
	if raw.ResumeRate != nil {
		cfg.ResumeRate = *raw.ResumeRate
	}
	if raw.ResumeBurst != nil {
		cfg.ResumeBurst = *raw.ResumeBurst
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for internal consistency.
func (c Config) Validate() error {
	if c.EpochInterval <= 0 {
		return errors.New("epoch_interval must be positive")
	}
	if c.ResumeRate <= 0 {
		return errors.New("resume_rate must be positive")
	}
	if c.ResumeBurst <= 0 {
		return errors.New("resume_burst must be positive")
	}
	return nil
}
