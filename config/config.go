// Package config loads the daemon configuration from a YAML file. Every key
// is optional; missing values take the defaults and Validate clamps nonsense.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LEDs     LEDs     `yaml:"leds"`
	Muxer    Muxer    `yaml:"muxer"`
	API      API      `yaml:"api"`
	Output   Output   `yaml:"output"`
	Effects  Effects  `yaml:"effects"`
	Boblight Boblight `yaml:"boblight"`
	Grabber  Grabber  `yaml:"grabber"`
	Log      Log      `yaml:"log"`
}

type LEDs struct {
	Count int `yaml:"count"`
}

type Muxer struct {
	TickMs int `yaml:"tick_ms"`
}

type API struct {
	Listen string `yaml:"listen"`
}

type Output struct {
	// Driver selects the writer: "spi" or "none".
	Driver string `yaml:"driver"`
	Device string `yaml:"device"`
}

type Effects struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type Boblight struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`
	Priority int    `yaml:"priority"`
}

type Grabber struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
	Priority   int  `yaml:"priority"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LEDs:     LEDs{Count: 60},
		Muxer:    Muxer{TickMs: 250},
		API:      API{Listen: ":8080"},
		Output:   Output{Driver: "spi", Device: "/dev/spidev0.0"},
		Effects:  Effects{Dir: "./effects", Watch: true},
		Boblight: Boblight{Enabled: true, Listen: ":19333", Priority: 128},
		Grabber:  Grabber{Enabled: false, IntervalMs: 100, Priority: 250},
		Log:      Log{Level: "info"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate clamps values into safe ranges and rejects the unusable rest.
func (c *Config) Validate() error {
	if c.LEDs.Count <= 0 {
		c.LEDs.Count = 60
	}
	if c.Muxer.TickMs < 50 {
		c.Muxer.TickMs = 250
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	switch c.Output.Driver {
	case "spi", "none":
	case "":
		c.Output.Driver = "none"
	default:
		return fmt.Errorf("unknown output driver %q", c.Output.Driver)
	}
	if c.Effects.Dir == "" {
		c.Effects.Dir = "./effects"
	}
	if c.Boblight.Priority < 1 || c.Boblight.Priority > 254 {
		c.Boblight.Priority = 128
	}
	if c.Grabber.Priority < 1 || c.Grabber.Priority > 254 {
		c.Grabber.Priority = 250
	}
	if c.Grabber.IntervalMs < 20 {
		c.Grabber.IntervalMs = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}
